package features

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-unitsel/internal/binfile"
)

// Section markers of the text schema format.
const (
	SectionByte       = "ByteValuedFeatureProcessors"
	SectionShort      = "ShortValuedFeatureProcessors"
	SectionContinuous = "ContinuousFeatureProcessors"
	SectionSimilarity = "FeatureSimilarity"
)

const weightSeparator = "|"

// ParseDefinitionText reads a text schema with weights, as used for weight
// override files. Discrete lines are "weight | name v1 v2 ...", continuous
// lines "weight func | name". Weights are normalized to sum to one.
func ParseDefinitionText(r io.Reader) (*Definition, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		lineNo++
		return strings.TrimSpace(sc.Text()), true
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("features: %w: line %d: %s", binfile.ErrFormat, lineNo, fmt.Sprintf(format, args...))
	}

	line, ok := next()
	for ok && (line == "" || strings.HasPrefix(line, "#")) {
		line, ok = next()
	}
	if !ok || line != SectionByte {
		return nil, fail("expected %q, read %q", SectionByte, line)
	}

	var byteLines, shortLines, contLines []string
	collect := func(until string, dst *[]string) error {
		for {
			l, ok := next()
			if !ok {
				return fail("unexpected end of input before %q", until)
			}
			if l == until {
				return nil
			}
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			*dst = append(*dst, l)
		}
	}
	if err := collect(SectionShort, &byteLines); err != nil {
		return nil, err
	}
	if err := collect(SectionContinuous, &shortLines); err != nil {
		return nil, err
	}
	readSimilarity := false
	for {
		l, ok := next()
		if !ok || l == "" {
			break
		}
		if l == SectionSimilarity {
			readSimilarity = true
			break
		}
		if strings.HasPrefix(l, "#") {
			continue
		}
		contLines = append(contLines, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("features: read definition text: %w", err)
	}

	var fs []Feature
	var sum float64
	parseDiscrete := func(kind Kind, l string) error {
		weightDef, def, found := strings.Cut(l, weightSeparator)
		if !found {
			return fail("weight separator %q not found in %q", weightSeparator, l)
		}
		w, err := parseWeight(weightDef)
		if err != nil {
			return fail("%v", err)
		}
		fields := strings.Fields(def)
		if len(fields) < 2 {
			return fail("feature %q lists no values", def)
		}
		fs = append(fs, Feature{Name: fields[0], Kind: kind, Weight: w, Values: fields[1:]})
		sum += float64(w)
		return nil
	}
	for _, l := range byteLines {
		if err := parseDiscrete(KindByte, l); err != nil {
			return nil, err
		}
	}
	for _, l := range shortLines {
		if err := parseDiscrete(KindShort, l); err != nil {
			return nil, err
		}
	}
	for _, l := range contLines {
		weightDef, def, found := strings.Cut(l, weightSeparator)
		if !found {
			return nil, fail("weight separator %q not found in %q", weightSeparator, l)
		}
		weightStr, fn, _ := strings.Cut(strings.TrimSpace(weightDef), " ")
		fn = strings.TrimSpace(fn)
		if fn == "" {
			return nil, fail("weight definition %q has no weight function", weightDef)
		}
		w, err := parseWeight(weightStr)
		if err != nil {
			return nil, fail("%v", err)
		}
		fields := strings.Fields(def)
		if len(fields) == 0 || len(fields) > 2 || (len(fields) == 2 && fields[1] != "float") {
			return nil, fail("malformed continuous feature %q", def)
		}
		fs = append(fs, Feature{Name: fields[0], Kind: KindContinuous, Weight: w, WeightFunc: fn})
		sum += float64(w)
	}

	if sum > 0 {
		for i := range fs {
			fs[i].Weight = float32(float64(fs[i].Weight) / sum)
		}
	}

	d, err := NewDefinition(fs)
	if err != nil {
		return nil, err
	}
	if readSimilarity {
		if err := d.readSimilarity(next, fail); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func parseWeight(s string) (float32, error) {
	w, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0, fmt.Errorf("bad weight %q", strings.TrimSpace(s))
	}
	if w < 0 {
		return 0, fmt.Errorf("negative weight %v", w)
	}
	return float32(w), nil
}

// readSimilarity parses blocks of "name v1 .. vn" followed by n rows of a
// lower-triangular matrix: row i is "vi s1 .. s(i-1)".
func (d *Definition) readSimilarity(next func() (string, bool), fail func(string, ...any) error) error {
	for {
		header, ok := next()
		if !ok || header == "" {
			return nil
		}
		fields := strings.Fields(header)
		idx, found := d.Index(fields[0])
		if !found || d.Kind(idx) != KindByte {
			return fail("similarity matrix for %q: only byte features are supported", fields[0])
		}
		values := fields[1:]
		if len(values) != d.NumValues(idx) {
			return fail("similarity matrix for %q lists %d values, feature has %d", fields[0], len(values), d.NumValues(idx))
		}
		m := make([][]float32, len(values))
		for i := range m {
			m[i] = make([]float32, len(values))
		}
		for i, value := range values {
			if _, err := d.ValueCode(idx, value); err != nil {
				return fail("similarity matrix for %q: %v", fields[0], err)
			}
			row, ok := next()
			if !ok {
				return fail("similarity matrix for %q ends early", fields[0])
			}
			cells := strings.Fields(row)
			if len(cells) != i+1 || cells[0] != value {
				return fail("similarity row %q, want value %q with %d entries", row, value, i)
			}
			for j := 1; j <= i; j++ {
				s, err := strconv.ParseFloat(cells[j], 32)
				if err != nil {
					return fail("similarity %q: %v", cells[j], err)
				}
				m[i][j-1] = float32(s)
				m[j-1][i] = float32(s)
			}
		}
		// rows are listed in the header order, which may differ from codes
		codes := make([]int, len(values))
		for i, v := range values {
			codes[i], _ = d.ValueCode(idx, v)
		}
		byCode := make([][]float32, len(values))
		for i := range byCode {
			byCode[i] = make([]float32, len(values))
		}
		for i := range m {
			for j := range m[i] {
				byCode[codes[i]][codes[j]] = m[i][j]
			}
		}
		d.similarity[idx] = byCode
	}
}

// WriteDefinitionText writes d in the text schema format. Weights are
// written as stored; ParseDefinitionText normalizes them on read.
func WriteDefinitionText(w io.Writer, d *Definition) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, SectionByte)
	for _, f := range d.features[:d.nByte] {
		fmt.Fprintf(bw, "%v | %s %s\n", f.Weight, f.Name, strings.Join(f.Values, " "))
	}
	fmt.Fprintln(bw, SectionShort)
	for _, f := range d.features[d.nByte : d.nByte+d.nShort] {
		fmt.Fprintf(bw, "%v | %s %s\n", f.Weight, f.Name, strings.Join(f.Values, " "))
	}
	fmt.Fprintln(bw, SectionContinuous)
	for _, f := range d.features[d.nByte+d.nShort:] {
		fn := f.WeightFunc
		if fn == "" {
			fn = "linear"
		}
		fmt.Fprintf(bw, "%v %s | %s\n", f.Weight, fn, f.Name)
	}
	return bw.Flush()
}
