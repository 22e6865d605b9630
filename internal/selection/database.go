package selection

import (
	"fmt"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/cost"
	"github.com/example/go-unitsel/internal/features"
	"github.com/example/go-unitsel/internal/index"
	"github.com/example/go-unitsel/internal/units"
)

// Database is the read-only view of a voice used for selection.
type Database struct {
	Units    *units.File
	Vectors  []features.Vector // by unit index
	Index    *index.Tree
	Target   cost.TargetCostFunction
	LeftHalf cost.TargetCostFunction // left half-phone targets; nil means Target
	RightHalf cost.TargetCostFunction

	phone int
}

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithHalfPhoneCosts scores left and right half-phone targets with their
// own weights. The two must share a compatible definition.
func WithHalfPhoneCosts(left, right cost.TargetCostFunction) DatabaseOption {
	return func(db *Database) {
		db.LeftHalf = left
		db.RightHalf = right
	}
}

// NewDatabase checks that the parts describe the same units. phoneFeature
// names the discrete feature holding the phone symbol.
func NewDatabase(us *units.File, vectors []features.Vector, tree *index.Tree, target cost.TargetCostFunction, phoneFeature string, opts ...DatabaseOption) (*Database, error) {
	if len(vectors) != us.Len() {
		return nil, fmt.Errorf("selection: %w: %d feature vectors for %d units", binfile.ErrIncompatible, len(vectors), us.Len())
	}
	if tree.Len() != len(vectors) {
		return nil, fmt.Errorf("selection: %w: index holds %d vectors for %d units", binfile.ErrIncompatible, tree.Len(), len(vectors))
	}
	def := target.Definition()
	if err := def.CheckCompatible(tree.Definition()); err != nil {
		return nil, fmt.Errorf("selection: index: %w", err)
	}
	if phoneFeature == "" {
		phoneFeature = DefaultPhoneFeature
	}
	phone, ok := def.Index(phoneFeature)
	if !ok || def.Kind(phone) == features.KindContinuous {
		return nil, fmt.Errorf("selection: %w: no discrete phone feature %q", binfile.ErrIncompatible, phoneFeature)
	}

	db := &Database{Units: us, Vectors: vectors, Index: tree, Target: target, phone: phone}
	for _, opt := range opts {
		opt(db)
	}
	if db.LeftHalf == nil {
		db.LeftHalf = target
	}
	if db.RightHalf == nil {
		db.RightHalf = target
	}
	for _, side := range []cost.TargetCostFunction{db.LeftHalf, db.RightHalf} {
		if err := def.CheckCompatible(side.Definition()); err != nil {
			return nil, fmt.Errorf("selection: half-phone definition: %w", err)
		}
	}
	return db, nil
}

// Definition is the schema target vectors are computed under.
func (db *Database) Definition() *features.Definition { return db.Target.Definition() }

// PhoneFeature is the index of the phone feature.
func (db *Database) PhoneFeature() int { return db.phone }

// Phone returns the phone symbol of unit u.
func (db *Database) Phone(u int) string {
	name, err := db.Definition().ValueName(db.phone, db.Vectors[u].Code(db.phone))
	if err != nil {
		return ""
	}
	return name
}

// CostFor picks the target cost function of a non-diphone target.
func (db *Database) CostFor(t *Target) cost.TargetCostFunction {
	if t.Kind == KindHalfPhone {
		if t.IsLeft {
			return db.LeftHalf
		}
		return db.RightHalf
	}
	return db.Target
}
