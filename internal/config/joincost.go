package config

import (
	"fmt"
	"strings"

	"github.com/example/go-unitsel/internal/cost"
)

// NormalizeJoinCost canonicalizes a join cost kind. Empty stays empty and
// keeps the voice's own choice.
func NormalizeJoinCost(raw string) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(raw))
	switch kind {
	case "":
		return "", nil
	case cost.JoinFeaturesKind, cost.JoinModelKind:
		return kind, nil
	case "feature", "distance":
		return cost.JoinFeaturesKind, nil
	case "statistical", "join-model":
		return cost.JoinModelKind, nil
	default:
		return "", fmt.Errorf(
			"invalid join cost %q (expected %s|%s)",
			raw,
			cost.JoinFeaturesKind,
			cost.JoinModelKind,
		)
	}
}
