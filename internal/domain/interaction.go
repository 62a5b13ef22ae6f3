package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Effect signs for a causal relationship. Every persisted interaction carries
// exactly one of these two values.
const (
	EffectPositive = "+"
	EffectNegative = "-"
)

// Interaction is one validated causal relationship (IV -> DV with a sign)
// extracted from a paper. Interactions are created only by the extraction
// loop after validation and are never mutated afterwards.
type Interaction struct {
	ID                  uuid.UUID
	JobID               uuid.UUID
	WorkspaceID         string
	IndependentVariable string
	DependentVariable   string
	Effect              string
	Reference           string
	DatePublished       string
	CreatedAt           time.Time
}

// positiveEffects and negativeEffects are the fixed normalization vocabulary
// for effect tokens. Tokens are compared lowercased and trimmed.
var (
	positiveEffects = map[string]struct{}{
		"+": {}, "increase": {}, "increases": {}, "increased": {},
		"up": {}, "positive": {}, "pos": {}, "inc": {},
	}
	negativeEffects = map[string]struct{}{
		"-": {}, "decrease": {}, "decreases": {}, "decreased": {},
		"down": {}, "negative": {}, "neg": {}, "dec": {},
	}
)

// NormalizeEffect maps a free-form effect token to "+" or "-".
// It returns false for any token outside the fixed vocabulary; such candidates
// must be rejected, not coerced.
func NormalizeEffect(raw string) (string, bool) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := positiveEffects[token]; ok {
		return EffectPositive, true
	}
	if _, ok := negativeEffects[token]; ok {
		return EffectNegative, true
	}
	return "", false
}

// MatchesTarget reports whether the interaction involves the target variable:
// either the independent or the dependent variable must equal it
// character-for-character. No trimming or case folding is applied; the
// extraction prompt instructs the model to reproduce the variable verbatim.
func MatchesTarget(independentVariable, dependentVariable, targetVariable string) bool {
	return independentVariable == targetVariable || dependentVariable == targetVariable
}
