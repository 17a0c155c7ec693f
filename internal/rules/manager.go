package rules

import "github.com/mdzesseis/eventnorm/pkg/types"

// TranslatorsManager holds an ordered collection of Translators
// registered for one (fuzzy-matched) source type and tries them in
// registration order, returning the first one whose guard matches.
type TranslatorsManager struct {
	translators []types.Translator
}

// NewTranslatorsManager creates a manager over the given translators,
// preserving order.
func NewTranslatorsManager(translators ...types.Translator) *TranslatorsManager {
	return &TranslatorsManager{translators: append([]types.Translator{}, translators...)}
}

// Translate tries each translator in order and returns the first
// non-nil result. It returns (nil, false) if none matched.
func (m *TranslatorsManager) Translate(parsed types.Tree) (types.Tree, bool) {
	out, _, ok := m.TranslateWithClaims(parsed)
	return out, ok
}

// claimsReporter is implemented by compiledTranslator; it is kept
// unexported since it is a detail of how EventProcessor computes
// unmapped passthrough attributes, not part of the public Translator
// contract.
type claimsReporter interface {
	ClaimedTopLevelKeys() []string
}

// TranslateWithClaims behaves like Translate but additionally reports
// the top-level attribute names the winning translator's rules
// consumed, so callers can compute the unmapped-attribute set without
// re-deriving it from the rule document themselves.
func (m *TranslatorsManager) TranslateWithClaims(parsed types.Tree) (types.Tree, []string, bool) {
	for _, t := range m.translators {
		out, ok := t.Translate(parsed)
		if !ok {
			continue
		}
		var claimed []string
		if c, ok := t.(claimsReporter); ok {
			claimed = c.ClaimedTopLevelKeys()
		}
		return out, claimed, true
	}
	return nil, nil, false
}
