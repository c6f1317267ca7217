package curate

import (
	"strings"
	"unicode"

	"github.com/rcliao/pattern-persistence/internal/model"
)

// Rule names a curation rule.
type Rule string

const (
	RuleSelfReference Rule = "self_reference"
	RuleVague         Rule = "vague"
	RuleDuplicate     Rule = "duplicate"
)

// Rules holds the configurable inputs of the per-edge rules.
type Rules struct {
	reflexive map[string]bool
	vague     map[string]bool
}

// NewRules builds a rule set. Predicates are matched after normalization,
// so "Same As", "same-as" and "same_as" are one entry.
func NewRules(reflexivePredicates, vagueTerms []string) *Rules {
	r := &Rules{
		reflexive: make(map[string]bool, len(reflexivePredicates)),
		vague:     make(map[string]bool, len(vagueTerms)),
	}
	for _, p := range reflexivePredicates {
		if p = normalizePredicate(p); p != "" {
			r.reflexive[p] = true
		}
	}
	for _, v := range vagueTerms {
		if v = normalize(v); v != "" {
			r.vague[v] = true
		}
	}
	return r
}

// SelfReference reports whether e relates an entity to itself through a
// predicate that carries no information in that case.
func (r *Rules) SelfReference(e model.Edge) bool {
	s, o := normalize(e.Subject), normalize(e.Object)
	return s != "" && s == o && r.reflexive[normalizePredicate(e.Predicate)]
}

// Vague reports whether subject or object is a low-information reference.
// A field of two or more tokens is treated as a descriptive phrase and
// never matches.
func (r *Rules) Vague(e model.Edge) bool {
	return r.vagueField(e.Subject) || r.vagueField(e.Object)
}

func (r *Rules) vagueField(s string) bool {
	tokens := strings.Fields(s)
	switch len(tokens) {
	case 0:
		return true
	case 1:
	default:
		return false
	}
	tok := tokens[0]
	if onlyPunct(tok) {
		return true
	}
	return r.vague[strings.ToLower(strings.TrimFunc(tok, isPunct))]
}

// Check applies the self-reference and vagueness rules, in that order.
func (r *Rules) Check(e model.Edge) (Rule, bool) {
	if r.SelfReference(e) {
		return RuleSelfReference, true
	}
	if r.Vague(e) {
		return RuleVague, true
	}
	return "", false
}

// Signature is the duplicate-detection key of an edge: subject, predicate
// and object, case-folded and whitespace-collapsed.
func Signature(e model.Edge) string {
	return normalize(e.Subject) + "\x1f" + normalize(e.Predicate) + "\x1f" + normalize(e.Object)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizePredicate(p string) string {
	p = strings.NewReplacer("-", " ", "_", " ").Replace(p)
	return strings.ReplaceAll(normalize(p), " ", "_")
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func onlyPunct(s string) bool {
	for _, r := range s {
		if !isPunct(r) {
			return false
		}
	}
	return true
}
