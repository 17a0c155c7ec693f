package rules

import (
	"testing"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

func TestCompilePredicateEmptyAlwaysMatches(t *testing.T) {
	p, err := CompilePredicate("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatal("an empty when-expression must compile to a nil (always-true) predicate")
	}
}

func TestCompilePredicateEquality(t *testing.T) {
	p, err := CompilePredicate("sourceType = 'demo-vendor'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Eval(types.Tree{"sourceType": "demo-vendor"}) {
		t.Fatal("expected match on equal value")
	}
	if p.Eval(types.Tree{"sourceType": "other"}) {
		t.Fatal("expected no match on differing value")
	}
}

func TestCompilePredicateMissingPathIsFalse(t *testing.T) {
	p, err := CompilePredicate("sourceType = 'demo-vendor'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Eval(types.Tree{}) {
		t.Fatal("a comparison against a missing path must evaluate false")
	}
}

func TestCompilePredicateNotEqualAndLike(t *testing.T) {
	neq, err := CompilePredicate("sourceType != 'demo-vendor'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if neq.Eval(types.Tree{"sourceType": "demo-vendor"}) {
		t.Fatal("!= must be false for an equal value")
	}

	like, err := CompilePredicate("rawEvent like 'error'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !like.Eval(types.Tree{"rawEvent": "fatal error occurred"}) {
		t.Fatal("like must match on substring containment")
	}
	if like.Eval(types.Tree{"rawEvent": "all clear"}) {
		t.Fatal("like must not match when the substring is absent")
	}
}

func TestCompilePredicateAndOrPrecedenceAndShortCircuit(t *testing.T) {
	p, err := CompilePredicate("a = '1' and b = '2' or c = '3'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Left-to-right evaluation: (a=1 and b=2) or c=3.
	if !p.Eval(types.Tree{"c": "3"}) {
		t.Fatal("expected the or-branch to match independently of a/b")
	}
	if p.Eval(types.Tree{"a": "1"}) {
		t.Fatal("expected no match when neither branch is fully satisfied")
	}
}

func TestCompilePredicateNotAndParentheses(t *testing.T) {
	p, err := CompilePredicate("not (a = '1' or b = '2')")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Eval(types.Tree{"a": "1"}) {
		t.Fatal("expected not() to invert the parenthesized or-expression")
	}
	if !p.Eval(types.Tree{}) {
		t.Fatal("expected not() to match when neither a nor b is present")
	}
}

func TestCompilePredicateRejectsUnknownOperator(t *testing.T) {
	if _, err := CompilePredicate("a ~ '1'"); err == nil {
		t.Fatal("expected an error for an unrecognized comparison operator")
	}
}

func TestCompilePredicateRejectsTrailingTokens(t *testing.T) {
	if _, err := CompilePredicate("a = '1' b = '2'"); err == nil {
		t.Fatal("expected an error for trailing tokens with no connective")
	}
}
