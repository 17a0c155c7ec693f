package rules

import (
	"testing"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

func compileSingleRule(t *testing.T, entry RuleEntry) (string, op) {
	t.Helper()
	path, o, err := compileRuleEntry(entry)
	if err != nil {
		t.Fatalf("compileRuleEntry: %v", err)
	}
	return path, o
}

func TestMoveOpRelocatesAndDeletesSource(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"rawEvent": rawJSON(t, `{"@move": "message"}`)})
	in := types.Tree{"rawEvent": "hello"}
	out := types.Tree{}
	o.apply("rawEvent", in, out, nil)

	if v, _ := out.GetString("message"); v != "hello" {
		t.Fatalf("expected message=hello, got %q", v)
	}
	if _, ok := in.Get("rawEvent"); ok {
		t.Fatal("@move must delete the source path")
	}
}

func TestCopyOpKeepsSource(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"rawEvent": rawJSON(t, `{"@copy": "message"}`)})
	in := types.Tree{"rawEvent": "hello"}
	out := types.Tree{}
	o.apply("rawEvent", in, out, nil)

	if v, _ := out.GetString("message"); v != "hello" {
		t.Fatalf("expected message=hello, got %q", v)
	}
	if _, ok := in.Get("rawEvent"); !ok {
		t.Fatal("@copy must preserve the source path")
	}
}

func TestMoveOpMissingSourceWithDefault(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"x": rawJSON(t, `{"@move": {"name": "y", "default": "fallback"}}`)})
	in := types.Tree{}
	out := types.Tree{}
	o.apply("x", in, out, nil)
	if v, _ := out.GetString("y"); v != "fallback" {
		t.Fatalf("expected default value to be applied, got %q", v)
	}
}

func TestMoveOpMissingSourceNoDefaultIsNoop(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"x": rawJSON(t, `{"@move": "y"}`)})
	in := types.Tree{}
	out := types.Tree{}
	o.apply("x", in, out, nil)
	if _, ok := out.Get("y"); ok {
		t.Fatal("a missing source with no default must leave the target unset")
	}
}

func TestMoveOpIntegerCoercion(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"port": rawJSON(t, `{"@move": {"name": "net.port", "type": "integer"}}`)})
	in := types.Tree{"port": "8080"}
	out := types.Tree{}
	o.apply("port", in, out, nil)
	v, ok := out.Get("net.port")
	if !ok || v != int64(8080) {
		t.Fatalf("expected net.port=8080 (int64), got %v ok=%v", v, ok)
	}
}

func TestMoveOpRejectedCoercionTreatedAsMissing(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"port": rawJSON(t, `{"@move": {"name": "net.port", "type": "integer"}}`)})
	in := types.Tree{"port": "not-a-number"}
	out := types.Tree{}
	o.apply("port", in, out, nil)
	if _, ok := out.Get("net.port"); ok {
		t.Fatal("a rejected coercion with no default must leave the target unset")
	}
}

func TestMoveOpTimestampCoercionCanonicalMillis(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"ts": rawJSON(t, `{"@move": {"name": "time", "type": "timestamp"}}`)})

	in := types.Tree{"ts": "2024-01-15T10:30:00Z"}
	out := types.Tree{}
	o.apply("ts", in, out, nil)
	v, ok := out.Get("time")
	if !ok {
		t.Fatal("expected a coerced timestamp")
	}
	if _, isInt64 := v.(int64); !isInt64 {
		t.Fatalf("expected canonical int64 Unix-millis form, got %T", v)
	}
}

func TestMoveOpTimestampEpochSecondsVsMillisHeuristic(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"ts": rawJSON(t, `{"@move": {"name": "time", "type": "timestamp"}}`)})

	in := types.Tree{"ts": "1700000000"} // 10 digits -> seconds
	out := types.Tree{}
	o.apply("ts", in, out, nil)
	v, _ := out.Get("time")
	if v != int64(1700000000000) {
		t.Fatalf("expected 10-digit value interpreted as epoch seconds -> millis, got %v", v)
	}

	in2 := types.Tree{"ts": "1700000000000"} // 13 digits -> already millis
	out2 := types.Tree{}
	o.apply("ts", in2, out2, nil)
	v2, _ := out2.Get("time")
	if v2 != int64(1700000000000) {
		t.Fatalf("expected 13-digit value treated as already-millis, got %v", v2)
	}
}

func TestValueOpSetsLiteralUnconditionally(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"class_uid": rawJSON(t, `{"@value": 1001}`)})
	out := types.Tree{"class_uid": float64(1)}
	o.apply("class_uid", types.Tree{}, out, nil)
	v, _ := out.Get("class_uid")
	if v != float64(1001) {
		t.Fatalf("expected literal 1001 to overwrite prior value, got %v", v)
	}
}

func TestEnumOpMapsKnownValueAndFallsBackToDefault(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"severity": rawJSON(t, `{"@enum": {"name": "severity_id", "default": 0, "values": {"high": 90, "low": 10}}}`)})

	mapped := types.Tree{}
	o.apply("severity", types.Tree{"severity": "high"}, mapped, nil)
	if v, _ := mapped.Get("severity_id"); v != float64(90) {
		t.Fatalf("expected mapped enum value 90, got %v", v)
	}

	unmapped := types.Tree{}
	o.apply("severity", types.Tree{"severity": "unknown-level"}, unmapped, nil)
	if v, _ := unmapped.Get("severity_id"); v != float64(0) {
		t.Fatalf("expected default 0 for unmapped value, got %v", v)
	}
}

func TestRemoveOpDeletesSourceFromInput(t *testing.T) {
	_, o := compileSingleRule(t, RuleEntry{"debug": rawJSON(t, `{"@remove": true}`)})
	in := types.Tree{"debug": "noisy"}
	o.apply("debug", in, types.Tree{}, nil)
	if _, ok := in.Get("debug"); ok {
		t.Fatal("@remove must delete the source path from the input tree")
	}
}

func TestCompileRuleEntryRejectsUnknownOperator(t *testing.T) {
	_, _, err := compileRuleEntry(RuleEntry{"x": rawJSON(t, `{"@frobnicate": "y"}`)})
	if err == nil {
		t.Fatal("expected an error for an unrecognized rule operator")
	}
}

func rawJSON(t *testing.T, s string) []byte {
	t.Helper()
	return []byte(s)
}
