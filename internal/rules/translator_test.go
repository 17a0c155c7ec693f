package rules

import (
	"testing"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

func TestCompileAndTranslateEndToEnd(t *testing.T) {
	doc := []byte(`{
		"desc": "firewall deny",
		"when": "sourceType = 'demo-fw'",
		"parser": {"name": "rawEvent", "pattern": "#{host} #{action}: #{detail}", "output": "unmapped.parsed"},
		"rules": [
			{"unmapped.parsed.host": {"@move": "device.hostname"}},
			{"unmapped.parsed.action": {"@enum": {"name": "disposition_id", "default": 0, "values": {"deny": 1, "allow": 2}}}},
			{"class_uid": {"@value": 1001}}
		]
	}`)

	translator, err := Compile(doc, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	in := types.Tree{"sourceType": "demo-fw", "rawEvent": "fw01 deny: blocked outbound"}
	out, matched := translator.Translate(in)
	if !matched {
		t.Fatal("expected the guard to match")
	}
	if v, _ := out.GetString("device.hostname"); v != "fw01" {
		t.Fatalf("expected device.hostname=fw01, got %q", v)
	}
	if v, _ := out.Get("disposition_id"); v != float64(1) {
		t.Fatalf("expected disposition_id=1, got %v", v)
	}
	if v, _ := out.Get("class_uid"); v != float64(1001) {
		t.Fatalf("expected class_uid=1001, got %v", v)
	}
}

func TestTranslateGuardMismatchReturnsFalse(t *testing.T) {
	doc := []byte(`{"when": "sourceType = 'demo-fw'", "rules": [{"rawEvent": {"@move": "message"}}]}`)
	translator, err := Compile(doc, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_, matched := translator.Translate(types.Tree{"sourceType": "other-vendor"})
	if matched {
		t.Fatal("expected no match when the guard's when-expression fails")
	}
}

func TestTranslateWithoutWhenAlwaysMatches(t *testing.T) {
	doc := []byte(`{"rules": [{"rawEvent": {"@move": "message"}}]}`)
	translator, err := Compile(doc, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out, matched := translator.Translate(types.Tree{"rawEvent": "hi"})
	if !matched {
		t.Fatal("a document with no when-expression must always match")
	}
	if v, _ := out.GetString("message"); v != "hi" {
		t.Fatalf("expected message=hi, got %q", v)
	}
}

func TestStagedParserMergesIntoExistingOutputSubtree(t *testing.T) {
	doc := []byte(`{
		"parsers": [
			{"name": "rawEvent", "pattern": "ip=#{ip}", "output": "event_data"},
			{"name": "event_data.ip", "pattern": "#{ip1}.#{ip2}.#{ip3}.#{ip4}", "output": "event_data"}
		],
		"rules": [
			{"event_data.ip": {"@copy": "src.ip"}},
			{"event_data.ip1": {"@move": "src.octet1"}},
			{"event_data.ip4": {"@move": "src.octet4"}}
		]
	}`)

	translator, err := Compile(doc, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	out, matched := translator.Translate(types.Tree{"rawEvent": "ip=192.168.1.120"})
	if !matched {
		t.Fatal("expected the unconditional translator to match")
	}
	if v, _ := out.GetString("src.ip"); v != "192.168.1.120" {
		t.Fatalf("the second stage's merge must keep the first stage's ip key, got %q", v)
	}
	if v, _ := out.GetString("src.octet1"); v != "192" {
		t.Fatalf("expected octet1=192, got %q", v)
	}
	if v, _ := out.GetString("src.octet4"); v != "120" {
		t.Fatalf("expected octet4=120, got %q", v)
	}
}

func TestCompileRejectsUnknownOperatorAtLoadTime(t *testing.T) {
	doc := []byte(`{"rules": [{"rawEvent": {"@bogus": "message"}}]}`)
	if _, err := Compile(doc, nil); err == nil {
		t.Fatal("expected Compile to reject an unknown rewrite operator at load time")
	}
}

func TestCompileRejectsInvalidWhenExpression(t *testing.T) {
	doc := []byte(`{"when": "a ~ 'x'", "rules": [{"rawEvent": {"@move": "message"}}]}`)
	if _, err := Compile(doc, nil); err == nil {
		t.Fatal("expected Compile to reject an invalid when-expression at load time")
	}
}

func TestClaimedTopLevelKeysDeduplicatesTopLevelSegment(t *testing.T) {
	doc := []byte(`{"rules": [
		{"unmapped.a": {"@move": "x"}},
		{"unmapped.b": {"@move": "y"}},
		{"sourceType": {"@remove": true}}
	]}`)
	translator, err := Compile(doc, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	claimed := translator.(interface{ ClaimedTopLevelKeys() []string }).ClaimedTopLevelKeys()
	seen := map[string]bool{}
	for _, k := range claimed {
		seen[k] = true
	}
	if !seen["unmapped"] || !seen["sourceType"] {
		t.Fatalf("expected claimed keys to include unmapped and sourceType, got %v", claimed)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected deduplication of the repeated 'unmapped' top-level segment, got %v", claimed)
	}
}

func TestParseDocumentDecodesStagedParsersList(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"parsers": [{"name": "rawEvent", "regex": "^(?P<x>.+)$", "output": "out"}]}`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(doc.Parsers) != 1 || doc.Parsers[0].Name != "rawEvent" {
		t.Fatalf("unexpected parsers decode: %+v", doc.Parsers)
	}
}
