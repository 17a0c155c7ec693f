package types

import "testing"

func TestEOSIsDistinguishedFromAnyNormalEvent(t *testing.T) {
	if !EOS.IsEOS() {
		t.Fatal("EOS.IsEOS() must be true")
	}
	e := NewEvent(Tree{"foo": "bar"})
	if e.IsEOS() {
		t.Fatal("a normal event must never report IsEOS() true")
	}
	if EOS.Clone().IsEOS() != true {
		t.Fatal("cloning EOS must still be EOS")
	}
}

func TestNewEventAssignsDistinctIDsAndReplacesNilData(t *testing.T) {
	a := NewEvent(nil)
	b := NewEvent(nil)
	if a.ID == "" || b.ID == "" {
		t.Fatal("NewEvent must assign a non-empty correlation id")
	}
	if a.ID == b.ID {
		t.Fatal("two events must not share a correlation id")
	}
	if a.Data() == nil {
		t.Fatal("NewEvent(nil) must produce a non-nil tree")
	}
}

func TestCloneIsolatesNestedMutableState(t *testing.T) {
	original := NewEvent(Tree{
		"unmapped": Tree{"tenant": "acme"},
		"list":     []interface{}{1, 2, 3},
	})
	clone := original.Clone()

	clone.Data().Set("unmapped.tenant", "other")
	clone.Data().Set("list", append(clone.Data()["list"].([]interface{}), 4))

	tenant, _ := original.Data().GetString("unmapped.tenant")
	if tenant != "acme" {
		t.Fatalf("mutating the clone's nested tree must not affect the original, got tenant=%q", tenant)
	}
	if len(original.Data()["list"].([]interface{})) != 3 {
		t.Fatal("mutating the clone's slice must not affect the original's slice")
	}
	if clone.ID != original.ID {
		t.Fatal("Clone must preserve the correlation id")
	}
}

func TestTreeGetSetDottedPath(t *testing.T) {
	tree := Tree{}
	if !tree.Set("event_data.source.ip", "10.0.0.1") {
		t.Fatal("Set on an empty tree must succeed")
	}
	v, ok := tree.GetString("event_data.source.ip")
	if !ok || v != "10.0.0.1" {
		t.Fatalf("expected event_data.source.ip=10.0.0.1, got %q ok=%v", v, ok)
	}
	if _, ok := tree.Get("event_data.source.port"); ok {
		t.Fatal("Get on a missing path must report not-found")
	}
}

func TestTreeSetRefusesToClobberNonMapValue(t *testing.T) {
	tree := Tree{"unmapped": "not-a-map"}
	if tree.Set("unmapped.tenant", "acme") {
		t.Fatal("Set must refuse to descend through a non-map intermediate value")
	}
	if v := tree["unmapped"]; v != "not-a-map" {
		t.Fatalf("tree must be left unchanged, got %v", v)
	}
}

func TestTreeGetAcceptsPlainJSONDecodedMaps(t *testing.T) {
	tree := Tree{"unmapped": map[string]interface{}{"tenant": "acme"}}
	v, ok := tree.GetString("unmapped.tenant")
	if !ok || v != "acme" {
		t.Fatalf("Get must traverse a bare map[string]interface{} the same as a Tree, got %q ok=%v", v, ok)
	}
}

func TestTreeMergePreservesExistingSiblings(t *testing.T) {
	tree := Tree{"event_data": Tree{"ip": "192.168.1.120"}}
	if !tree.Merge("event_data", Tree{"ip1": "192", "ip2": "168"}) {
		t.Fatal("Merge into an existing map must succeed")
	}
	if v, _ := tree.GetString("event_data.ip"); v != "192.168.1.120" {
		t.Fatalf("Merge must not discard sibling keys already present, got ip=%q", v)
	}
	if v, _ := tree.GetString("event_data.ip1"); v != "192" {
		t.Fatalf("expected merged key ip1=192, got %q", v)
	}
}

func TestTreeMergeRecursesIntoSharedSubtrees(t *testing.T) {
	tree := Tree{"a": Tree{"b": Tree{"x": 1}}}
	tree.Merge("a", Tree{"b": Tree{"y": 2}, "c": 3})
	if _, ok := tree.Get("a.b.x"); !ok {
		t.Fatal("recursive merge must keep existing nested keys")
	}
	if v, _ := tree.Get("a.b.y"); v != 2 {
		t.Fatalf("expected a.b.y=2, got %v", v)
	}
	if v, _ := tree.Get("a.c"); v != 3 {
		t.Fatalf("expected a.c=3, got %v", v)
	}
}

func TestTreeMergeRefusesToDescendThroughNonMap(t *testing.T) {
	tree := Tree{"a": "scalar"}
	if tree.Merge("a.b", Tree{"x": 1}) {
		t.Fatal("Merge must refuse to descend through a non-map intermediate value")
	}
}

func TestTreeDeleteRemovesLeafOnly(t *testing.T) {
	tree := Tree{"unmapped": Tree{"tenant": "acme", "sourceType": "demo"}}
	tree.Delete("unmapped.tenant")
	if _, ok := tree.Get("unmapped.tenant"); ok {
		t.Fatal("deleted path must no longer be found")
	}
	if _, ok := tree.Get("unmapped.sourceType"); !ok {
		t.Fatal("Delete must not remove sibling keys")
	}
}

func TestTreeDeleteOnMissingPathIsNoop(t *testing.T) {
	tree := Tree{"a": Tree{"b": 1}}
	tree.Delete("a.c.d")
	if len(tree["a"].(Tree)) != 1 {
		t.Fatal("Delete on a missing nested path must not mutate the tree")
	}
}
