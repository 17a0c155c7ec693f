// Package types defines the core data structures shared across the
// normalization pipeline: the Event envelope and its dotted-path tree,
// the bounded queue used between pipeline stages, and the small set of
// interfaces (Parser, Translator, Source, Sink) that let the demuxer,
// processor and rule engine compose without knowing about each other's
// concrete types.
//
// The types in this package are designed to support:
//   - An immutable Event envelope wrapping a mutable key-value tree
//   - A distinguished end-of-stream sentinel with no other equal value
//   - Lazy, non-destructive dotted-path reads/writes on nested maps
//   - Thread-safe access patterns across concurrent pipeline workers
package types

import (
	"strings"

	"github.com/google/uuid"
)

// Tree is the mutable key-value structure an Event wraps. Keys are plain
// (non-dotted) map keys at each level; dotted-path addressing is layered
// on top by Get/Set/Delete below. Values are scalars, nested Tree maps,
// or []interface{} sequences.
type Tree map[string]interface{}

// Event is an immutable envelope around a mutable Tree. Two events are
// never equal except the singleton EOS sentinel to itself: EOS is
// compared by identity (the isEOS flag), never by content.
//
// Event is deliberately a small value type: the Tree it wraps is the only
// mutable state, and callers that need isolation (fan-out to multiple
// sinks, retries) must call Clone.
type Event struct {
	ID    string
	data  Tree
	isEOS bool
}

// EOS is the end-of-stream sentinel. It carries no data and must never be
// mistaken for a normal Event: IsEOS is the only way to test for it.
var EOS = Event{isEOS: true}

// NewEvent wraps the given tree in a new Event with a fresh correlation id.
// A nil tree is replaced with an empty one so Get/Set never need a nil
// check at the call site.
func NewEvent(data Tree) Event {
	if data == nil {
		data = Tree{}
	}
	return Event{ID: uuid.NewString(), data: data}
}

// IsEOS reports whether e is the end-of-stream sentinel.
func (e Event) IsEOS() bool {
	return e.isEOS
}

// Data returns the event's underlying tree. Callers that will mutate
// nested values concurrently with another goroutine holding the same
// Event must Clone first.
func (e Event) Data() Tree {
	return e.data
}

// Clone returns a deep copy of the event's tree so it can be handed to a
// second consumer (e.g. a side-sink) without sharing mutable state across
// a queue boundary, per the concurrency model's "no shared mutable state
// crosses a queue boundary" rule.
func (e Event) Clone() Event {
	if e.isEOS {
		return EOS
	}
	return Event{ID: e.ID, data: cloneValue(e.data).(Tree)}
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Tree:
		out := make(Tree, len(val))
		for k, vv := range val {
			out[k] = cloneValue(vv)
		}
		return out
	case map[string]interface{}:
		out := make(Tree, len(val))
		for k, vv := range val {
			out[k] = cloneValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// pathSeparator is the delimiter for dotted attribute paths such as
// "event_data.ip" or "unmapped.source_type".
const pathSeparator = "."

// splitPath splits a dotted path into its segments.
func splitPath(path string) []string {
	return strings.Split(path, pathSeparator)
}

// Get reads the value at a dotted path from the tree. It returns
// (nil, false) if any intermediate segment is missing or is not itself a
// Tree.
func (t Tree) Get(path string) (interface{}, bool) {
	segs := splitPath(path)
	cur := interface{}(t)
	for i, seg := range segs {
		m, ok := asTree(cur)
		if !ok {
			return nil, false
		}
		v, found := m[seg]
		if !found {
			return nil, false
		}
		if i == len(segs)-1 {
			return v, true
		}
		cur = v
	}
	return nil, false
}

// GetString is a convenience wrapper over Get for the common case of a
// string-typed attribute (rawEvent, sourceType, tenant, ...).
func (t Tree) GetString(path string) (string, bool) {
	v, ok := t.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set writes value at a dotted path, creating intermediate Tree maps as
// needed. Set never overwrites a non-map value with a map while
// descending: if an intermediate segment already holds a non-Tree value,
// Set returns false and leaves the tree unchanged at and below that
// point.
func (t Tree) Set(path string, value interface{}) bool {
	segs := splitPath(path)
	cur := t
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = value
			return true
		}
		next, exists := cur[seg]
		if !exists {
			child := Tree{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := asTree(next)
		if !ok {
			// A non-map value already occupies this path segment; refuse
			// to clobber it with a map.
			return false
		}
		cur = child
	}
	return true
}

// Merge deep-merges other into the subtree at a dotted path, creating
// intermediate Tree maps as needed. Keys present in both sides merge
// recursively when both values are maps; otherwise the incoming value
// wins. Like Set, Merge refuses to descend through a non-map value and
// returns false in that case.
func (t Tree) Merge(path string, other Tree) bool {
	cur := t
	for _, seg := range splitPath(path) {
		next, exists := cur[seg]
		if !exists {
			child := Tree{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := asTree(next)
		if !ok {
			return false
		}
		cur = child
	}
	mergeInto(cur, other)
	return true
}

func mergeInto(dst, src Tree) {
	for k, v := range src {
		if sv, ok := asTree(v); ok {
			if dv, ok := asTree(dst[k]); ok {
				mergeInto(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// Delete removes the value at a dotted path, if present. Intermediate
// empty maps are left in place (pruning them is not required by any
// invariant and would complicate concurrent iteration elsewhere).
func (t Tree) Delete(path string) {
	segs := splitPath(path)
	cur := t
	for i, seg := range segs {
		if i == len(segs)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg]
		if !ok {
			return
		}
		child, ok := asTree(next)
		if !ok {
			return
		}
		cur = child
	}
}

// asTree normalizes the two shapes a nested map can take (our own Tree,
// or a bare map[string]interface{} produced by encoding/json.Unmarshal
// into interface{}) into a Tree.
func asTree(v interface{}) (Tree, bool) {
	switch m := v.(type) {
	case Tree:
		return m, true
	case map[string]interface{}:
		return Tree(m), true
	default:
		return nil, false
	}
}
