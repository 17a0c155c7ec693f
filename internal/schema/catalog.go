// Package schema implements the schema catalog and enrichment walk: a
// catalog of classes, objects and
// attribute types loaded once from a single JSON document, and the
// per-event enrichment pass that derives type_uid, enum sibling
// captions, and the top-level observables list.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"
)

// OtherActivityID is the OCSF convention for an unknown/unspecified
// activity within a class (caption "Other"). It is substituted into the
// type_uid derivation whenever an event's activity_id is absent, so
// type_uid remains defined for every event whose class is known.
const OtherActivityID = 99

// EnumValue is one entry of an attribute's enum table.
type EnumValue struct {
	Caption string `json:"caption"`
}

// EnumDef is an attribute's enum block: a lookup table from stringified
// value to EnumValue, plus an optional explicit sibling attribute name.
// The JSON shape interleaves the "sibling" key with the value entries,
// so EnumDef has a custom unmarshaler to split them apart.
type EnumDef struct {
	Sibling string
	Values  map[string]EnumValue
}

// UnmarshalJSON splits the "sibling" key (a plain string) out of the
// enum object from the remaining stringified-integer keys (EnumValue
// objects).
func (e *EnumDef) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	values := make(map[string]EnumValue, len(raw))
	for key, v := range raw {
		if key == "sibling" {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("enum.sibling: %w", err)
			}
			e.Sibling = s
			continue
		}
		var ev EnumValue
		if err := json.Unmarshal(v, &ev); err != nil {
			return fmt.Errorf("enum value %q: %w", key, err)
		}
		values[key] = ev
	}
	e.Values = values
	return nil
}

// AttributeDef describes one attribute of a class-def or object-def.
type AttributeDef struct {
	Caption    string   `json:"caption"`
	Type       string   `json:"type"`
	ObjectType string   `json:"object_type"`
	IsArray    bool     `json:"is_array"`
	Enum       *EnumDef `json:"enum,omitempty"`
}

// ClassDef is one entry of the schema document's "classes" block.
type ClassDef struct {
	UID        int                     `json:"uid"`
	Caption    string                  `json:"caption"`
	Attributes map[string]AttributeDef `json:"attributes"`
}

// ObjectDef is one entry of the "objects" block. It has the same
// recursive shape as ClassDef, plus an optional observable id carried
// by the object type itself rather than by one of its attributes.
type ObjectDef struct {
	Caption    string                  `json:"caption"`
	Observable *int                    `json:"observable,omitempty"`
	Attributes map[string]AttributeDef `json:"attributes"`
}

// TypeDef is one entry of the "types" block: a scalar attribute type
// (e.g. "ip_t") that may be tagged as an observable source.
type TypeDef struct {
	Caption    string `json:"caption"`
	Observable *int   `json:"observable,omitempty"`
}

// rawDocument mirrors the schema document's top-level shape: classes
// keyed by caption, objects and types keyed by name.
type rawDocument struct {
	Classes map[string]ClassDef  `json:"classes"`
	Objects map[string]ObjectDef `json:"objects"`
	Types   map[string]TypeDef   `json:"types"`
}

// Catalog is the indexed, immutable-after-load schema catalog. It is
// safe for concurrent reads from every pipeline worker once Load
// returns.
type Catalog struct {
	byUID   map[int]ClassDef
	objects map[string]ObjectDef
	types   map[string]TypeDef

	observablesOnce sync.Once
	observablesMap  map[int][]ObservableDescriptor
}

// Load parses a schema document and indexes its classes by uid,
// objects and types by name.
func Load(data []byte) (*Catalog, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema document: %w", err)
	}

	byUID := make(map[int]ClassDef, len(doc.Classes))
	for _, c := range doc.Classes {
		byUID[c.UID] = c
	}

	return &Catalog{
		byUID:   byUID,
		objects: doc.Objects,
		types:   doc.Types,
	}, nil
}

// ClassByUID resolves a class-def by its integer uid.
func (c *Catalog) ClassByUID(uid int) (ClassDef, bool) {
	cd, ok := c.byUID[uid]
	return cd, ok
}

// ObjectByName resolves an object-def by its object_type name.
func (c *Catalog) ObjectByName(name string) (ObjectDef, bool) {
	od, ok := c.objects[name]
	return od, ok
}

// TypeByName resolves a type-def by its attribute type name (e.g.
// "ip_t").
func (c *Catalog) TypeByName(name string) (TypeDef, bool) {
	td, ok := c.types[name]
	return td, ok
}
