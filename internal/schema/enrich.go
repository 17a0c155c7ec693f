package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// Enrich runs the schema enrichment walk against e, mutating it in
// place and returning it for convenience chaining. If
// class_uid is missing or unknown, e is returned unchanged: there is no
// class-def to walk with and no type_uid can be derived.
func (c *Catalog) Enrich(e types.Tree, opts types.EnrichmentOptions) types.Tree {
	classUID, ok := eventInt(e, "class_uid")
	if !ok {
		return e
	}
	class, ok := c.ClassByUID(classUID)
	if !ok {
		return e
	}

	activityID := OtherActivityID
	if v, ok := eventInt(e, "activity_id"); ok {
		activityID = v
	}
	e.Set("type_uid", classUID*100+activityID)

	var observables []ObservableDescriptor
	c.walkEvent(e, class.Attributes, "", opts, map[string]int{}, &observables)

	if opts.AddObservables && len(observables) > 0 {
		e.Set("observables", observablesToValues(observables))
	}
	return e
}

func observablesToValues(obs []ObservableDescriptor) []interface{} {
	out := make([]interface{}, len(obs))
	for i, o := range obs {
		m := types.Tree{"name": o.Name, "type": o.Type, "type_id": o.TypeID}
		if o.Value != nil {
			m["value"] = o.Value
		}
		out[i] = m
	}
	return out
}

// walkEvent applies the per-attribute branch chain (opaque, enum,
// object, array, observable) against live event data. seen counts
// object_type recursion depth along
// the current chain, guarding against self-referential schemas.
func (c *Catalog) walkEvent(tree types.Tree, attrs map[string]AttributeDef, path string, opts types.EnrichmentOptions, seen map[string]int, obs *[]ObservableDescriptor) {
	for name, value := range tree {
		attr, known := attrs[name]
		childPath := name
		if path != "" {
			childPath = path + "." + name
		}

		switch {
		case !known || attr.Type == "json_t":
			continue

		case attr.Enum != nil:
			if opts.AddEnumSiblings {
				c.applyEnumSibling(tree, name, value, attr.Enum)
			}

		case attr.ObjectType != "":
			obj, ok := c.objects[attr.ObjectType]
			if !ok {
				continue
			}
			if child, isMap := asEventTree(value); isMap {
				c.descendObject(child, obj, attr, childPath, opts, seen, obs)
			} else if elems, isArr := value.([]interface{}); isArr && attr.IsArray {
				for _, elem := range elems {
					if elemTree, ok := asEventTree(elem); ok {
						c.descendObject(elemTree, obj, attr, childPath, opts, seen, obs)
					}
				}
			}

		default:
			if opts.AddObservables {
				if typ, ok := c.types[attr.Type]; ok && typ.Observable != nil {
					*obs = append(*obs, ObservableDescriptor{Name: childPath, Type: observableCaption(*typ.Observable), TypeID: *typ.Observable, Value: value})
				}
			}
		}
	}
}

func (c *Catalog) descendObject(child types.Tree, obj ObjectDef, attr AttributeDef, childPath string, opts types.EnrichmentOptions, seen map[string]int, obs *[]ObservableDescriptor) {
	if opts.AddObservables && obj.Observable != nil {
		*obs = append(*obs, ObservableDescriptor{Name: childPath, Type: observableCaption(*obj.Observable), TypeID: *obj.Observable})
	}
	if seen[attr.ObjectType] >= maxSelfReferenceDepth {
		return
	}
	next := make(map[string]int, len(seen)+1)
	for k, v := range seen {
		next[k] = v
	}
	next[attr.ObjectType]++
	c.walkEvent(child, obj.Attributes, childPath, opts, next, obs)
}

func (c *Catalog) applyEnumSibling(tree types.Tree, name string, value interface{}, enum *EnumDef) {
	sibling := enum.Sibling
	if sibling == "" {
		if !strings.HasSuffix(name, "_id") {
			return
		}
		sibling = strings.TrimSuffix(name, "_id")
	}
	if _, exists := tree[sibling]; exists {
		return
	}
	key := fmt.Sprintf("%v", value)
	if ev, ok := enum.Values[key]; ok {
		tree[sibling] = ev.Caption
	}
}

// asEventTree normalizes a nested event value into a Tree, mirroring
// pkg/types' own Tree/map[string]interface{} duality.
func asEventTree(v interface{}) (types.Tree, bool) {
	switch m := v.(type) {
	case types.Tree:
		return m, true
	case map[string]interface{}:
		return types.Tree(m), true
	default:
		return nil, false
	}
}

// eventInt reads a dotted-path attribute and coerces it to int,
// accepting the numeric shapes encoding/json and rule coercion can
// produce.
func eventInt(t types.Tree, path string) (int, bool) {
	v, ok := t.Get(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
