package schema

// ObservableDescriptor identifies one schema-tagged interesting value
// surfaced to downstream correlation. Value is unset when the
// descriptor comes from the static per-class index (structure only);
// it is populated when the descriptor is emitted by the per-event
// enrichment walk.
type ObservableDescriptor struct {
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	TypeID int         `json:"type_id"`
	Value  interface{} `json:"value,omitempty"`
}

// observableTypeCaptions is the fixed OCSF "Observable Type" enum: the
// schema document's types/objects blocks record only which attribute
// types are observables and their numeric id, not the id's display
// caption, so the caption table ships as a small built-in constant
// mirroring the well-known OCSF enumeration.
var observableTypeCaptions = map[int]string{
	1:  "Hostname",
	2:  "IP Address",
	3:  "MAC Address",
	4:  "User Agent",
	5:  "URL",
	6:  "Subnet",
	7:  "Email Address",
	8:  "URL Path",
	9:  "Resource UID",
	10: "Email Address",
	20: "Process Name",
	21: "Process UID",
}

// otherObservableCaption is returned for an observable id with no
// registered caption ("type: observableTypes[id] ?? 'Other'").
const otherObservableCaption = "Other"

func observableCaption(id int) string {
	if c, ok := observableTypeCaptions[id]; ok {
		return c
	}
	return otherObservableCaption
}

// maxSelfReferenceDepth bounds how many times the same object_type name
// may recur along one recursion chain before the walk terminates, so a
// self-referential schema cannot expand without bound.
const maxSelfReferenceDepth = 2

// ObservablesForClass returns the static, value-less observable
// descriptors reachable from class-uid's attribute tree. The full
// class-uid -> descriptors map is built once, under a single guard
// shared by every class, on the first call.
func (c *Catalog) ObservablesForClass(classUID int) []ObservableDescriptor {
	c.observablesOnce.Do(func() {
		m := make(map[int][]ObservableDescriptor, len(c.byUID))
		for uid, class := range c.byUID {
			m[uid] = c.walkClassObservables(class.Attributes)
		}
		c.observablesMap = m
	})
	return c.observablesMap[classUID]
}

func (c *Catalog) walkClassObservables(attrs map[string]AttributeDef) []ObservableDescriptor {
	var out []ObservableDescriptor
	c.walkAttrsStatic(attrs, "", map[string]int{}, &out)
	return out
}

func (c *Catalog) walkAttrsStatic(attrs map[string]AttributeDef, prefix string, seen map[string]int, out *[]ObservableDescriptor) {
	for name, attr := range attrs {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		switch {
		case attr.Type == "json_t":
			continue
		case attr.Enum != nil:
			continue
		case attr.ObjectType != "":
			obj, ok := c.objects[attr.ObjectType]
			if !ok {
				continue
			}
			if seen[attr.ObjectType] >= maxSelfReferenceDepth {
				continue
			}
			if obj.Observable != nil {
				*out = append(*out, ObservableDescriptor{Name: path, Type: observableCaption(*obj.Observable), TypeID: *obj.Observable})
			}
			next := make(map[string]int, len(seen)+1)
			for k, v := range seen {
				next[k] = v
			}
			next[attr.ObjectType]++
			c.walkAttrsStatic(obj.Attributes, path, next, out)
		default:
			typ, ok := c.types[attr.Type]
			if ok && typ.Observable != nil {
				*out = append(*out, ObservableDescriptor{Name: path, Type: observableCaption(*typ.Observable), TypeID: *typ.Observable})
			}
		}
	}
}
