// Package schema models warehouse table schemas as immutable field trees
// and implements the additive merge used to evolve the daily and streaming
// tables without destroying existing columns.
package schema

// Field type and mode values as the warehouse reports them.
const (
	TypeRecord   = "RECORD"
	ModeRepeated = "REPEATED"
)

// Field is one node in a schema tree. Record-typed fields carry subfields.
type Field struct {
	Name   string    `json:"name" yaml:"name"`
	Type   string    `json:"type" yaml:"type"`
	Mode   string    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Fields FieldList `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FieldList is an ordered list of sibling fields.
type FieldList []Field

// clone returns a deep copy of the field.
func (f Field) clone() Field {
	c := f
	c.Fields = f.Fields.Clone()
	return c
}

// Clone returns a deep copy of the list. Merge and Normalize build their
// results through Clone so callers can keep using the inputs for diffing.
func (s FieldList) Clone() FieldList {
	if s == nil {
		return nil
	}
	out := make(FieldList, len(s))
	for i, f := range s {
		out[i] = f.clone()
	}
	return out
}

// Names returns the top-level field names in order.
func (s FieldList) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Find returns the field with the given name, or false.
func (s FieldList) Find(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Merge returns base + incoming, additively. Fields already in base keep
// their position, type, and mode; new fields from incoming are appended in
// incoming's order. Record-typed fields present in both are merged
// recursively on their subfield trees. Neither input is modified.
//
// Merge(s, s) == s for any s, and every field present in either input is
// present in the result.
func Merge(base, incoming FieldList) FieldList {
	merged := base.Clone()

	index := make(map[string]int, len(merged))
	for i, f := range merged {
		index[f.Name] = i
	}

	for _, in := range incoming {
		i, ok := index[in.Name]
		if !ok {
			merged = append(merged, in.clone())
			index[in.Name] = len(merged) - 1
			continue
		}
		if in.Type == TypeRecord && merged[i].Type == TypeRecord {
			merged[i].Fields = Merge(merged[i].Fields, in.Fields)
		}
	}

	return merged
}

// Normalize returns a copy of the schema with every mode removed except
// where it is exactly REPEATED. The streaming writer defaults all columns
// to nullable; carrying a REQUIRED mode forward would impose a spurious
// constraint on tables the merge later updates.
func Normalize(s FieldList) FieldList {
	out := make(FieldList, len(s))
	for i, f := range s {
		c := f.clone()
		if c.Mode != ModeRepeated {
			c.Mode = ""
		}
		if c.Type == TypeRecord {
			c.Fields = Normalize(c.Fields)
		}
		out[i] = c
	}
	return out
}
