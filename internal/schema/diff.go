package schema

// Diff returns the dotted paths of fields present in after but not in
// before. Merge is additive, so this is the complete change set between a
// schema and its merged successor; it exists for logging and for deciding
// whether an UpdateSchema call is needed at all.
func Diff(before, after FieldList) []string {
	return diff("", before, after)
}

func diff(prefix string, before, after FieldList) []string {
	var added []string
	for _, f := range after {
		path := prefix + f.Name
		old, ok := before.Find(f.Name)
		if !ok {
			added = append(added, path)
			continue
		}
		if f.Type == TypeRecord && old.Type == TypeRecord {
			added = append(added, diff(path+".", old.Fields, f.Fields)...)
		}
	}
	return added
}
