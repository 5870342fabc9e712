package bigquery

import (
	bq "cloud.google.com/go/bigquery"

	"github.com/hourglass-data/hourglass/internal/schema"
)

// fromBQSchema converts a client schema to the pipeline's field tree. The
// tree only distinguishes REPEATED from everything else; REQUIRED survives
// the round trip through Mode so Normalize can decide its fate.
func fromBQSchema(s bq.Schema) schema.FieldList {
	out := make(schema.FieldList, 0, len(s))
	for _, fs := range s {
		f := schema.Field{
			Name: fs.Name,
			Type: string(fs.Type),
		}
		if fs.Repeated {
			f.Mode = schema.ModeRepeated
		} else if fs.Required {
			f.Mode = "REQUIRED"
		}
		if fs.Type == bq.RecordFieldType {
			f.Fields = fromBQSchema(fs.Schema)
		}
		out = append(out, f)
	}
	return out
}

func toBQSchema(fields schema.FieldList) bq.Schema {
	out := make(bq.Schema, 0, len(fields))
	for _, f := range fields {
		fs := &bq.FieldSchema{
			Name:     f.Name,
			Type:     bq.FieldType(f.Type),
			Repeated: f.Mode == schema.ModeRepeated,
			Required: f.Mode == "REQUIRED",
		}
		if f.Type == schema.TypeRecord {
			fs.Schema = toBQSchema(f.Fields)
		}
		out = append(out, fs)
	}
	return out
}
