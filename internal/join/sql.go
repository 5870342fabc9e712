package join

import (
	"fmt"
	"strings"
)

// decoratedSource renders the time-bounded slice of the streaming source in
// the legacy dialect, the only one that accepts table decorators.
func (p *Plan) decoratedSource() string {
	return fmt.Sprintf("[%s@%d-%d]", p.Source, p.SourceStartMS, p.SourceEndMS)
}

func (p *Plan) moduleList() string {
	quoted := make([]string, len(p.FragmentModules))
	for i, m := range p.FragmentModules {
		quoted[i] = "'" + m + "'"
	}
	return strings.Join(quoted, ", ")
}

// FragmentFilterSQL renders the stage that copies the fragmenting-module
// slice of the source into the scratch table. Legacy dialect.
func (p *Plan) FragmentFilterSQL() string {
	return fmt.Sprintf(`SELECT *
FROM %s
WHERE end_time >= %d AND end_time < %d
      AND module_id IN (%s)
`, p.decoratedSource(), p.WindowStart, p.WindowEnd, p.moduleList())
}

// SimpleSQL renders the passthrough stage for simple modules, whose rows
// already represent one request each. Legacy dialect.
func (p *Plan) SimpleSQL() string {
	return fmt.Sprintf(`SELECT *
FROM %s
WHERE end_time >= %d AND end_time < %d
      AND module_id NOT IN (%s)
`, p.decoratedSource(), p.WindowStart, p.WindowEnd, p.moduleList())
}

// MergeSQL renders the reassembly of the fragmenting-module slice into one
// row per request. Standard dialect, reading the scratch table filled by
// FragmentFilterSQL; standard SQL cannot read decorated tables directly,
// which is why the filter stage is separate.
func (p *Plan) MergeSQL() string {
	temp := p.FragmentTemp.Dataset + "." + p.FragmentTemp.Table

	var b strings.Builder
	b.WriteString("WITH\n\n")

	// Request-log rows lack a thread id.
	fmt.Fprintf(&b, `-- One row per request, straight from the request-log.
request AS (
    SELECT %s
    FROM %s
    WHERE (request_id != "null" AND request_id IS NOT NULL)
          AND (thread_id = "null" OR thread_id IS NULL)
),

`, strings.Join(p.Fields.Request, ", "), temp)

	fmt.Fprintf(&b, `-- App-log fragments carry a thread id.
app_log AS (
    SELECT *
    FROM %s
    WHERE thread_id != "null" AND thread_id IS NOT NULL
),

`, temp)

	fmt.Fprintf(&b, `-- The fragment that links a thread id to its request id.
link_line AS (
    SELECT thread_id, request_id
    FROM app_log
    WHERE request_id != "null" AND request_id IS NOT NULL
),

`)

	if len(p.Fields.Derived) > 0 {
		fmt.Fprintf(&b, `-- The fragment carrying the derived scalar fields.
derived_line AS (
    SELECT %s, thread_id
    FROM app_log
    WHERE %s IS NOT NULL
),

`, strings.Join(p.Fields.Derived, ", "), p.Fields.Marker)
	}

	for _, ea := range p.Fields.EventArrays {
		fmt.Fprintf(&b, `%s_line AS (
    SELECT %s, thread_id
    FROM app_log
    WHERE %s[SAFE_OFFSET(0)] IS NOT NULL
),

`, ea, ea, ea)
	}

	// Aggregate all fragments of a thread, then pivot to the request id
	// via the link fragment.
	b.WriteString("joined_fragments AS (\n    SELECT ARRAY_CONCAT_AGG(app_log.app_logs) AS app_logs")
	for _, d := range p.Fields.Derived {
		fmt.Fprintf(&b, ",\n           ANY_VALUE(derived_line.%s) AS %s", d, d)
	}
	for _, ea := range p.Fields.EventArrays {
		fmt.Fprintf(&b, ",\n           ANY_VALUE(%s_line.%s) AS %s", ea, ea, ea)
	}
	b.WriteString(",\n           link_line.request_id AS request_id\n")
	b.WriteString("    FROM link_line\n    LEFT OUTER JOIN app_log\n    USING (thread_id)\n")
	if len(p.Fields.Derived) > 0 {
		b.WriteString("    LEFT OUTER JOIN derived_line\n    USING (thread_id)\n")
	}
	for _, ea := range p.Fields.EventArrays {
		fmt.Fprintf(&b, "    LEFT OUTER JOIN %s_line\n    USING (thread_id)\n", ea)
	}
	b.WriteString("    GROUP BY link_line.request_id\n)\n\n")

	b.WriteString(`SELECT *
FROM request
LEFT OUTER JOIN joined_fragments
USING (request_id)
`)

	return b.String()
}
