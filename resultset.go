package pgscope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickchristie/pgscope/internal/format"
)

// collectRows reads all rows, decoding each value by its column type OID.
func collectRows(rows pgx.Rows) ([]string, []map[string]any, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := columnNames(fieldDescs)
	typeMap := rows.Conn().TypeMap()

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		raw := rows.RawValues()
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v, err := format.Decode(typeMap, fieldDescs[i].DataTypeOID, fieldDescs[i].Format, raw[i])
			if err != nil {
				return nil, nil, fmt.Errorf("column %q: %w", fieldDescs[i].Name, err)
			}
			row[col] = v
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, resultRows, nil
}

// columnNames returns the result column names, renaming repeats to name_2,
// name_3 and so on so no value is lost when a row becomes a JSON object.
func columnNames(fieldDescs []pgconn.FieldDescription) []string {
	taken := make(map[string]bool, len(fieldDescs))
	for _, fd := range fieldDescs {
		taken[fd.Name] = true
	}

	columns := make([]string, len(fieldDescs))
	used := make(map[string]bool, len(fieldDescs))
	for i, fd := range fieldDescs {
		name := fd.Name
		if used[name] {
			for n := 2; ; n++ {
				candidate := fd.Name + "_" + strconv.Itoa(n)
				if !taken[candidate] && !used[candidate] {
					name = candidate
					break
				}
			}
		}
		used[name] = true
		columns[i] = name
	}
	return columns
}

// truncateRows drops tail rows until the JSON array of rows is at most
// maxLen characters. It reports whether any row was dropped.
func truncateRows(rows []map[string]any, maxLen int) ([]map[string]any, bool) {
	size := 2 // []
	for i, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return rows[:i], true
		}
		rowLen := utf8.RuneCount(b)
		if i > 0 {
			rowLen++ // comma
		}
		if size+rowLen > maxLen {
			return rows[:i], true
		}
		size += rowLen
	}
	return rows, false
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
