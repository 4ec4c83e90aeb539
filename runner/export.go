package runner

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/wayli-app/lotus/query"
)

// ExportCSV writes the result as CSV: header row, standard quoting, nulls
// as empty cells, temporal values in ISO-8601.
func ExportCSV(w io.Writer, result *query.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(result.Columns); err != nil {
		return err
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i, v := range row {
			record[i] = csvCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON writes the result as a JSON array of objects keyed by column
// name, preserving nulls.
func ExportJSON(w io.Writer, result *query.Result) error {
	objects := make([]map[string]any, len(result.Rows))
	for i, row := range result.Rows {
		objects[i] = rowObject(result.Columns, row)
	}
	enc := json.NewEncoder(w)
	return enc.Encode(objects)
}

// ExportJSONL writes one JSON object per line.
func ExportJSONL(w io.Writer, result *query.Result) error {
	enc := json.NewEncoder(w)
	for _, row := range result.Rows {
		if err := enc.Encode(rowObject(result.Columns, row)); err != nil {
			return err
		}
	}
	return nil
}

func rowObject(columns []string, row []any) map[string]any {
	obj := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			obj[col] = exportValue(row[i])
		}
	}
	return obj
}

// exportValue normalizes temporal values to ISO-8601 strings.
func exportValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return v
}

func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
