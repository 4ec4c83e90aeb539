package runner

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayli-app/lotus/query"
)

func exportResult() *query.Result {
	return &query.Result{
		Columns: []string{"id", "note", "seen_at"},
		Rows: [][]any{
			{int64(1), `say "hi", ok`, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
			{int64(2), nil, nil},
		},
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, exportResult()))
	want := "id,note,seen_at\n" +
		"1,\"say \"\"hi\"\", ok\",2024-03-01T12:00:00Z\n" +
		"2,,\n"
	assert.Equal(t, want, buf.String())
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, exportResult()))
	assert.JSONEq(t, `[
		{"id": 1, "note": "say \"hi\", ok", "seen_at": "2024-03-01T12:00:00Z"},
		{"id": 2, "note": null, "seen_at": null}
	]`, buf.String())
}

func TestExportJSONEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, &query.Result{Columns: []string{"id"}}))
	assert.Equal(t, "[]\n", buf.String())
}

func TestExportJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSONL(&buf, exportResult()))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id": 1, "note": "say \"hi\", ok", "seen_at": "2024-03-01T12:00:00Z"}`, string(lines[0]))
	assert.JSONEq(t, `{"id": 2, "note": null, "seen_at": null}`, string(lines[1]))
}
