package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVars(t *testing.T) {
	values, err := parseVars([]string{"name=ann", "q=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":  "ann",
		"q":     "a=b",
		"empty": "",
	}, values)
}

func TestParseVarsInvalid(t *testing.T) {
	_, err := parseVars([]string{"noequals"})
	assert.Error(t, err)

	_, err = parseVars([]string{"=value"})
	assert.Error(t, err)
}

func TestParseVarsEmpty(t *testing.T) {
	values, err := parseVars(nil)
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestCellString(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "", cellString(nil))
	assert.Equal(t, "hello", cellString("hello"))
	assert.Equal(t, "42", cellString(int64(42)))
	assert.Equal(t, "2024-03-01T12:00:00Z", cellString(ts))
	assert.Equal(t, `{"a":1}`, cellString(map[string]any{"a": 1}))
}
