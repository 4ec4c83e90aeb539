package qerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContract(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "read only violation",
			err:      ReadOnlyViolation(),
			expected: "Only read-only queries are allowed",
		},
		{
			name:     "multiple statements",
			err:      MultipleStatements(),
			expected: "Only a single statement is allowed",
		},
		{
			name:     "blocked table",
			err:      BlockedTable([]string{"public.schema_migrations"}),
			expected: "Query touches blocked table(s): public.schema_migrations",
		},
		{
			name:     "blocked tables joined",
			err:      BlockedTable([]string{"public.api_keys", "auth.users"}),
			expected: "Query touches blocked table(s): public.api_keys, auth.users",
		},
		{
			name:     "blocked column",
			err:      BlockedColumn("ssn"),
			expected: "Column 'ssn' is not selectable",
		},
		{
			name:     "missing variable",
			err:      MissingVariable("user_id"),
			expected: "Missing required variable: user_id",
		},
		{
			name:     "invalid value",
			err:      InvalidValue("id", "uuid", "nope", ""),
			expected: "Invalid uuid format: 'nope'",
		},
		{
			name:     "timeout",
			err:      Timeout(nil),
			expected: "SQL error: canceling statement due to user request",
		},
		{
			name:     "unknown backend",
			err:      UnknownBackend("reporting"),
			expected: "Data repo 'reporting' not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", BlockedTable([]string{"t"}))
	assert.Equal(t, KindBlockedTable, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("driver says no")
	err := Backend("SQL error: driver says no", inner)
	require.ErrorIs(t, err, inner)
	assert.Equal(t, KindBackend, KindOf(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "blocked_table", KindBlockedTable.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
