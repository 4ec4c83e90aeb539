// Package query defines the request and result vocabulary shared by the
// Lotus pipeline: query specifications, variable declarations, and the
// tabular result returned to callers.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// VarType is the declared type of a statement variable.
type VarType string

const (
	TypeText     VarType = "text"
	TypeNumber   VarType = "number"
	TypeInteger  VarType = "integer"
	TypeDate     VarType = "date"
	TypeDateTime VarType = "datetime"
	TypeTime     VarType = "time"
	TypeBoolean  VarType = "boolean"
	TypeJSON     VarType = "json"
	TypeUUID     VarType = "uuid"
	TypeArray    VarType = "array"
)

// Valid reports whether t is a known variable type.
func (t VarType) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeInteger, TypeDate, TypeDateTime,
		TypeTime, TypeBoolean, TypeJSON, TypeUUID, TypeArray:
		return true
	}
	return false
}

// Variable declares a named statement variable.
type Variable struct {
	Name          string   `json:"name" mapstructure:"name"`
	Type          VarType  `json:"type" mapstructure:"type"`
	Default       any      `json:"default,omitempty" mapstructure:"default"`
	Widget        string   `json:"widget,omitempty" mapstructure:"widget"`
	StaticOptions []string `json:"static_options,omitempty" mapstructure:"static_options"`
	OptionsQuery  string   `json:"options_query,omitempty" mapstructure:"options_query"`
}

// Spec is a single query request: a statement with {{name}} placeholders,
// variable declarations, and the target backend.
type Spec struct {
	Statement  string         `json:"statement"`
	Variables  []Variable     `json:"variables,omitempty"`
	DataRepo   string         `json:"data_repo,omitempty"`
	SearchPath string         `json:"search_path,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
}

// SavedQuery is the boundary shape of a persisted query. Lotus consumes
// these values but does not own their storage.
type SavedQuery struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Statement   string     `json:"statement"`
	Variables   []Variable `json:"variables,omitempty"`
	SearchPath  string     `json:"search_path,omitempty"`
	DataRepo    string     `json:"data_repo,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// Spec converts the saved query into a runnable Spec with the given values.
func (s SavedQuery) Spec(values map[string]any) Spec {
	return Spec{
		Statement:  s.Statement,
		Variables:  s.Variables,
		DataRepo:   s.DataRepo,
		SearchPath: s.SearchPath,
		Values:     values,
	}
}

// CacheStatus reports how the result cache participated in a run.
type CacheStatus string

const (
	CacheHit     CacheStatus = "hit"
	CacheMiss    CacheStatus = "miss"
	CacheBypass  CacheStatus = "bypass"
	CacheRefresh CacheStatus = "refresh"
)

// Window is an optional pagination applied to result rows.
type Window struct {
	Offset        int    `json:"offset"`
	Limit         int    `json:"limit"`
	TotalEstimate *int64 `json:"total_estimate,omitempty"`
}

// Result is the tabular outcome of a query.
type Result struct {
	Columns     []string       `json:"columns"`
	Rows        [][]any        `json:"rows"`
	NumRows     int64          `json:"num_rows"`
	DurationMS  float64        `json:"duration_ms"`
	Command     string         `json:"command,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	Window      *Window        `json:"window,omitempty"`
	CacheStatus CacheStatus    `json:"cache_status,omitempty"`
}

var (
	identRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	varNameRe = identRe
)

// ValidIdent reports whether s is a bare SQL identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Validate checks the structural invariants of the spec: unique variable
// names, known types, and identifier-shaped search_path elements.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Statement) == "" {
		return fmt.Errorf("statement cannot be empty")
	}
	seen := make(map[string]struct{}, len(s.Variables))
	for _, v := range s.Variables {
		if !varNameRe.MatchString(v.Name) {
			return fmt.Errorf("invalid variable name: %q", v.Name)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("duplicate variable: %q", v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Type != "" && !v.Type.Valid() {
			return fmt.Errorf("unknown type %q for variable %q", v.Type, v.Name)
		}
	}
	if s.SearchPath != "" {
		for _, schema := range strings.Split(s.SearchPath, ",") {
			if !identRe.MatchString(strings.TrimSpace(schema)) {
				return fmt.Errorf("invalid search_path element: %q", schema)
			}
		}
	}
	return nil
}

// SearchPathSchemas returns the trimmed schema list from SearchPath.
func (s Spec) SearchPathSchemas() []string {
	if s.SearchPath == "" {
		return nil
	}
	parts := strings.Split(s.SearchPath, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// VariableNamed returns the declaration for name, if any.
func (s Spec) VariableNamed(name string) (Variable, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}
