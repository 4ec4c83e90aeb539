package config

import (
	"fmt"

	"github.com/wayli-app/lotus/visibility"
)

// CompileRules turns the configuration rule syntax into a compiled policy
// for one backend. Patterns follow the visibility syntax: exact names,
// "/regex/", or ":all".
func CompileRules(dialect string, rc RulesConfig) (*visibility.Rules, error) {
	var rs visibility.RuleSet

	for _, s := range rc.SchemaAllow {
		p, err := visibility.ParsePattern(s)
		if err != nil {
			return nil, fmt.Errorf("schema_allow %q: %w", s, err)
		}
		rs.SchemaAllow = append(rs.SchemaAllow, p)
	}
	for _, s := range rc.SchemaDeny {
		p, err := visibility.ParsePattern(s)
		if err != nil {
			return nil, fmt.Errorf("schema_deny %q: %w", s, err)
		}
		rs.SchemaDeny = append(rs.SchemaDeny, p)
	}
	for _, s := range rc.TableAllow {
		r, err := visibility.ParseTableRule(s)
		if err != nil {
			return nil, fmt.Errorf("table_allow %q: %w", s, err)
		}
		rs.TableAllow = append(rs.TableAllow, r)
	}
	for _, s := range rc.TableDeny {
		r, err := visibility.ParseTableRule(s)
		if err != nil {
			return nil, fmt.Errorf("table_deny %q: %w", s, err)
		}
		rs.TableDeny = append(rs.TableDeny, r)
	}

	for _, cc := range rc.Columns {
		rule, err := compileColumnRule(cc)
		if err != nil {
			return nil, err
		}
		rs.Columns = append(rs.Columns, rule)
	}

	return visibility.Compile(dialect, rs), nil
}

func compileColumnRule(cc ColumnRuleConfig) (visibility.ColumnRule, error) {
	if cc.Column == "" {
		return visibility.ColumnRule{}, fmt.Errorf("column rule needs a column name")
	}

	policy := visibility.ColumnPolicy{ShowInSchema: cc.ShowInSchema}
	switch cc.Action {
	case "", "allow":
		policy.Action = visibility.ActionAllow
	case "omit":
		policy.Action = visibility.ActionOmit
	case "error":
		policy.Action = visibility.ActionError
	case "mask":
		policy.Action = visibility.ActionMask
		mask, err := compileMask(cc.Mask)
		if err != nil {
			return visibility.ColumnRule{}, fmt.Errorf("column %q: %w", cc.Column, err)
		}
		policy.Mask = mask
	default:
		return visibility.ColumnRule{}, fmt.Errorf("column %q: unknown action %q", cc.Column, cc.Action)
	}

	return visibility.ColumnRule{
		Schema: cc.Schema,
		Table:  cc.Table,
		Column: cc.Column,
		Policy: policy,
	}, nil
}

func compileMask(mc *MaskConfig) (*visibility.Mask, error) {
	if mc == nil {
		// mask without a strategy nulls the value
		return &visibility.Mask{Kind: visibility.MaskNull}, nil
	}
	switch mc.Kind {
	case "", "null":
		return &visibility.Mask{Kind: visibility.MaskNull}, nil
	case "sha256":
		return &visibility.Mask{Kind: visibility.MaskSHA256}, nil
	case "fixed":
		return &visibility.Mask{Kind: visibility.MaskFixed, Fixed: mc.Fixed}, nil
	case "partial":
		return &visibility.Mask{
			Kind:        visibility.MaskPartial,
			KeepFirst:   mc.KeepFirst,
			KeepLast:    mc.KeepLast,
			Replacement: mc.Replacement,
		}, nil
	default:
		return nil, fmt.Errorf("unknown mask kind %q", mc.Kind)
	}
}
