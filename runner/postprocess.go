package runner

import (
	"github.com/wayli-app/lotus/preflight"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/query"
	"github.com/wayli-app/lotus/visibility"
)

// Process applies column policies to a result, using the relations the
// preflight discovered for this query. The policy for a column is resolved
// once per query: across the touched relations the most specific rule
// wins, with earlier relations breaking ties. Error policies abort before
// any row is returned; omitted columns disappear from both the header and
// every row; masked values are rewritten in place.
func Process(rules *visibility.Rules, relations []preflight.Relation, result *query.Result) error {
	policies := make([]visibility.ColumnPolicy, len(result.Columns))
	keep := make([]bool, len(result.Columns))
	masked := false
	dropped := 0

	for i, col := range result.Columns {
		policy := resolvePolicy(rules, relations, col)
		if policy.Action == visibility.ActionError {
			return qerror.BlockedColumn(col)
		}
		policies[i] = policy
		keep[i] = policy.Action != visibility.ActionOmit
		if !keep[i] {
			dropped++
		}
		if policy.Action == visibility.ActionMask {
			masked = true
		}
	}

	if dropped == 0 && !masked {
		return nil
	}

	columns := make([]string, 0, len(result.Columns)-dropped)
	for i, col := range result.Columns {
		if keep[i] {
			columns = append(columns, col)
		}
	}

	for r, row := range result.Rows {
		out := make([]any, 0, len(columns))
		for i, v := range row {
			if !keep[i] {
				continue
			}
			out = append(out, policies[i].ApplyMask(v))
		}
		result.Rows[r] = out
	}
	result.Columns = columns
	return nil
}

// resolvePolicy picks the effective policy for col across the touched
// relations by specificity; sibling relations are consulted in discovery
// order.
func resolvePolicy(rules *visibility.Rules, relations []preflight.Relation, col string) visibility.ColumnPolicy {
	best := visibility.Allowed()
	bestTier := 0
	for _, rel := range relations {
		policy, tier := rules.ColumnPolicyWithSpecificity(rel.Schema, rel.Table, col)
		if tier > bestTier {
			best, bestTier = policy, tier
		}
	}
	if bestTier == 0 && len(relations) == 0 {
		// No relation context (constant queries): fall back to bare column
		// rules.
		return rules.ColumnPolicy("", "", col)
	}
	return best
}
