// Package preflight authorizes a bound statement before execution by
// asking the engine which relations it touches, then evaluating those
// relations against the visibility rules. No SQL parsing: the engine's own
// plan is the source of truth.
package preflight

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wayli-app/lotus/dialect"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/visibility"
)

// Relation is one (schema, table) pair discovered by the engine.
type Relation struct {
	Schema string
	Table  string
}

func (r Relation) String() string { return visibility.FormatRelation(r.Schema, r.Table) }

// Authorize discovers the relations sql would touch and checks each
// against rules. It returns the touched relations for the post-processor,
// or BlockedTable when any relation is denied. Discovery runs inside a
// savepoint so a failed EXPLAIN does not poison the transaction.
func Authorize(ctx context.Context, tx *sql.Tx, d dialect.Dialect, rules *visibility.Rules, sqlText string, params []any) ([]Relation, error) {
	relations, err := discover(ctx, tx, d, sqlText, params)
	if err != nil {
		return nil, err
	}

	var blocked []string
	for _, rel := range relations {
		if !rules.TableAllowed(rel.Schema, rel.Table) {
			blocked = append(blocked, rel.String())
		}
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		log.Warn().Strs("relations", blocked).Msg("preflight denied query")
		return nil, qerror.BlockedTable(blocked)
	}
	return relations, nil
}

func discover(ctx context.Context, tx *sql.Tx, d dialect.Dialect, sqlText string, params []any) ([]Relation, error) {
	switch d.Name() {
	case "postgres":
		return withSavepoint(ctx, tx, func() ([]Relation, error) {
			return discoverPostgres(ctx, tx, d, sqlText, params)
		})
	case "mysql":
		return withSavepoint(ctx, tx, func() ([]Relation, error) {
			return discoverMySQL(ctx, tx, d, sqlText, params)
		})
	case "sqlite":
		return withSavepoint(ctx, tx, func() ([]Relation, error) {
			return discoverSQLite(ctx, tx, d, sqlText, params)
		})
	default:
		return scanFromTargets(sqlText, ""), nil
	}
}

// withSavepoint confines discovery so an EXPLAIN failure (typically a
// syntax error) leaves the enclosing transaction usable.
func withSavepoint(ctx context.Context, tx *sql.Tx, fn func() ([]Relation, error)) ([]Relation, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT lotus_preflight"); err != nil {
		return nil, err
	}
	relations, err := fn()
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT lotus_preflight"); rbErr != nil {
			log.Debug().Err(rbErr).Msg("preflight savepoint rollback failed")
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT lotus_preflight"); err != nil {
		log.Debug().Err(err).Msg("preflight savepoint release failed")
	}
	return relations, nil
}

// dedupe keeps first-seen order.
func dedupe(relations []Relation) []Relation {
	seen := make(map[Relation]struct{}, len(relations))
	out := relations[:0]
	for _, r := range relations {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

var fromTargetRe = regexp.MustCompile(
	`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?)`)

// scanFromTargets is the fallback for dialects without plan introspection:
// a light scan for FROM/JOIN targets. Subqueries in other clauses escape
// it, which is why the known dialects never use it.
func scanFromTargets(sqlText, defaultSchema string) []Relation {
	var out []Relation
	for _, m := range fromTargetRe.FindAllStringSubmatch(sqlText, -1) {
		target := m[1]
		if i := strings.IndexByte(target, '.'); i >= 0 {
			out = append(out, Relation{Schema: target[:i], Table: target[i+1:]})
		} else {
			out = append(out, Relation{Schema: defaultSchema, Table: target})
		}
	}
	return dedupe(out)
}

func explainError(d dialect.Dialect, err error) error {
	return qerror.Backend(d.FormatError(err), err)
}
