// Package runner executes one query end to end: bind, validate, open a
// scoped read-only session, preflight-authorize, run, post-process. It is
// the only place driver errors are translated into the error taxonomy.
package runner

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wayli-app/lotus/bind"
	"github.com/wayli-app/lotus/dialect"
	"github.com/wayli-app/lotus/preflight"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/query"
	"github.com/wayli-app/lotus/sqlcheck"
	"github.com/wayli-app/lotus/visibility"
)

// DefaultTimeout is the per-query deadline when the caller sets none.
const DefaultTimeout = 5 * time.Second

// Runner executes queries against one configured backend.
type Runner struct {
	backend  string
	db       *sql.DB
	dialect  dialect.Dialect
	rules    *visibility.Rules
	resolver bind.TypeResolver
	readOnly bool
	timeout  time.Duration
}

// Config assembles a runner.
type Config struct {
	Backend  string
	DB       *sql.DB
	Dialect  dialect.Dialect
	Rules    *visibility.Rules
	Resolver bind.TypeResolver
	// ReadOnly enables the deny-list validator and the engine read-only
	// session flag. Disabling it is an explicit opt-in.
	ReadOnly bool
	Timeout  time.Duration
}

// New builds a runner from cfg.
func New(cfg Config) *Runner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		backend:  cfg.Backend,
		db:       cfg.DB,
		dialect:  cfg.Dialect,
		rules:    cfg.Rules,
		resolver: cfg.Resolver,
		readOnly: cfg.ReadOnly,
		timeout:  timeout,
	}
}

// RunOptions tune one execution.
type RunOptions struct {
	// Timeout overrides the runner default for this call.
	Timeout time.Duration
	// Window pages the post-processed rows.
	Window *query.Window
}

// Binding precomputes the executable form of a spec, for callers that
// need the bound SQL before running (cache key derivation).
func (r *Runner) Binding(ctx context.Context, spec query.Spec) (*bind.Binding, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return bind.Bind(ctx, r.dialect, spec, r.resolver)
}

// Run executes spec and returns its post-processed result.
func (r *Runner) Run(ctx context.Context, spec query.Spec) (*query.Result, error) {
	return r.RunWith(ctx, spec, RunOptions{})
}

// RunWith is Run with per-call options. The §4.7 sequence is strict:
// validation happens before any connection is opened, and session state is
// restored on every exit path.
func (r *Runner) RunWith(ctx context.Context, spec query.Spec, opts RunOptions) (*query.Result, error) {
	b, err := r.Binding(ctx, spec)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, spec, b, opts)
}

// RunBound executes a binding computed earlier with Binding, for callers
// that derive a cache key from the bound SQL first.
func (r *Runner) RunBound(ctx context.Context, spec query.Spec, b *bind.Binding, opts RunOptions) (*query.Result, error) {
	return r.execute(ctx, spec, b, opts)
}

func (r *Runner) execute(ctx context.Context, spec query.Spec, b *bind.Binding, opts RunOptions) (*query.Result, error) {
	if r.readOnly {
		if err := sqlcheck.Validate(b.SQL); err != nil {
			return nil, err
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, r.translate(err)
	}
	defer conn.Close()

	session := dialect.SessionOptions{
		Timeout:    timeout,
		SearchPath: spec.SearchPathSchemas(),
		ReadOnly:   r.readOnly,
	}
	snap, err := r.dialect.SessionSetup(ctx, conn, session)
	if err != nil {
		return nil, r.translate(err)
	}
	defer func() {
		// Restore must outlive the query deadline or a timed-out run would
		// leak session state into the pool.
		restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer restoreCancel()
		if err := r.dialect.SessionRestore(restoreCtx, conn, snap); err != nil {
			log.Error().Err(err).Str("backend", r.backend).Msg("session restore failed")
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.translate(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := r.dialect.TxSetup(ctx, tx, session); err != nil {
		return nil, r.translate(err)
	}

	relations, err := preflight.Authorize(ctx, tx, r.dialect, r.rules, b.SQL, b.Params)
	if err != nil {
		if qerror.KindOf(err) != qerror.KindUnknown {
			return nil, err
		}
		return nil, r.translate(err)
	}

	result, err := r.fetch(ctx, tx, b)
	if err != nil {
		return nil, r.translate(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, r.translate(err)
	}
	committed = true

	if err := Process(r.rules, relations, result); err != nil {
		return nil, err
	}
	ApplyWindow(result, opts.Window)

	result.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	return result, nil
}

func (r *Runner) fetch(ctx context.Context, tx *sql.Tx, b *bind.Binding) (*query.Result, error) {
	rows, err := tx.QueryContext(ctx, b.SQL, b.Params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &query.Result{Columns: cols, Rows: [][]any{}, Command: "SELECT"}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.NumRows = int64(len(result.Rows))
	return result, nil
}

// translate maps driver errors onto the taxonomy. Timeouts (engine-side
// cancellation or a blown context deadline) collapse into the uniform
// canceling-statement message.
func (r *Runner) translate(err error) error {
	if qerror.KindOf(err) != qerror.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || r.dialect.IsTimeout(err) {
		return qerror.Timeout(err)
	}
	return qerror.Backend(r.dialect.FormatError(err), err)
}

// normalizeValue makes scanned values JSON-friendly: byte slices become
// strings (drivers return text columns as []byte).
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// ApplyWindow pages rows in place and records the window on the result.
// Callers that cache the full result apply the window after decode so one
// cached entry serves every page.
func ApplyWindow(result *query.Result, w *query.Window) {
	if w == nil {
		return
	}
	total := int64(len(result.Rows))
	offset := w.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(result.Rows) {
		offset = len(result.Rows)
	}
	rows := result.Rows[offset:]
	if w.Limit > 0 && w.Limit < len(rows) {
		rows = rows[:w.Limit]
	}
	result.Rows = rows
	result.NumRows = int64(len(rows))
	result.Window = &query.Window{Offset: w.Offset, Limit: w.Limit, TotalEstimate: &total}
}
