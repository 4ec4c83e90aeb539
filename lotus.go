// Package lotus is an embeddable safe-SQL gateway: it binds {{var}}
// variables into user-authored statements, enforces a read-only policy,
// checks schema/table/column visibility with the engine's own plan, runs
// the query against PostgreSQL, MySQL, or SQLite, and serves results from
// a tagged cache.
package lotus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayli-app/lotus/cache"
	"github.com/wayli-app/lotus/config"
	"github.com/wayli-app/lotus/dialect"
	"github.com/wayli-app/lotus/metrics"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/query"
	"github.com/wayli-app/lotus/runner"
	"github.com/wayli-app/lotus/schema"
	"github.com/wayli-app/lotus/visibility"
)

// Version participates in cache keys so upgrades never serve results
// cached by an older row shape.
const Version = "0.1.0"

type backend struct {
	name      string
	db        *sql.DB
	dialect   dialect.Dialect
	rules     *visibility.Rules
	inspector *schema.Inspector
	runner    *runner.Runner
}

// Gateway is the assembled pipeline over a set of configured backends.
type Gateway struct {
	cfg         *config.Config
	backends    map[string]*backend
	cache       *cache.Cache
	memory      *cache.Memory
	schemaCache *schema.Cache
	metrics     *metrics.Metrics
	cron        *cron.Cron
	tracer      trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// New opens every configured backend and assembles the pipeline. cfg must
// already be validated.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		cfg:         cfg,
		backends:    make(map[string]*backend, len(cfg.Backends)),
		schemaCache: schema.NewCache(cfg.SchemaCacheTTL),
		tracer:      otel.Tracer("github.com/wayli-app/lotus"),
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.initCache(); err != nil {
		return nil, err
	}

	for name, bc := range cfg.Backends {
		b, err := g.openBackend(name, bc)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("backend %q: %w", name, err)
		}
		g.backends[name] = b
	}

	g.startSweep()
	return g, nil
}

func (g *Gateway) openBackend(name string, bc config.BackendConfig) (*backend, error) {
	d, err := dialect.ByName(bc.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), bc.DSN)
	if err != nil {
		return nil, err
	}
	if bc.MaxConnections > 0 {
		db.SetMaxOpenConns(bc.MaxConnections)
	}
	if bc.MaxIdle > 0 {
		db.SetMaxIdleConns(bc.MaxIdle)
	}
	if bc.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(bc.MaxConnLifetime)
	}

	rules, err := config.CompileRules(bc.Dialect, g.cfg.RulesFor(name))
	if err != nil {
		db.Close()
		return nil, err
	}

	inspector := schema.NewInspector(name, db, d, rules, g.schemaCache)
	return &backend{
		name:      name,
		db:        db,
		dialect:   d,
		rules:     rules,
		inspector: inspector,
		runner: runner.New(runner.Config{
			Backend:  name,
			DB:       db,
			Dialect:  d,
			Rules:    rules,
			Resolver: inspector,
			ReadOnly: g.cfg.ReadOnly,
			Timeout:  g.cfg.QueryTimeout,
		}),
	}, nil
}

func (g *Gateway) initCache() error {
	cc := g.cfg.Cache
	profiles := make(map[string]cache.Profile, len(cc.Profiles))
	for name, p := range cc.Profiles {
		profiles[name] = cache.Profile{TTL: p.TTL, Tags: p.Tags}
	}
	opts := []cache.Option{cache.WithProfiles(profiles)}
	if cc.MaxBytes > 0 {
		opts = append(opts, cache.WithMaxBytes(cc.MaxBytes))
	}
	if cc.LockTimeout > 0 {
		opts = append(opts, cache.WithLockTimeout(cc.LockTimeout))
	}

	switch cc.Adapter {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
		})
		g.cache = cache.New(cache.NewRedis(client, cc.Namespace), opts...)
	default:
		g.memory = cache.NewMemory()
		g.cache = cache.New(g.memory, opts...)
	}
	return nil
}

// startSweep schedules the background expired-entry sweep for the memory
// adapter. Lazy expiry keeps the cache correct without it.
func (g *Gateway) startSweep() {
	if g.memory == nil || g.cfg.Cache.SweepInterval <= 0 {
		return
	}
	g.cron = cron.New()
	_, err := g.cron.AddFunc(fmt.Sprintf("@every %s", g.cfg.Cache.SweepInterval), func() {
		if removed := g.memory.Sweep(); removed > 0 {
			log.Debug().Int("removed", removed).Msg("cache sweep")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to schedule cache sweep")
		return
	}
	g.cron.Start()
}

// Close stops background work and closes every backend pool.
func (g *Gateway) Close() error {
	if g.cron != nil {
		g.cron.Stop()
	}
	var firstErr error
	for _, b := range g.backends {
		if err := b.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Gateway) backendFor(name string) (*backend, error) {
	if name == "" {
		name = g.cfg.DefaultBackend
	}
	b, ok := g.backends[name]
	if !ok {
		return nil, qerror.UnknownBackend(name)
	}
	return b, nil
}

// RunOptions tune one Gateway call.
type RunOptions struct {
	// CacheMode defaults to auto.
	CacheMode cache.Mode
	// Profile selects a named cache profile for TTL and tag defaults.
	Profile string
	// TTL overrides the cache TTL for this call.
	TTL time.Duration
	// Tags are added to the automatic repo/query tags.
	Tags []string
	// QueryID tags results of a saved query for invalidation.
	QueryID string
	Timeout time.Duration
	Window  *query.Window
}

// Run executes spec through the full pipeline, serving from the result
// cache according to the cache mode.
func (g *Gateway) Run(ctx context.Context, spec query.Spec, opts RunOptions) (*query.Result, error) {
	b, err := g.backendFor(spec.DataRepo)
	if err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "lotus.run", trace.WithAttributes(
		attribute.String("lotus.backend", b.name),
		attribute.String("lotus.cache_mode", string(g.mode(opts))),
	))
	defer span.End()

	start := time.Now()
	result, err := g.run(ctx, b, spec, opts)
	if err != nil {
		g.recordError(b.name, err)
		return nil, err
	}
	g.recordQuery(b.name, string(result.CacheStatus), time.Since(start))
	return result, nil
}

func (g *Gateway) run(ctx context.Context, b *backend, spec query.Spec, opts RunOptions) (*query.Result, error) {
	binding, err := b.runner.Binding(ctx, spec)
	if err != nil {
		return nil, err
	}

	// The cache key ignores the window: cached entries hold the full row
	// set and paging happens after decode, so every page shares one entry.
	runOpts := runner.RunOptions{Timeout: opts.Timeout}
	mode := g.mode(opts)
	if mode == cache.ModeBypass {
		runOpts.Window = opts.Window
		result, err := b.runner.RunBound(ctx, spec, binding, runOpts)
		if err != nil {
			return nil, err
		}
		result.CacheStatus = query.CacheBypass
		return result, nil
	}

	key := cache.Key(b.name, spec.SearchPath, Version, binding.SQL, binding.Params)
	ttl, tags := g.cachePolicy(b.name, opts)
	cacheOpts := cache.Options{Tags: tags, Compress: g.cfg.Cache.Compress}

	if mode == cache.ModeRefresh {
		result, err := b.runner.RunBound(ctx, spec, binding, runOpts)
		if err != nil {
			return nil, err
		}
		if encoded, err := json.Marshal(result); err == nil {
			if err := g.cache.Put(ctx, key, encoded, ttl, cacheOpts); err != nil {
				log.Warn().Err(err).Msg("cache refresh write failed")
			}
		}
		runner.ApplyWindow(result, opts.Window)
		result.CacheStatus = query.CacheRefresh
		return result, nil
	}

	encoded, hit, err := g.cache.GetOrStore(ctx, key, ttl, cacheOpts, func(ctx context.Context) ([]byte, error) {
		result, err := b.runner.RunBound(ctx, spec, binding, runOpts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return nil, err
	}
	g.recordCache(b.name, hit)

	var result query.Result
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, fmt.Errorf("corrupt cached result: %w", err)
	}
	runner.ApplyWindow(&result, opts.Window)
	if hit {
		result.CacheStatus = query.CacheHit
	} else {
		result.CacheStatus = query.CacheMiss
	}
	return &result, nil
}

// RunSaved executes a persisted query with the given values. Results are
// tagged query:<id> for targeted invalidation.
func (g *Gateway) RunSaved(ctx context.Context, sq query.SavedQuery, values map[string]any, opts RunOptions) (*query.Result, error) {
	if opts.QueryID == "" {
		opts.QueryID = sq.ID
	}
	opts.Tags = append(opts.Tags, sq.Tags...)
	return g.Run(ctx, sq.Spec(values), opts)
}

func (g *Gateway) mode(opts RunOptions) cache.Mode {
	if opts.CacheMode == "" {
		return cache.ModeAuto
	}
	return opts.CacheMode
}

// cachePolicy resolves TTL and tags from the profile, per-call overrides,
// and the automatic repo/query tags.
func (g *Gateway) cachePolicy(backendName string, opts RunOptions) (time.Duration, []string) {
	ttl := g.cfg.Cache.DefaultTTL
	var tags []string

	profileName := opts.Profile
	if profileName == "" {
		profileName = g.cfg.Cache.DefaultProfile
	}
	if profileName != "" {
		if p, ok := g.cache.Profile(profileName); ok {
			if p.TTL > 0 {
				ttl = p.TTL
			}
			tags = append(tags, p.Tags...)
		}
	}
	if opts.TTL > 0 {
		ttl = opts.TTL
	}

	tags = append(tags, "repo:"+backendName)
	if opts.QueryID != "" {
		tags = append(tags, "query:"+opts.QueryID)
	}
	tags = append(tags, opts.Tags...)
	return ttl, tags
}

// InvalidateTags drops every cached result carrying any of the tags.
func (g *Gateway) InvalidateTags(ctx context.Context, tags []string) error {
	return g.cache.InvalidateTags(ctx, tags)
}

// InvalidateRepo drops every cached result for one backend.
func (g *Gateway) InvalidateRepo(ctx context.Context, backendName string) error {
	g.schemaCache.Invalidate(backendName)
	return g.cache.InvalidateTags(ctx, []string{"repo:" + backendName})
}

// InvalidateTable drops cached schema metadata tagged with one table.
func (g *Gateway) InvalidateTable(ctx context.Context, schemaName, table string) error {
	return g.cache.InvalidateTags(ctx, []string{"table:" + schemaName + "." + table})
}

// ListSchemas enumerates visible schemas on a backend.
func (g *Gateway) ListSchemas(ctx context.Context, backendName string) ([]string, error) {
	b, err := g.backendFor(backendName)
	if err != nil {
		return nil, err
	}
	g.recordSchemaLookup(b.name, "list_schemas")

	key := cache.Key(b.name, "", Version, "schema:list_schemas", nil)
	var schemas []string
	if g.schemaGet(ctx, key, &schemas) {
		return schemas, nil
	}
	schemas, err = b.inspector.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}
	g.schemaPut(ctx, key, []string{"repo:" + b.name, "schema:list_schemas"}, schemas)
	return schemas, nil
}

// ListTables enumerates visible tables on a backend.
func (g *Gateway) ListTables(ctx context.Context, backendName string, opts schema.ListOptions) ([]schema.Table, error) {
	b, err := g.backendFor(backendName)
	if err != nil {
		return nil, err
	}
	g.recordSchemaLookup(b.name, "list_tables")

	key := cache.Key(b.name, "", Version, listTablesRequest(opts), nil)
	var tables []schema.Table
	if g.schemaGet(ctx, key, &tables) {
		return tables, nil
	}
	tables, err = b.inspector.ListTables(ctx, opts)
	if err != nil {
		return nil, err
	}
	g.schemaPut(ctx, key, []string{"repo:" + b.name, "schema:list_tables"}, tables)
	return tables, nil
}

// GetTableSchema fetches policy-filtered column metadata for one table.
func (g *Gateway) GetTableSchema(ctx context.Context, backendName, table string) ([]schema.Column, error) {
	b, err := g.backendFor(backendName)
	if err != nil {
		return nil, err
	}
	g.recordSchemaLookup(b.name, "table_schema")

	key := cache.Key(b.name, "", Version, "schema:table_schema:"+table, nil)
	var cols []schema.Column
	if g.schemaGet(ctx, key, &cols) {
		return cols, nil
	}
	cols, err = b.inspector.TableSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	tags := []string{"repo:" + b.name, "schema:table_schema", tableTag(b.dialect.Name(), table)}
	g.schemaPut(ctx, key, tags, cols)
	return cols, nil
}

// GetTableStats returns the row count for one table.
func (g *Gateway) GetTableStats(ctx context.Context, backendName, table string) (int64, error) {
	b, err := g.backendFor(backendName)
	if err != nil {
		return 0, err
	}
	g.recordSchemaLookup(b.name, "table_stats")

	key := cache.Key(b.name, "", Version, "schema:table_stats:"+table, nil)
	var count int64
	if g.schemaGet(ctx, key, &count) {
		return count, nil
	}
	count, err = b.inspector.TableStats(ctx, table)
	if err != nil {
		return 0, err
	}
	tags := []string{"repo:" + b.name, "schema:table_stats", tableTag(b.dialect.Name(), table)}
	g.schemaPut(ctx, key, tags, count)
	return count, nil
}

// listTablesRequest renders the list options into the cache key so each
// distinct request caches separately.
func listTablesRequest(opts schema.ListOptions) string {
	return fmt.Sprintf("schema:list_tables:%s|%s|%s|%t",
		opts.Schema, strings.Join(opts.Schemas, ","), opts.SearchPath, opts.IncludeViews)
}

// tableTag builds the table:<schema>.<table> invalidation tag, resolving a
// bare table name against the dialect's default schema.
func tableTag(dialectName, table string) string {
	sch, name := schema.DefaultSchema(dialectName), table
	if i := strings.IndexByte(table, '.'); i >= 0 {
		sch, name = table[:i], table[i+1:]
	}
	return "table:" + sch + "." + name
}

// schemaGet decodes a cached schema-surface result into out.
func (g *Gateway) schemaGet(ctx context.Context, key string, out any) bool {
	encoded, ok := g.cache.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(encoded, out) == nil
}

func (g *Gateway) schemaPut(ctx context.Context, key string, tags []string, v any) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := g.cfg.SchemaCacheTTL
	if ttl <= 0 {
		ttl = schema.DefaultTTL
	}
	if err := g.cache.Put(ctx, key, encoded, ttl, cache.Options{Tags: tags}); err != nil {
		log.Warn().Err(err).Msg("schema cache write failed")
	}
}

func (g *Gateway) recordQuery(backendName, status string, d time.Duration) {
	if g.metrics != nil {
		g.metrics.RecordQuery(backendName, status, d)
	}
}

func (g *Gateway) recordError(backendName string, err error) {
	if g.metrics == nil {
		return
	}
	kind := qerror.KindOf(err)
	g.metrics.RecordError(backendName, kind.String())
	if kind == qerror.KindBlockedTable {
		g.metrics.RecordPreflightDenied(backendName)
	}
}

func (g *Gateway) recordCache(backendName string, hit bool) {
	if g.metrics != nil {
		g.metrics.RecordCache(backendName, hit)
	}
}

func (g *Gateway) recordSchemaLookup(backendName, op string) {
	if g.metrics != nil {
		g.metrics.RecordSchemaLookup(backendName, op)
	}
}
