package lotus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayli-app/lotus/cache"
	"github.com/wayli-app/lotus/config"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/query"
	"github.com/wayli-app/lotus/schema"
)

func testConfig() *config.Config {
	return &config.Config{
		Backends: map[string]config.BackendConfig{
			"main": {Dialect: "sqlite", DSN: "file:lotus_test?mode=memory&cache=shared"},
		},
		DefaultBackend: "main",
		Cache: config.CacheConfig{
			Adapter:    "memory",
			DefaultTTL: time.Minute,
			Profiles: map[string]config.ProfileConfig{
				"hot": {TTL: 10 * time.Second, Tags: []string{"tier:hot"}},
			},
		},
		ReadOnly:     true,
		QueryTimeout: 5 * time.Second,
	}
}

func newGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestUnknownBackend(t *testing.T) {
	g := newGateway(t)
	_, err := g.Run(context.Background(), query.Spec{
		Statement: "SELECT 1",
		DataRepo:  "warehouse",
	}, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, qerror.KindUnknownBackend, qerror.KindOf(err))
	assert.Equal(t, "Data repo 'warehouse' not configured", err.Error())
}

func TestRunServesCachedResult(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	cached := &query.Result{
		Columns: []string{"n"},
		Rows:    [][]any{{float64(1)}},
		NumRows: 1,
		Command: "SELECT",
	}
	encoded, err := json.Marshal(cached)
	require.NoError(t, err)

	// Prime the cache under the key Run will derive; no database round
	// trip should happen on the hit.
	key := cache.Key("main", "", Version, "SELECT 1", []any(nil))
	require.NoError(t, g.cache.Put(ctx, key, encoded, time.Minute, cache.Options{}))

	result, err := g.Run(ctx, query.Spec{Statement: "SELECT 1"}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, query.CacheHit, result.CacheStatus)
	assert.Equal(t, cached.Rows, result.Rows)
}

func TestRunPagesCachedResultByWindow(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	full := &query.Result{
		Columns: []string{"n"},
		Rows:    [][]any{{float64(1)}, {float64(2)}, {float64(3)}, {float64(4)}, {float64(5)}},
		NumRows: 5,
		Command: "SELECT",
	}
	encoded, err := json.Marshal(full)
	require.NoError(t, err)

	// One cached entry serves every page: the key carries no window.
	key := cache.Key("main", "", Version, "SELECT n FROM t ORDER BY n", []any(nil))
	require.NoError(t, g.cache.Put(ctx, key, encoded, time.Minute, cache.Options{}))

	page1, err := g.Run(ctx, query.Spec{Statement: "SELECT n FROM t ORDER BY n"},
		RunOptions{Window: &query.Window{Offset: 0, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, query.CacheHit, page1.CacheStatus)
	assert.Equal(t, [][]any{{float64(1)}, {float64(2)}}, page1.Rows)

	page2, err := g.Run(ctx, query.Spec{Statement: "SELECT n FROM t ORDER BY n"},
		RunOptions{Window: &query.Window{Offset: 2, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, query.CacheHit, page2.CacheStatus)
	assert.Equal(t, [][]any{{float64(3)}, {float64(4)}}, page2.Rows)
	require.NotNil(t, page2.Window)
	require.NotNil(t, page2.Window.TotalEstimate)
	assert.Equal(t, int64(5), *page2.Window.TotalEstimate)
}

func TestListTablesServedFromCache(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	cached := []schema.Table{{Schema: "main", Name: "users"}}
	encoded, err := json.Marshal(cached)
	require.NoError(t, err)
	key := cache.Key("main", "", Version, listTablesRequest(schema.ListOptions{}), nil)
	require.NoError(t, g.cache.Put(ctx, key, encoded, time.Minute, cache.Options{}))

	tables, err := g.ListTables(ctx, "", schema.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, cached, tables)
}

func TestTableTag(t *testing.T) {
	assert.Equal(t, "table:main.users", tableTag("sqlite", "users"))
	assert.Equal(t, "table:public.users", tableTag("postgres", "users"))
	assert.Equal(t, "table:reporting.users", tableTag("postgres", "reporting.users"))
}

func TestInvalidateTableDropsCachedMetadata(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	key := cache.Key("main", "", Version, "schema:table_schema:users", nil)
	g.schemaPut(ctx, key,
		[]string{"repo:main", "schema:table_schema", tableTag("sqlite", "users")},
		[]schema.Column{{Name: "id", Type: "INTEGER"}})

	var cols []schema.Column
	require.True(t, g.schemaGet(ctx, key, &cols))
	require.NoError(t, g.InvalidateTable(ctx, "main", "users"))
	assert.False(t, g.schemaGet(ctx, key, &cols))
}

func TestCachePolicy(t *testing.T) {
	g := newGateway(t)

	t.Run("defaults", func(t *testing.T) {
		ttl, tags := g.cachePolicy("main", RunOptions{})
		assert.Equal(t, time.Minute, ttl)
		assert.Equal(t, []string{"repo:main"}, tags)
	})

	t.Run("profile and query id", func(t *testing.T) {
		ttl, tags := g.cachePolicy("main", RunOptions{Profile: "hot", QueryID: "q1", Tags: []string{"extra"}})
		assert.Equal(t, 10*time.Second, ttl)
		assert.Equal(t, []string{"tier:hot", "repo:main", "query:q1", "extra"}, tags)
	})

	t.Run("ttl override wins", func(t *testing.T) {
		ttl, _ := g.cachePolicy("main", RunOptions{Profile: "hot", TTL: time.Hour})
		assert.Equal(t, time.Hour, ttl)
	})
}

func TestInvalidateRepoDropsCachedResults(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	key := cache.Key("main", "", Version, "SELECT 1", []any(nil))
	require.NoError(t, g.cache.Put(ctx, key, []byte(`{"columns":["n"],"rows":[[1]],"num_rows":1}`),
		time.Minute, cache.Options{Tags: []string{"repo:main"}}))

	require.NoError(t, g.InvalidateRepo(ctx, "main"))
	_, ok := g.cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestModeDefaultsToAuto(t *testing.T) {
	g := newGateway(t)
	assert.Equal(t, cache.ModeAuto, g.mode(RunOptions{}))
	assert.Equal(t, cache.ModeRefresh, g.mode(RunOptions{CacheMode: cache.ModeRefresh}))
}
