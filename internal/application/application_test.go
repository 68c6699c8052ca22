package application

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/resolver/internal/config"
	"github.com/JonMunkholm/resolver/internal/core"
	_ "github.com/JonMunkholm/resolver/internal/core/entities"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{URL: "sqlite://" + filepath.Join(dir, "resolver.db")},
		Import: config.ImportConfig{
			ExactCountThreshold: 1 << 20,
			EstimateSampleRows:  100,
			DecimalSeparator:    ".",
			FilterPublicDomains: true,
			MaxConcurrent:       1,
			MaxWaitTime:         time.Second,
			LockTTL:             time.Minute,
			StageBatchSize:      10,
			UploadDir:           filepath.Join(dir, "uploads"),
		},
	}
}

func TestOpen_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	app, err := Open(ctx, sqliteConfig(t))
	require.NoError(t, err)
	defer app.Close()
	assert.Equal(t, "sqlite", app.Driver)

	require.NoError(t, app.PutRecord(ctx, core.EntityCompany, core.Record{
		ID:       "01HZX000000000000000000001",
		TenantID: "t1",
		Name:     "Acme",
		Domains:  []string{"acme.com"},
	}))

	up, err := app.Service.SaveUpload("t1", "companies.csv", strings.NewReader("Company,Website\nAcme,acme.com\nGlobex,globex.com\n"), 0)
	require.NoError(t, err)

	_, err = app.Service.Stage(ctx, core.StageRequest{ImportID: up.ID, TenantID: "t1", FilePath: up.Path, StartRow: 1, RowCount: 10})
	require.NoError(t, err)

	summary, err := app.Service.Resolve(ctx, core.ResolveRequest{
		ImportID: up.ID,
		TenantID: "t1",
		Entity:   core.EntityCompany,
		Columns:  core.ColumnMap{"name": "Company", "domain": "Website"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Created)
}

func TestOpen_RedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sqliteConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()

	ctx := context.Background()
	app, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.Redis)

	up, err := app.Service.SaveUpload("t1", "companies.csv", strings.NewReader("Company\nAcme\n"), 0)
	require.NoError(t, err)

	_, err = app.Service.Stage(ctx, core.StageRequest{ImportID: up.ID, TenantID: "t1", FilePath: up.Path, StartRow: 1, RowCount: 10})
	require.NoError(t, err)

	// The lock is released after the chunk
	assert.False(t, mr.Exists("lock:"+core.TenantLockKey("t1")))
}

func TestOpen_Errors(t *testing.T) {
	t.Run("unsupported database", func(t *testing.T) {
		cfg := sqliteConfig(t)
		cfg.Database.URL = "mysql://db"
		_, err := Open(context.Background(), cfg)
		assert.ErrorContains(t, err, "unsupported database url")
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := sqliteConfig(t)
		cfg.Redis.URL = "redis://" + addr
		_, err := Open(context.Background(), cfg)
		assert.ErrorContains(t, err, "ping redis")
	})

	t.Run("missing public domains file", func(t *testing.T) {
		cfg := sqliteConfig(t)
		cfg.Import.PublicDomainsFile = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := Open(context.Background(), cfg)
		assert.Error(t, err)
	})
}

func TestPutRecord_UnknownEntity(t *testing.T) {
	app, err := Open(context.Background(), sqliteConfig(t))
	require.NoError(t, err)
	defer app.Close()

	err = app.PutRecord(context.Background(), "widget", core.Record{ID: "x", TenantID: "t1"})
	assert.ErrorIs(t, err, core.ErrUnknownEntity)
}
