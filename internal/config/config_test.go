package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8686", c.EndpointAddr)
	assert.Equal(t, "sqlite3", c.StoreDriver)
	assert.Equal(t, "contentsync.db", c.DatabaseDSN)
	assert.Equal(t, int64(1), c.NodeID)
	require.Len(t, c.Nodes, 1)
	assert.Equal(t, "main", c.Nodes[0].Name)
	assert.Equal(t, "fs", c.AssetBackend)
	assert.Equal(t, 10*time.Minute, c.RequestTimeout)
	assert.Equal(t, 1, c.Workers)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	c := LoadConfig()

	require.NotNil(t, c)
	assert.Equal(t, ":8686", c.EndpointAddr)
	assert.Equal(t, "sqlite3", c.StoreDriver)
	assert.Equal(t, 10*time.Minute, c.RequestTimeout)
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{
		"endpoint_addr":    "127.0.0.1:9090",
		"store_driver":     "pgx",
		"database_dsn":     "postgres://localhost/sync",
		"node_id":          2,
		"translation_tool": "polylang",
		"asset_backend":    "s3",
		"secret_key":       "filekey",
		"request_timeout":  "45s",
		"workers":          4,
		"s3_bucket":        "media",
		"nodes": []map[string]any{
			{"id": 1, "name": "alpha", "site_url": "https://one.local"},
			{"id": 2, "name": "beta", "site_url": "https://two.local"},
		},
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "127.0.0.1:9090", cfg.EndpointAddr)
		assert.Equal(t, "pgx", cfg.StoreDriver)
		assert.Equal(t, "postgres://localhost/sync", cfg.DatabaseDSN)
		assert.Equal(t, int64(2), cfg.NodeID)
		assert.Equal(t, "polylang", cfg.TranslationTool)
		assert.Equal(t, "s3", cfg.AssetBackend)
		assert.Equal(t, "filekey", cfg.SecretKey)
		assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, "media", cfg.S3Bucket)
		require.Len(t, cfg.Nodes, 2)
		assert.Equal(t, "beta", cfg.Nodes[1].Name)
	})

	t.Run("absent fields keep defaults", func(t *testing.T) {
		partial := writeTempJSON(t, map[string]any{"endpoint_addr": ":7000"})
		os.Args = []string{"testbin", "-c", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, ":7000", cfg.EndpointAddr)
		assert.Equal(t, "sqlite3", cfg.StoreDriver)
		assert.Equal(t, 10*time.Minute, cfg.RequestTimeout)
	})

	t.Run("no config flag leaves everything", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{EndpointAddr: ":1234"}
		parseJson(cfg)

		assert.Equal(t, ":1234", cfg.EndpointAddr)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ not json`), 0o600))
		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"cmd",
		"-a", "127.0.0.1:9090", "-v", "pgx", "-d", "dsn", "-n", "3",
		"-s", "secret", "-t", "60", "-w", "8", "-b", "s3",
		"-o", "bucket", "-g", "eu-west-1", "-e", "http://endpoint",
	}

	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)

	assert.Equal(t, "127.0.0.1:9090", cfg.EndpointAddr)
	assert.Equal(t, "pgx", cfg.StoreDriver)
	assert.Equal(t, "dsn", cfg.DatabaseDSN)
	assert.Equal(t, int64(3), cfg.NodeID)
	assert.Equal(t, "secret", cfg.SecretKey)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "s3", cfg.AssetBackend)
	assert.Equal(t, "bucket", cfg.S3Bucket)
	assert.Equal(t, "eu-west-1", cfg.S3Region)
	assert.Equal(t, "http://endpoint", cfg.S3BaseEndpoint)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Duration)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &d))
}
