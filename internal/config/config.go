// Package config handles daemon configuration: development defaults, an
// optional JSON file overlay, and command-line flags, applied in that
// order.
package config

import "time"

// NodeConfig declares one node of the local cluster. Nodes can only be
// declared in the JSON file; flags cover scalar settings.
type NodeConfig struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	SiteURL         string `json:"site_url"`
	UploadURL       string `json:"upload_url"`
	UploadDir       string `json:"upload_dir"`
	Theme           string `json:"theme"`
	DefaultLanguage string `json:"default_language"`
}

// Config holds runtime settings for the sync daemon.
//
// Fields:
//   - EndpointAddr: bind address for the peer HTTP API.
//   - StoreDriver / DatabaseDSN: content store backend ("sqlite3" or "pgx").
//   - NodeID: the cluster node this daemon answers for by default.
//   - Nodes: the local cluster's node declarations.
//   - TranslationTool: active translation provider name, empty for none.
//   - AssetBackend / AssetRoot / AssetBaseURL: media storage settings.
//   - SecretKey: key sealing stored peer credentials. Do not use the test
//     default in production.
//   - RequestTimeout: deadline for outbound content transfers, capped at
//     one hour by the remote client. Control calls keep their short fixed
//     timeout.
//   - Workers: distribution fan-out concurrency.
//   - S3*: settings for the S3 asset backend.
type Config struct {
	EndpointAddr    string
	StoreDriver     string
	DatabaseDSN     string
	NodeID          int64
	Nodes           []NodeConfig
	TranslationTool string
	AssetBackend    string
	AssetRoot       string
	AssetBaseURL    string
	SecretKey       string
	RequestTimeout  time.Duration
	Workers         int
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3BaseEndpoint  string
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8686"
	c.StoreDriver = "sqlite3"
	c.DatabaseDSN = "contentsync.db"
	c.NodeID = 1
	c.Nodes = []NodeConfig{{
		ID:              1,
		Name:            "main",
		SiteURL:         "http://localhost:8686",
		UploadURL:       "http://localhost:8686/uploads",
		UploadDir:       "./uploads",
		DefaultLanguage: "en",
	}}
	c.AssetBackend = "fs"
	c.AssetRoot = "./uploads"
	c.AssetBaseURL = "http://localhost:8686/uploads"
	c.SecretKey = "secretKeysecretKeysecretKeysecre"
	c.RequestTimeout = 10 * time.Minute
	c.Workers = 1
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
