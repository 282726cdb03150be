package config

import (
	"encoding/json"
	"os"

	"contentsync/internal/flagx"
)

// JsonConfig is the DTO read from the JSON configuration file. Interval
// fields use Duration so both "30s" and integer nanoseconds parse.
type JsonConfig struct {
	EndpointAddr    string       `json:"endpoint_addr"`
	StoreDriver     string       `json:"store_driver"`
	DatabaseDSN     string       `json:"database_dsn"`
	NodeID          int64        `json:"node_id"`
	Nodes           []NodeConfig `json:"nodes"`
	TranslationTool string       `json:"translation_tool"`
	AssetBackend    string       `json:"asset_backend"`
	AssetRoot       string       `json:"asset_root"`
	AssetBaseURL    string       `json:"asset_base_url"`
	SecretKey       string       `json:"secret_key"`
	RequestTimeout  Duration     `json:"request_timeout"`
	Workers         int          `json:"workers"`
	S3AccessKey     string       `json:"s3_access_key"`
	S3SecretKey     string       `json:"s3_secret_key"`
	S3Bucket        string       `json:"s3_bucket"`
	S3Region        string       `json:"s3_region"`
	S3BaseEndpoint  string       `json:"s3_base_endpoint"`
}

// parseJson overlays values from the JSON file named by the -c or
// -config flags. When neither flag is set, nothing is loaded. Only
// fields present in the file override the current values; the file being
// unreadable or malformed is fatal.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.StoreDriver != "" {
		config.StoreDriver = c.StoreDriver
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.NodeID != 0 {
		config.NodeID = c.NodeID
	}
	if len(c.Nodes) > 0 {
		config.Nodes = c.Nodes
	}
	if c.TranslationTool != "" {
		config.TranslationTool = c.TranslationTool
	}
	if c.AssetBackend != "" {
		config.AssetBackend = c.AssetBackend
	}
	if c.AssetRoot != "" {
		config.AssetRoot = c.AssetRoot
	}
	if c.AssetBaseURL != "" {
		config.AssetBaseURL = c.AssetBaseURL
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.RequestTimeout.Duration != 0 {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.Workers != 0 {
		config.Workers = c.Workers
	}
	if c.S3AccessKey != "" {
		config.S3AccessKey = c.S3AccessKey
	}
	if c.S3SecretKey != "" {
		config.S3SecretKey = c.S3SecretKey
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
}
