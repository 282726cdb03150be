package config

import (
	"flag"
	"os"
	"time"

	"contentsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8686")
//	-v string   store driver, "sqlite3" or "pgx"
//	-d string   database DSN
//	-n int      default node id
//	-s string   secret key sealing stored peer credentials
//	-t int      outbound transfer timeout, seconds
//	-w int      distribution worker count
//	-b string   asset backend, "fs", "s3" or "memory"
//	-r string   asset root directory (fs backend)
//	-u string   public base URL assets are served from
//	-o string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//
// The function first filters os.Args to only the flags it recognizes
// using flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-v", "-d", "-n", "-s", "-t", "-w", "-b", "-r", "-u", "-o", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.StoreDriver, "v", config.StoreDriver, "store driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.Int64Var(&config.NodeID, "n", config.NodeID, "default node id")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	requestTimeout := fs.Int("t", int(config.RequestTimeout.Seconds()), "transfer timeout (in seconds)")

	fs.IntVar(&config.Workers, "w", config.Workers, "distribution workers")
	fs.StringVar(&config.AssetBackend, "b", config.AssetBackend, "asset backend")
	fs.StringVar(&config.AssetRoot, "r", config.AssetRoot, "asset root directory")
	fs.StringVar(&config.AssetBaseURL, "u", config.AssetBaseURL, "asset base URL")
	fs.StringVar(&config.S3Bucket, "o", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RequestTimeout = time.Duration(*requestTimeout) * time.Second
}
