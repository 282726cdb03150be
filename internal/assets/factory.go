package assets

import (
	"context"
	"fmt"
)

// Options selects and configures an asset backend for one node.
type Options struct {
	// Backend is "fs", "s3" or "memory".
	Backend string
	// Root is the filesystem root for the fs backend.
	Root string
	// BaseURL is the public URL assets are served from (fs and memory).
	BaseURL string
	// S3 configures the s3 backend.
	S3 S3Config
}

// New builds the asset store named by opts.Backend.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "fs":
		return NewFilesystem(opts.Root, opts.BaseURL), nil
	case "s3":
		return NewS3(ctx, opts.S3)
	case "memory":
		return NewMemory(opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown asset backend %q", opts.Backend)
	}
}
