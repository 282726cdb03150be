package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"contentsync/internal/model"
	"contentsync/internal/nodectx"
)

const (
	manifestName = "posts.json"
	mediaPrefix  = "media/"
)

// Archive is a transfer set read back from a bundle file.
type Archive struct {
	Units []*model.PreparedUnit
	// Media maps asset rel_path to file bytes.
	Media map[string][]byte
}

// WriteArchive serializes a transfer set into a zip bundle: a pretty
// printed manifest plus the binary file of every unit that carries one.
// A missing asset file is logged and skipped, the manifest entry stays.
func (e *Engine) WriteArchive(ctx context.Context, units []*model.PreparedUnit, w io.Writer) error {
	zw := zip.NewWriter(w)

	manifest, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		return fmt.Errorf("archive manifest: %w", err)
	}
	f, err := zw.Create(manifestName)
	if err != nil {
		return err
	}
	if _, err := f.Write(manifest); err != nil {
		return err
	}

	for _, unit := range units {
		if unit.Asset == nil {
			continue
		}
		if err := e.writeAsset(ctx, zw, unit.Asset); err != nil {
			e.log.Warn(ctx, "asset missing from bundle",
				"path", unit.Asset.RelPath, "err", err)
		}
	}
	return zw.Close()
}

func (e *Engine) writeAsset(ctx context.Context, zw *zip.Writer, ref *model.AssetRef) error {
	if e.assets == nil {
		return fmt.Errorf("no asset store configured")
	}
	r, err := e.assets.Get(ctx, ref.RelPath)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := zw.Create(mediaPrefix + ref.RelPath)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	return err
}

// ExportToArchive exports the transfer set of rootID and writes it as a
// bundle file at path. The bundle is assembled in a temp file and moved
// into place, so a failed export never leaves a truncated bundle.
func (e *Engine) ExportToArchive(ctx context.Context, node *nodectx.Node, rootID int64, cfg model.ExportConfig, path string) error {
	units, err := e.Export(ctx, node, rootID, cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return err
	}
	if err := e.WriteArchive(ctx, units, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadArchive parses a bundle produced by WriteArchive.
func ReadArchive(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{Media: map[string][]byte{}}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		switch {
		case f.Name == manifestName:
			if err := json.Unmarshal(data, &a.Units); err != nil {
				return nil, fmt.Errorf("archive manifest: %w", err)
			}
		case len(f.Name) > len(mediaPrefix) && f.Name[:len(mediaPrefix)] == mediaPrefix:
			a.Media[f.Name[len(mediaPrefix):]] = data
		}
	}
	if a.Units == nil {
		return nil, fmt.Errorf("archive has no manifest")
	}
	return a, nil
}

// OpenArchive reads a bundle file from disk.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return ReadArchive(f, info.Size())
}
