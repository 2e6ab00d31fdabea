// Package provider defines the pluggable metadata/hash extraction interface
// and the bounded worker pool that populates the cache in the background.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/renamekit/renamekit/pkg/renamekit/fsys"
)

// Well-known field names served by StatProvider.
const (
	FieldName    = "name"
	FieldExt     = "ext"
	FieldSize    = "size"
	FieldModTime = "modtime"
	FieldSHA256  = "sha256"
)

// Provider extracts requested fields for one file. Invoked only by the
// background population path, never by the synchronous preview path.
type Provider interface {
	Fetch(ctx context.Context, path string, fields []string) (map[string]string, error)
}

// StatProvider serves filesystem-derived fields: name, extension, size,
// modification time, and a SHA-256 content hash on request.
type StatProvider struct {
	fs fsys.FileSystem
}

// NewStatProvider creates a provider reading from the given filesystem.
func NewStatProvider(fs fsys.FileSystem) *StatProvider {
	return &StatProvider{fs: fs}
}

// Fetch returns the requested fields for path. Unknown fields are simply
// absent from the result; a missing field is the caller's recoverable
// condition, not a fetch failure.
func (p *StatProvider) Fetch(ctx context.Context, path string, fields []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := p.fs.Stat(path)
	if err != nil {
		return nil, err
	}

	values := map[string]string{}
	for _, field := range fields {
		switch field {
		case FieldName:
			name := filepath.Base(path)
			values[FieldName] = strings.TrimSuffix(name, filepath.Ext(name))
		case FieldExt:
			values[FieldExt] = strings.TrimPrefix(filepath.Ext(path), ".")
		case FieldSize:
			values[FieldSize] = strconv.FormatInt(info.Size(), 10)
		case FieldModTime:
			values[FieldModTime] = info.ModTime().Format(time.RFC3339)
		case FieldSHA256:
			sum, err := p.hash(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("hashing %s: %w", path, err)
			}
			values[FieldSHA256] = sum
		}
	}
	return values, nil
}

func (p *StatProvider) hash(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := p.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ Provider = (*StatProvider)(nil)
