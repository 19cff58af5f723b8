package normalizer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// Asset is an image payload in transit through the upload pipeline.
// Assets are treated as immutable: every transform step yields a new Asset.
type Asset struct {
	Name     string
	MIMEType string
	Data     []byte
	ModTime  time.Time
}

// Size returns the byte length of the asset payload.
func (a Asset) Size() int64 {
	return int64(len(a.Data))
}

// Policy defines the compression targets for normalization.
type Policy struct {
	MaxWidth  int
	MaxHeight int
	Quality   float64 // output quality factor in (0, 1]
	MaxSizeMB float64 // byte-size budget for the encoded output
}

// DefaultPolicy returns the policy used when the caller has no overrides.
func DefaultPolicy() Policy {
	return Policy{
		MaxWidth:  1920,
		MaxHeight: 1920,
		Quality:   0.8,
		MaxSizeMB: 1.0,
	}
}

// MaxBytes returns the size budget expressed in bytes.
func (p Policy) MaxBytes() int64 {
	return int64(p.MaxSizeMB * 1024 * 1024)
}

// Validate checks that the policy values are usable.
func (p Policy) Validate() error {
	if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
		return fmt.Errorf("invalid dimension bounds: %dx%d", p.MaxWidth, p.MaxHeight)
	}
	if p.Quality <= 0 || p.Quality > 1 {
		return fmt.Errorf("quality must be in (0, 1], got %v", p.Quality)
	}
	if p.MaxSizeMB <= 0 {
		return fmt.Errorf("max size must be positive, got %v MB", p.MaxSizeMB)
	}
	return nil
}

// Normalizer prepares image assets for upload, bounding both pixel
// dimensions and encoded byte size.
type Normalizer interface {
	// Normalize returns a size-bounded copy of the asset. Assets already
	// within the byte budget are returned unchanged.
	Normalize(ctx context.Context, asset Asset, policy Policy) (Asset, error)

	// NormalizeAll normalizes each asset independently and concurrently.
	// The first failure cancels the batch and is returned; no partial
	// results are reported.
	NormalizeAll(ctx context.Context, assets []Asset, policy Policy) ([]Asset, error)
}

// PassedThrough reports whether normalization returned the input payload
// unchanged, i.e. the fast path was taken.
func PassedThrough(in, out Asset) bool {
	return bytes.Equal(in.Data, out.Data)
}

// LoadFile reads a local file into an Asset, deriving the MIME type from
// the file extension.
func LoadFile(path string) (Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Asset{}, fmt.Errorf("stat file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Asset{}, fmt.Errorf("read file: %w", err)
	}
	return Asset{
		Name:     filepath.Base(path),
		MIMEType: mime.TypeByExtension(filepath.Ext(path)),
		Data:     data,
		ModTime:  info.ModTime(),
	}, nil
}
