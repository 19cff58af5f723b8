package normalizer

import (
	"bytes"
	"context"
	"image"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// minQuality is the floor below which no further quality reduction
	// is attempted.
	minQuality = 0.3

	// qualityStep is subtracted from the requested quality for the single
	// adaptive retry when the first encode exceeds the byte budget.
	qualityStep = 0.2
)

// encodeFunc serializes an image at the given quality factor.
type encodeFunc func(img image.Image, format imaging.Format, quality float64) ([]byte, error)

// DefaultNormalizer is the default implementation of the Normalizer interface.
type DefaultNormalizer struct {
	log    *logrus.Logger
	encode encodeFunc
}

// NewDefaultNormalizer creates a new DefaultNormalizer instance.
func NewDefaultNormalizer(log *logrus.Logger) *DefaultNormalizer {
	return &DefaultNormalizer{
		log:    log,
		encode: encodeImage,
	}
}

// Normalize produces a size-bounded, dimension-bounded copy of the asset.
//
// Encoding is attempted at most twice: once at the policy quality and, if
// the result still exceeds the budget and the quality floor has not been
// reached, once more at a reduced quality. The second result is used even
// when it remains over budget; unbounded search-to-target-size is
// intentionally avoided to bound worst-case latency.
func (n *DefaultNormalizer) Normalize(ctx context.Context, asset Asset, policy Policy) (Asset, error) {
	if err := policy.Validate(); err != nil {
		return Asset{}, err
	}

	// Fast path: already within budget, no decode/re-encode cost.
	if asset.Size() <= policy.MaxBytes() {
		n.log.WithField("asset", asset.Name).Debug("asset within size budget, skipping normalization")
		return asset, nil
	}

	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(asset.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Asset{}, &DecodeError{Name: asset.Name, Err: err}
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > policy.MaxWidth || height > policy.MaxHeight {
		// Fit applies a single uniform scale factor, preserving the
		// aspect ratio. Images already within bounds are never upscaled.
		img = imaging.Fit(img, policy.MaxWidth, policy.MaxHeight, imaging.Lanczos)
	}

	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}

	format, mimeType := resolveFormat(asset.MIMEType)
	data, err := n.encode(img, format, policy.Quality)
	if err != nil {
		return Asset{}, &EncodeError{Name: asset.Name, Err: err}
	}

	if int64(len(data)) > policy.MaxBytes() && policy.Quality > minQuality {
		retryQuality := math.Max(minQuality, policy.Quality-qualityStep)
		n.log.WithFields(logrus.Fields{
			"asset":   asset.Name,
			"size":    len(data),
			"quality": retryQuality,
		}).Debug("first encode over budget, retrying at reduced quality")

		if retry, err := n.encode(img, format, retryQuality); err == nil {
			data = retry
		} else {
			// The pass-1 result stands when the retry fails.
			n.log.WithField("asset", asset.Name).WithError(err).Warn("retry encode failed, keeping first result")
		}
	}

	return Asset{
		Name:     asset.Name,
		MIMEType: mimeType,
		Data:     data,
		ModTime:  time.Now(),
	}, nil
}

// NormalizeAll normalizes the assets concurrently. The batch fails as a
// whole on the first error.
func (n *DefaultNormalizer) NormalizeAll(ctx context.Context, assets []Asset, policy Policy) ([]Asset, error) {
	out := make([]Asset, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range assets {
		i, asset := i, asset
		g.Go(func() error {
			res, err := n.Normalize(gctx, asset, policy)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveFormat maps a MIME type to an output encoding. Unknown or absent
// types fall back to JPEG, the single defaulting point for the pipeline.
func resolveFormat(mimeType string) (imaging.Format, string) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return imaging.PNG, "image/png"
	case "image/gif":
		return imaging.GIF, "image/gif"
	case "image/bmp":
		return imaging.BMP, "image/bmp"
	case "image/tiff":
		return imaging.TIFF, "image/tiff"
	default:
		return imaging.JPEG, "image/jpeg"
	}
}

// encodeImage serializes the image using imaging. The quality factor is
// mapped to the 1-100 JPEG quality scale; lossless formats ignore it.
func encodeImage(img image.Image, format imaging.Format, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	q := int(math.Round(quality * 100))
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(q)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
