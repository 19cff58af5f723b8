package inspector

import (
	"fmt"
	"image"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// Info describes a local image file: its pixel dimensions, format, byte
// size, and EXIF capture time when present.
type Info struct {
	Path       string
	Format     string
	MIMEType   string
	Width      int
	Height     int
	SizeBytes  int64
	ModTime    time.Time
	CapturedAt *time.Time
}

// Inspector reads image metadata without decoding full pixel data.
type Inspector struct {
	logger *logrus.Logger
}

// NewInspector returns a new Inspector.
func NewInspector(logger *logrus.Logger) *Inspector {
	return &Inspector{logger: logger}
}

// Inspect returns metadata for the image at the given path.
func (i *Inspector) Inspect(path string) (*Info, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	info := &Info{
		Path:      path,
		Format:    format,
		MIMEType:  mime.TypeByExtension(filepath.Ext(path)),
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: fileInfo.Size(),
		ModTime:   fileInfo.ModTime(),
	}
	if info.MIMEType == "" {
		info.MIMEType = "image/" + format
	}

	info.CapturedAt = i.extractCaptureTime(path)
	return info, nil
}

// extractCaptureTime reads the EXIF capture time, returning nil when the
// file carries no usable date.
func (i *Inspector) extractCaptureTime(path string) *time.Time {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		i.logger.WithField("file", path).Debugf("no EXIF data: %v", err)
		return nil
	}

	if tm, err := x.DateTime(); err == nil {
		return &tm
	}

	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		if date := parseEXIFDateTime(raw); date != nil {
			return date
		}
	}
	return nil
}

// parseEXIFDateTime parses an EXIF date time string, trying the formats
// encountered in the wild. Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}
	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}
