package inspector

import (
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.png")
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	require.NoError(t, imaging.Save(img, path))

	info, err := NewInspector(testLogger()).Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 180, info.Height)
	assert.Equal(t, "png", info.Format)
	assert.Equal(t, "image/png", info.MIMEType)
	assert.Greater(t, info.SizeBytes, int64(0))
	assert.Nil(t, info.CapturedAt, "generated image carries no EXIF capture time")
}

func TestInspectNotAnImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))

	_, err := NewInspector(testLogger()).Inspect(path)
	assert.Error(t, err)
}

func TestParseEXIFDateTime(t *testing.T) {
	date := parseEXIFDateTime("2024:06:01 12:30:00")
	require.NotNil(t, date)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC), *date)

	assert.Nil(t, parseEXIFDateTime(""))
	assert.Nil(t, parseEXIFDateTime("yesterday"))
}
