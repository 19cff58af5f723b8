package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image bytes for " + r.URL.Path))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(nil, testLogger())

	paths, err := d.Outputs(context.Background(), []string{
		srv.URL + "/results/a.png",
		srv.URL + "/results/b.png",
	}, dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "a.png"), paths[0])

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "image bytes for /results/b.png", string(data))
}

func TestOutputsStopsAtFirstFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDownloader(nil, testLogger())
	_, err := d.Outputs(context.Background(), []string{
		srv.URL + "/missing.png",
		srv.URL + "/present.png",
	}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFileNameFallback(t *testing.T) {
	assert.Equal(t, "out.png", fileName("https://cdn.example.com/jobs/1/out.png"))

	generated := fileName("https://cdn.example.com/jobs/1/")
	assert.True(t, strings.HasPrefix(generated, "remix-"))
	assert.True(t, strings.HasSuffix(generated, ".jpg"))
}

func TestOutputsEmpty(t *testing.T) {
	d := NewDownloader(nil, testLogger())
	paths, err := d.Outputs(context.Background(), nil, t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, paths)
}
