package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Downloader fetches generated result images to local disk.
type Downloader struct {
	httpClient *http.Client
	log        *logrus.Logger
}

// NewDownloader creates a new Downloader instance. A nil HTTP client falls
// back to http.DefaultClient.
func NewDownloader(httpClient *http.Client, log *logrus.Logger) *Downloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Downloader{httpClient: httpClient, log: log}
}

// Outputs downloads each URL into dir and returns the written file paths,
// in input order. The directory is created if needed. The batch stops at
// the first failure.
func (d *Downloader) Outputs(ctx context.Context, urls []string, dir string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	paths := make([]string, 0, len(urls))
	for _, rawURL := range urls {
		dest := filepath.Join(dir, fileName(rawURL))
		if err := d.fetch(ctx, rawURL, dest); err != nil {
			return nil, err
		}
		d.log.WithFields(logrus.Fields{"url": rawURL, "path": dest}).Info("result downloaded")
		paths = append(paths, dest)
	}
	return paths, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: HTTP error, status %d", rawURL, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return out.Sync()
}

// fileName derives a local filename from the URL path, falling back to a
// generated name when the URL carries no usable one.
func fileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
			return base
		}
	}
	return "remix-" + uuid.NewString() + ".jpg"
}
