// Package downloads fetches remote scenes over HTTP into local scratch space.
package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	// DefaultRetryAttempts is the number of times to retry a failed download.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the delay between retry attempts.
	DefaultRetryDelay = 5 * time.Second
	// DefaultBufferSize is the buffer size for file downloads.
	DefaultBufferSize = 32 * 1024 // 32KB
)

// ByteProgressCallback is a function called to report raw byte progress during download.
type ByteProgressCallback func(downloaded, total int64)

// Downloader downloads into Fs. The zero value uses the OS filesystem and
// http.DefaultClient.
type Downloader struct {
	Fs         afero.Fs
	Client     *http.Client
	RetryDelay time.Duration
}

func (d *Downloader) fs() afero.Fs {
	if d.Fs == nil {
		return afero.NewOsFs()
	}
	return d.Fs
}

func (d *Downloader) client() *http.Client {
	if d.Client == nil {
		return http.DefaultClient
	}
	return d.Client
}

// IsRemote reports whether p is an http or https URL.
func IsRemote(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// FileName returns the last path element of rawURL, or "scene" when the URL
// has none.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "scene"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "scene"
	}
	return name
}

// progressReader counts bytes read from r and reports them at most every
// reportEvery. Reads fail once ctx is done.
type progressReader struct {
	ctx        context.Context
	r          io.Reader
	done       int64
	total      int64
	cb         ByteProgressCallback
	lastReport time.Time
}

const reportEvery = 100 * time.Millisecond

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.cb != nil && time.Since(p.lastReport) >= reportEvery {
		p.cb(p.done, p.total)
		p.lastReport = time.Now()
	}
	return n, err
}

// DownloadFile fetches url into destPath. A partial file at destPath is
// resumed with a Range request; servers that ignore the range restart it.
func (d *Downloader) DownloadFile(ctx context.Context, destPath string, url string, progressCb ByteProgressCallback) error {
	fs := d.fs()

	var offset int64
	if info, err := fs.Stat(destPath); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := fs.OpenFile(destPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer out.Close()

	pr := &progressReader{ctx: ctx, r: resp.Body, done: offset, cb: progressCb, lastReport: time.Now()}
	if resp.ContentLength > 0 {
		pr.total = offset + resp.ContentLength
	}
	if _, err := io.CopyBuffer(out, pr, make([]byte, DefaultBufferSize)); err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	if progressCb != nil {
		progressCb(pr.done, pr.total)
	}
	return nil
}

// DownloadWithRetry downloads a file with automatic retry on failure.
func (d *Downloader) DownloadWithRetry(ctx context.Context, destPath string, url string, progressCb ByteProgressCallback) error {
	delay := d.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= DefaultRetryAttempts; attempt++ {
		err := d.DownloadFile(ctx, destPath, url, progressCb)
		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return err
		}

		if attempt < DefaultRetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("download failed after %d attempts: %w", DefaultRetryAttempts, lastErr)
}
