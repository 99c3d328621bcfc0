package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// downloadChunkSize is the read buffer size; progress fires once per read.
const downloadChunkSize = 32 * 1024

// ProgressFunc receives the byte count of each chunk as it is written.
// It runs on the downloading goroutine and must not block.
type ProgressFunc func(n int)

// Downloader streams release assets to disk.
type Downloader struct {
	httpClient *http.Client
	headers    map[string]string
	timeout    time.Duration
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadClient sets a custom HTTP client for downloads.
func WithDownloadClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.httpClient = client
	}
}

// WithDownloadHeaders sets extra request headers.
func WithDownloadHeaders(headers map[string]string) DownloaderOption {
	return func(d *Downloader) {
		d.headers = headers
	}
}

// WithDownloadTimeout bounds the whole download, body included.
func WithDownloadTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.timeout = timeout
	}
}

// NewDownloader creates a downloader.
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches asset into dir and returns the path of the complete file.
// On any failure the partial file is removed.
func (d *Downloader) Download(ctx context.Context, asset ReleaseAsset, dir string, progress ProgressFunc) (string, error) {
	name := filepath.Base(asset.Name)
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		return "", apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("invalid asset name %q", asset.Name), nil)
	}

	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return "", apperrors.New(apperrors.CodeDownload, "create download request", err)
	}
	applyHeaders(req, d.headers, "application/octet-stream")

	debug.Logf("download: GET %s", asset.URL)
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", networkError(ctx, "download "+name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperrors.New(apperrors.CodeDownload, fmt.Sprintf("download %s: status %d", name, resp.StatusCode), nil)
	}

	dest := filepath.Join(dir, name)
	partial := dest + ".part"
	//nolint:gosec // G304: Destination is inside the attempt work directory
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", apperrors.New(apperrors.CodeIO, "create download file", err)
	}

	written, copyErr := copyWithProgress(f, resp.Body, progress)
	closeErr := f.Close()

	fail := func(err error) (string, error) {
		_ = os.Remove(partial)
		return "", err
	}
	if copyErr != nil {
		var writeErr *fileWriteError
		if errors.As(copyErr, &writeErr) {
			return fail(apperrors.New(apperrors.CodeIO, "write download file", writeErr.err))
		}
		return fail(networkError(ctx, "download "+name, copyErr))
	}
	if closeErr != nil {
		return fail(apperrors.New(apperrors.CodeIO, "close download file", closeErr))
	}
	if asset.Size > 0 && written != asset.Size {
		return fail(apperrors.New(apperrors.CodeDownload,
			fmt.Sprintf("download %s: got %d bytes, expected %d", name, written, asset.Size), nil))
	}
	if err := os.Rename(partial, dest); err != nil {
		return fail(apperrors.New(apperrors.CodeIO, "finalize download file", err))
	}

	debug.Logf("download: wrote %d bytes to %s", written, dest)
	return dest, nil
}

// fileWriteError separates local disk failures from network read failures.
type fileWriteError struct{ err error }

func (e *fileWriteError) Error() string { return e.err.Error() }
func (e *fileWriteError) Unwrap() error { return e.err }

func copyWithProgress(dst io.Writer, src io.Reader, progress ProgressFunc) (int64, error) {
	buf := make([]byte, downloadChunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, &fileWriteError{err: err}
			}
			total += int64(n)
			if progress != nil {
				progress(n)
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
