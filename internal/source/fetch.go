package source

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/klauspost/pgzip"
)

var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	},
	Timeout: 30 * time.Minute,
}

// retryBase is the backoff unit between download attempts.
var retryBase = time.Second

// DownloadHTTP performs an HTTP GET with retries and returns the response.
// Client errors (4xx) are not retried. Caller is responsible for closing
// resp.Body.
func DownloadHTTP(ctx context.Context, rawURL string) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * retryBase
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("creating request: %w", reqErr)
		}

		resp, err = httpClient.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, err // don't retry client errors
		}
	}

	return nil, fmt.Errorf("download failed after retries: %w", err)
}

// NewGzipReader creates a gzip decompression reader. When useStdGzip is true,
// it uses the standard library's single-threaded compress/gzip. Otherwise it
// uses pgzip, which decompresses ahead on several goroutines.
func NewGzipReader(r io.Reader, useStdGzip bool) (io.ReadCloser, error) {
	if useStdGzip {
		return gzip.NewReader(r)
	}
	return pgzip.NewReader(r)
}

// DownloadToFile fetches rawURL into a temp file under tmpDir, keeping the
// URL's base name as a suffix so the format can still be detected from the
// extension. The caller removes the returned file.
func DownloadToFile(ctx context.Context, rawURL, tmpDir string, onProgress func(downloaded, total int64)) (string, error) {
	resp, err := DownloadHTTP(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	totalBytes := resp.ContentLength

	var reader io.Reader = resp.Body
	if onProgress != nil {
		reader = &progressReader{
			reader:   resp.Body,
			total:    totalBytes,
			callback: onProgress,
		}
	}
	countReader := &countingReader{reader: reader}

	tmpFile, err := os.CreateTemp(tmpDir, "claims-*-"+FileNameFromURL(rawURL))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	_, err = io.Copy(tmpFile, countReader)
	if closeErr := tmpFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("writing download: %w", err)
	}

	// Verify the full payload was received
	if totalBytes > 0 && countReader.n != totalBytes {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("download truncated: got %d of %d bytes", countReader.n, totalBytes)
	}

	return tmpFile.Name(), nil
}

// FileNameFromURL extracts the last path element of a URL, ignoring any
// query string.
func FileNameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

type countingReader struct {
	reader io.Reader
	n      int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	cr.n += int64(n)
	return n, err
}

type progressReader struct {
	reader     io.Reader
	downloaded int64
	total      int64
	callback   func(downloaded, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		pr.callback(pr.downloaded, pr.total)
	}
	return n, err
}
