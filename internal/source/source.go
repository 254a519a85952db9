// Package source loads claim detail tables from workbooks, delimited text and
// JSON exports, on local disk, over HTTP or in S3.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gyeh/rx-netting/internal/claims"
)

// ErrUnsupportedFormat is returned for inputs whose extension no reader
// handles.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// Format identifies an input encoding.
type Format string

const (
	FormatXLSX   Format = "xlsx"
	FormatCSV    Format = "csv"
	FormatCSVGz  Format = "csv.gz"
	FormatJSONL  Format = "jsonl"
	FormatJSON   Format = "json"
	FormatJSONGz Format = "json.gz"
)

// DetectFormat picks a reader from the file name.
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return FormatXLSX, nil
	case strings.HasSuffix(lower, ".csv.gz"):
		return FormatCSVGz, nil
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".txt"):
		return FormatCSV, nil
	case strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".ndjson"):
		return FormatJSONL, nil
	case strings.HasSuffix(lower, ".json.gz"):
		return FormatJSONGz, nil
	case strings.HasSuffix(lower, ".json"):
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// ObjectFetcher copies an object store object to a local file.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, bucket, key, dst string) error
}

// Options configures Load.
type Options struct {
	// Sheet selects a workbook sheet; the first sheet when empty.
	Sheet string
	// TmpDir holds downloads and split files; the system temp dir when empty.
	TmpDir string
	// UseStdGzip selects compress/gzip over pgzip.
	UseStdGzip bool
	// S3 serves s3:// inputs.
	S3 ObjectFetcher
	// OnProgress reports download progress for remote inputs.
	OnProgress func(downloaded, total int64)
	Logger     *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) tmpDir() string {
	if o.TmpDir != "" {
		return o.TmpDir
	}
	return os.TempDir()
}

// Load reads a claim table from input: a local path, an http(s) URL or an
// s3://bucket/key URI.
func Load(ctx context.Context, input string, opts Options) (*claims.Block, error) {
	if _, err := DetectFormat(FileNameFromURL(input)); err != nil {
		return nil, err
	}
	localPath, cleanup, err := localize(ctx, input, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// Downloads keep the remote base name as a suffix, so the local name
	// carries the extension without any query string.
	format, err := DetectFormat(localPath)
	if err != nil {
		return nil, err
	}

	b, err := loadFile(localPath, format, opts)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", input, err)
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("reading %s: %w", input, claims.ErrEmptyTable)
	}

	opts.logger().Info("loaded claims",
		slog.String("input", input),
		slog.String("format", string(format)),
		slog.Int("records", b.Len()),
		slog.Int("columns", len(b.Columns)),
	)
	return b, nil
}

// localize makes input available as a local file.
func localize(ctx context.Context, input string, opts Options) (string, func(), error) {
	noop := func() {}
	switch {
	case strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		p, err := DownloadToFile(ctx, input, opts.tmpDir(), opts.OnProgress)
		if err != nil {
			return "", noop, fmt.Errorf("download %s: %w", input, err)
		}
		return p, func() { os.Remove(p) }, nil

	case strings.HasPrefix(input, "s3://"):
		if opts.S3 == nil {
			return "", noop, fmt.Errorf("s3 input %s: no S3 client configured", input)
		}
		bucket, key, err := ParseS3URI(input)
		if err != nil {
			return "", noop, err
		}
		f, err := os.CreateTemp(opts.tmpDir(), "claims-*-"+FileNameFromURL(key))
		if err != nil {
			return "", noop, fmt.Errorf("creating temp file: %w", err)
		}
		f.Close()
		if err := opts.S3.FetchObject(ctx, bucket, key, f.Name()); err != nil {
			os.Remove(f.Name())
			return "", noop, fmt.Errorf("fetch %s: %w", input, err)
		}
		return f.Name(), func() { os.Remove(f.Name()) }, nil
	}
	return input, noop, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI needs a bucket and a key: %s", uri)
	}
	return bucket, key, nil
}

func loadFile(p string, format Format, opts Options) (*claims.Block, error) {
	switch format {
	case FormatXLSX:
		return ReadXLSX(p, opts.Sheet)
	case FormatCSV, FormatCSVGz:
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if format == FormatCSV {
			return ReadCSV(f)
		}
		gz, err := NewGzipReader(f, opts.UseStdGzip)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		return ReadCSV(gz)
	case FormatJSONL:
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadJSONL(f)
	case FormatJSON:
		return ReadJSONFile(p, opts.tmpDir())
	case FormatJSONGz:
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		gz, err := NewGzipReader(f, opts.UseStdGzip)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		return StreamJSON(gz)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}
