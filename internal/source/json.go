package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danielchalef/jsplit/pkg/jsplit"

	"github.com/gyeh/rx-netting/internal/claims"
)

// claimsKey is the top-level array holding claim objects in JSON exports.
const claimsKey = "claims"

// SplitClaims splits a {"claims": [...]} document into NDJSON files with
// jsplit and returns the claim files in order.
func SplitClaims(inputPath, outputDir string) ([]string, error) {
	// Suppress jsplit's stdout prints
	origStdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("failed to open /dev/null: %w", err)
	}
	os.Stdout = devNull
	err = jsplit.Split(inputPath, outputDir, true)
	os.Stdout = origStdout
	devNull.Close()
	if err != nil {
		return nil, fmt.Errorf("jsplit split failed: %w", err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read split output dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, claimsKey+"_") && strings.HasSuffix(name, ".jsonl") {
			files = append(files, filepath.Join(outputDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadJSONFile reads a JSON export. Documents with a top-level "claims" array
// are split to NDJSON first so large exports never sit in memory as one tree;
// anything else is streamed.
func ReadJSONFile(path, tmpDir string) (*claims.Block, error) {
	splitDir, err := os.MkdirTemp(tmpDir, "claims-split-*")
	if err != nil {
		return nil, fmt.Errorf("creating split dir: %w", err)
	}
	defer os.RemoveAll(splitDir)

	files, err := SplitClaims(path, splitDir)
	if err != nil || len(files) == 0 {
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, openErr
		}
		defer f.Close()
		return StreamJSON(f)
	}

	c := newRowCollector()
	for _, p := range files {
		if err := scanJSONLFile(p, c); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return c.block()
}

func scanJSONLFile(p string, c *rowCollector) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return scanJSONL(f, c)
}

// StreamJSON decodes claim objects one at a time from either a top-level
// array or an object whose "claims" member is an array. Other members are
// skipped.
func StreamJSON(r io.Reader) (*claims.Block, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading JSON: %w", err)
	}

	c := newRowCollector()
	switch tok {
	case json.Delim('['):
		if err := decodeArray(dec, c); err != nil {
			return nil, err
		}
	case json.Delim('{'):
		found := false
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("reading JSON key: %w", err)
			}
			key, _ := keyTok.(string)
			if key != claimsKey {
				if err := skipValue(dec); err != nil {
					return nil, fmt.Errorf("skipping %q: %w", key, err)
				}
				continue
			}
			open, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("reading %q: %w", key, err)
			}
			if open != json.Delim('[') {
				return nil, fmt.Errorf("%q is not an array", key)
			}
			if err := decodeArray(dec, c); err != nil {
				return nil, err
			}
			found = true
		}
		if !found {
			return nil, fmt.Errorf("no %q array in document: %w", claimsKey, claims.ErrEmptyTable)
		}
	default:
		return nil, errors.New("JSON input must be an array or an object")
	}
	return c.block()
}

// decodeArray consumes array elements up to and including the closing ']'.
func decodeArray(dec *json.Decoder, c *rowCollector) error {
	n := 0
	for dec.More() {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return fmt.Errorf("claim %d: %w", n, err)
		}
		c.add(obj)
		n++
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("closing array: %w", err)
	}
	return nil
}

// skipValue reads and discards the next JSON value without buffering it.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	for dec.More() {
		if d == '{' {
			if _, err := dec.Token(); err != nil {
				return err
			}
		}
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	// closing delimiter
	_, err = dec.Token()
	return err
}
