package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	simdjson "github.com/minio/simdjson-go"

	"github.com/gyeh/rx-netting/internal/claims"
)

// useSimd selects the simdjson line parser. It needs AVX2 and CLMUL; other
// CPUs take the encoding/json path.
var useSimd = simdjson.SupportedCPU()

// rowCollector accumulates JSON objects as table rows. Columns are the union
// of all keys: known claim columns first in their usual order, then the rest
// sorted by name.
type rowCollector struct {
	objects []map[string]string
	keys    map[string]struct{}
}

func newRowCollector() *rowCollector {
	return &rowCollector{keys: make(map[string]struct{})}
}

func (c *rowCollector) add(obj map[string]any) {
	row := make(map[string]string, len(obj))
	for k, v := range obj {
		row[k] = cellText(v)
		c.keys[k] = struct{}{}
	}
	c.objects = append(c.objects, row)
}

var knownOrder = []string{
	claims.ColSourceRecordID,
	claims.ColSubjectID,
	claims.ColDrugCode,
	claims.ColDateFilled,
	claims.ColQuantity,
	claims.ColStatus,
}

func (c *rowCollector) block() (*claims.Block, error) {
	var header []string
	seen := make(map[string]bool, len(c.keys))
	for _, col := range knownOrder {
		for k := range c.keys {
			if !seen[k] && claims.CanonicalColumn(k) == col {
				header = append(header, k)
				seen[k] = true
			}
		}
	}
	var rest []string
	for k := range c.keys {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	header = append(header, rest...)

	rows := make([][]string, len(c.objects))
	for i, obj := range c.objects {
		row := make([]string, len(header))
		for j, col := range header {
			row[j] = obj[col]
		}
		rows[i] = row
	}
	return claims.FromTable(header, rows)
}

// cellText renders a decoded JSON scalar the way it would appear in a sheet.
// Nested values are kept as compact JSON.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// ReadJSONL reads one claim object per line.
func ReadJSONL(r io.Reader) (*claims.Block, error) {
	c := newRowCollector()
	if err := scanJSONL(r, c); err != nil {
		return nil, err
	}
	return c.block()
}

func scanJSONL(r io.Reader, c *rowCollector) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	var pj *simdjson.ParsedJson
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if !useSimd {
			obj, err := decodeObject(line)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			c.add(obj)
			continue
		}

		var err error
		pj, err = simdjson.Parse(line, pj)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		err = pj.ForEach(func(i simdjson.Iter) error {
			obj, err := i.Object(nil)
			if err != nil {
				return err
			}
			m, err := obj.Map(nil)
			if err != nil {
				return err
			}
			c.add(m)
			return nil
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

func decodeObject(line []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
