// Package output writes netted claim detail in the formats downstream
// reporting reads: a workbook, parquet, CSV, the unmatched reversal row list
// and a JSON run summary.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gyeh/rx-netting/internal/claims"
	"github.com/gyeh/rx-netting/internal/netting"
)

const (
	WorkbookName       = "merged_file_with_OR.xlsx"
	ParquetName        = "merged_file_with_OR.parquet"
	UnmatchedName      = "unmatched_reversals.txt"
	DefaultOpportunity = "Unknown_Opportunity"
)

// Format is an output file kind selectable on the command line.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// AllFormats is the default output set.
var AllFormats = []Format{FormatXLSX, FormatParquet, FormatCSV}

// ParseFormats parses a comma-separated format list. Empty means all.
func ParseFormats(s string) ([]Format, error) {
	if strings.TrimSpace(s) == "" {
		return AllFormats, nil
	}
	var out []Format
	seen := map[Format]bool{}
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case FormatXLSX, FormatCSV, FormatParquet:
		default:
			return nil, fmt.Errorf("unknown output format %q (want xlsx, csv or parquet)", part)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// CSVName returns the claim detail CSV name for an opportunity.
func CSVName(opportunity string) string {
	opportunity = strings.TrimSpace(opportunity)
	if opportunity == "" {
		opportunity = DefaultOpportunity
	}
	return opportunity + " Claim Detail.csv"
}

// Writer writes one run's artifacts into Dir.
type Writer struct {
	Dir         string
	Opportunity string
	Formats     []Format
	Logger      *slog.Logger
}

// Artifacts lists what a Write produced.
type Artifacts struct {
	Files []string
	// UnmatchedRows are the worksheet rows (header = 1) of unmatched reversals.
	UnmatchedRows []int
	// Warnings are failures of non-essential writers.
	Warnings []string
	// Rows is the number of data rows written after de-duplication.
	Rows int
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Writer) wants(f Format) bool {
	formats := w.Formats
	if len(formats) == 0 {
		formats = AllFormats
	}
	for _, x := range formats {
		if x == f {
			return true
		}
	}
	return false
}

// Write orders b, drops duplicate rows and writes every selected format. The
// unmatched reversal list is written with the workbook. A workbook failure is returned as an error;
// the other writers only warn.
func (w *Writer) Write(b *claims.Block, unmatched []int) (*Artifacts, error) {
	if strings.TrimSpace(w.Opportunity) == "" {
		w.logger().Warn("opportunity name empty, using default", slog.String("opportunity", DefaultOpportunity))
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	ordered := Order(b)
	art := &Artifacts{
		Rows:          ordered.Len(),
		UnmatchedRows: SheetRows(ordered, unmatched),
	}
	if dropped := b.Len() - ordered.Len(); dropped > 0 {
		w.logger().Info("dropped duplicate rows", slog.Int("rows", dropped))
	}

	warn := func(what, path string, err error) {
		w.logger().Warn("could not write "+what, slog.String("path", path), slog.Any("error", err))
		art.Warnings = append(art.Warnings, fmt.Sprintf("%s: %v", what, err))
	}

	if w.wants(FormatParquet) {
		p := filepath.Join(w.Dir, ParquetName)
		if err := WriteParquet(p, ordered); err != nil {
			warn("parquet", p, err)
		} else {
			art.Files = append(art.Files, p)
		}
	}

	if w.wants(FormatXLSX) {
		p := filepath.Join(w.Dir, WorkbookName)
		if err := WriteXLSX(p, ordered); err != nil {
			return art, fmt.Errorf("writing %s: %w", p, err)
		}
		art.Files = append(art.Files, p)
	}

	if w.wants(FormatCSV) {
		p := filepath.Join(w.Dir, CSVName(w.Opportunity))
		if err := WriteCSV(p, ordered); err != nil {
			warn("csv", p, err)
		} else {
			art.Files = append(art.Files, p)
		}
	}

	// The list holds worksheet rows, so it only goes next to a workbook.
	if w.wants(FormatXLSX) {
		p := filepath.Join(w.Dir, UnmatchedName)
		if err := WriteUnmatched(p, art.UnmatchedRows); err != nil {
			warn("unmatched reversals", p, err)
		} else {
			art.Files = append(art.Files, p)
		}
	}

	for _, f := range art.Files {
		w.logger().Info("wrote output", slog.String("path", f))
	}
	return art, nil
}

// WriteCSV writes the ordered table with a header row.
func WriteCSV(path string, b *claims.Block) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header, rows := b.Table()
	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

// WriteUnmatched writes worksheet row numbers as one comma-separated line.
func WriteUnmatched(path string, rows []int) error {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = strconv.Itoa(r)
	}
	return os.WriteFile(path, []byte(strings.Join(parts, ",")), 0o644)
}

// RunParams records the settings a run used.
type RunParams struct {
	Input       string   `json:"input"`
	Workers     int      `json:"workers"`
	Partition   string   `json:"partition"`
	WindowDays  int      `json:"window_days"`
	Opportunity string   `json:"opportunity"`
	Formats     []Format `json:"formats"`
}

// Summary is the JSON run report.
type Summary struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	ElapsedMS     int64         `json:"elapsed_ms"`
	Params        RunParams     `json:"params"`
	Stats         netting.Stats `json:"stats"`
	Blocks        int           `json:"blocks"`
	RowsWritten   int           `json:"rows_written"`
	UnmatchedRows []int         `json:"unmatched_rows"`
	Files         []string      `json:"files"`
	Uploaded      []string      `json:"uploaded,omitempty"`
	StoredRows    int64         `json:"stored_rows,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// WriteSummary writes the run summary as indented JSON. "-" writes to stdout.
func WriteSummary(outputPath string, s Summary) error {
	if s.UnmatchedRows == nil {
		s.UnmatchedRows = []int{}
	}
	if s.Files == nil {
		s.Files = []string{}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	if outputPath == "-" {
		_, err = os.Stdout.Write(data)
		fmt.Fprintln(os.Stdout)
		return err
	}

	return os.WriteFile(outputPath, data, 0o644)
}
