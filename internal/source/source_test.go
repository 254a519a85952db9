package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/gyeh/rx-netting/internal/claims"
)

const sampleCSV = `SOURCERECORDID,MemberID,NDC,DATEFILLED,QUANTITY,Plan
R1,M1,00002-1433,2024-01-05,30,Gold
R2,M1,00002-1433,2024-01-12,-30,Gold
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func assertSample(t *testing.T, b *claims.Block) {
	t.Helper()
	require.Equal(t, 2, b.Len())
	assert.True(t, b.HasColumn("Plan"))
	r := b.Records[1]
	assert.Equal(t, "R2", r.SourceRecordID)
	assert.Equal(t, "M1", r.SubjectID)
	assert.Equal(t, "00002-1433", r.DrugCode)
	assert.Equal(t, "-30", r.Quantity.String())
	assert.Equal(t, "2024-01-12", r.DateFilled.String())
	assert.Equal(t, "Gold", r.Extra["Plan"])
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"claims.xlsx", FormatXLSX},
		{"CLAIMS.XLSX", FormatXLSX},
		{"claims.csv", FormatCSV},
		{"claims.csv.gz", FormatCSVGz},
		{"claims.jsonl", FormatJSONL},
		{"claims.ndjson", FormatJSONL},
		{"claims.json", FormatJSON},
		{"claims.json.gz", FormatJSONGz},
		{"https://example.com/x/claims.csv", FormatCSV},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := DetectFormat("claims.parquet")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadCSV(t *testing.T) {
	b, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assertSample(t, b)
}

func TestReadCSV_ByteOrderMarkAndRaggedRows(t *testing.T) {
	data := "\uFEFFNDC,MemberID,QUANTITY,DATEFILLED\nX,M1,1,2024-01-01\nX,M1\n"
	b, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, claims.ColDrugCode, b.Columns[0])
	require.Equal(t, 2, b.Len())
	assert.True(t, b.Records[1].Quantity.IsZero())
	assert.False(t, b.Records[1].DateFilled.Valid())
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, claims.ErrEmptyTable)
}

func TestLoad_CSVGzip(t *testing.T) {
	p := writeFile(t, "claims.csv.gz", gzipBytes(t, []byte(sampleCSV)))
	for _, std := range []bool{false, true} {
		b, err := Load(context.Background(), p, Options{UseStdGzip: std})
		require.NoError(t, err)
		assertSample(t, b)
	}
}

func TestLoad_HeaderOnlyIsEmpty(t *testing.T) {
	p := writeFile(t, "claims.csv", []byte("NDC,MemberID,QUANTITY,DATEFILLED\n"))
	_, err := Load(context.Background(), p, Options{})
	assert.ErrorIs(t, err, claims.ErrEmptyTable)
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]any{
		{"SOURCERECORDID", "MemberID", "NDC", "DATEFILLED", "QUANTITY", "Plan"},
		{"R1", "M1", "00002-1433", "2024-01-05", 30, "Gold"},
		{"R2", "M1", "00002-1433", "2024-01-12", -30, "Gold"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	p := filepath.Join(t.TempDir(), "claims.xlsx")
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	b, err := Load(context.Background(), p, Options{})
	require.NoError(t, err)
	assertSample(t, b)

	_, err = ReadXLSX(p, "Missing")
	assert.Error(t, err)
}

func TestReadXLSX_FormattedDateCells(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"MemberID", "NDC", "DATEFILLED", "QUANTITY"}))

	filled := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)
	formats := []int{14, 15, 16, 17, 22}
	for i, numFmt := range formats {
		row := i + 2
		qty := 1
		if i%2 == 1 {
			qty = -1
		}
		require.NoError(t, f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", row), &[]any{"M1", "X", filled, qty}))
		style, err := f.NewStyle(&excelize.Style{NumFmt: numFmt})
		require.NoError(t, err)
		require.NoError(t, f.SetCellStyle("Sheet1", fmt.Sprintf("C%d", row), fmt.Sprintf("C%d", row), style))
	}
	p := filepath.Join(t.TempDir(), "claims.xlsx")
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	b, err := ReadXLSX(p, "")
	require.NoError(t, err)
	require.Equal(t, len(formats), b.Len())
	for i, r := range b.Records {
		assert.True(t, r.DateFilled.Valid(), "format %d shown as %q", formats[i], r.DateText())
		assert.Equal(t, "2024-01-05", r.DateFilled.String(), "format %d", formats[i])
		assert.NotEmpty(t, r.DateText())
	}
	assert.Equal(t, "1/5/24 00:00", b.Records[4].DateText())
}

func TestReadJSONL(t *testing.T) {
	data := `{"SOURCERECORDID":"R1","MemberID":"M1","NDC":"00002-1433","DATEFILLED":"2024-01-05","QUANTITY":30,"Plan":"Gold"}

{"SOURCERECORDID":"R2","MemberID":"M1","NDC":"00002-1433","DATEFILLED":"2024-01-12","QUANTITY":-30,"Plan":"Gold"}
`
	modes := []bool{false}
	if useSimd {
		modes = append(modes, true)
	}
	orig := useSimd
	t.Cleanup(func() { useSimd = orig })

	for _, simd := range modes {
		useSimd = simd
		b, err := ReadJSONL(strings.NewReader(data))
		require.NoError(t, err, "simd=%v", simd)
		assertSample(t, b)
		assert.Equal(t, []string{"SOURCERECORDID", "MemberID", "NDC", "DATEFILLED", "QUANTITY", "Plan"}, b.Columns)
	}
}

func TestReadJSONL_BadLine(t *testing.T) {
	orig := useSimd
	useSimd = false
	t.Cleanup(func() { useSimd = orig })

	_, err := ReadJSONL(strings.NewReader("{\"NDC\":\"X\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestStreamJSON(t *testing.T) {
	doc := `{"meta":{"source":"pbm"},"claims":[
		{"SOURCERECORDID":"R1","MemberID":"M1","NDC":"00002-1433","DATEFILLED":"2024-01-05","QUANTITY":30,"Plan":"Gold"},
		{"SOURCERECORDID":"R2","MemberID":"M1","NDC":"00002-1433","DATEFILLED":"2024-01-12","QUANTITY":-30,"Plan":"Gold"}
	],"count":2}`

	b, err := StreamJSON(strings.NewReader(doc))
	require.NoError(t, err)
	assertSample(t, b)

	arr := doc[strings.Index(doc, "[") : strings.LastIndex(doc, "]")+1]
	b, err = StreamJSON(strings.NewReader(arr))
	require.NoError(t, err)
	assertSample(t, b)

	_, err = StreamJSON(strings.NewReader(`{"rows":[]}`))
	assert.ErrorIs(t, err, claims.ErrEmptyTable)

	_, err = StreamJSON(strings.NewReader(`"claims"`))
	assert.Error(t, err)
}

func TestLoad_JSONAndJSONGzip(t *testing.T) {
	doc := []byte(`{"claims":[
		{"SOURCERECORDID":"R1","MemberID":"M1","NDC":"00002-1433","DATEFILLED":"2024-01-05","QUANTITY":30,"Plan":"Gold"},
		{"SOURCERECORDID":"R2","MemberID":"M1","NDC":"00002-1433","DATEFILLED":"2024-01-12","QUANTITY":-30,"Plan":"Gold"}
	]}`)

	p := writeFile(t, "claims.json", doc)
	b, err := Load(context.Background(), p, Options{TmpDir: t.TempDir()})
	require.NoError(t, err)
	assertSample(t, b)

	gz := writeFile(t, "claims.json.gz", gzipBytes(t, doc))
	b, err = Load(context.Background(), gz, Options{})
	require.NoError(t, err)
	assertSample(t, b)
}

func TestLoad_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exports/claims.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	tmp := t.TempDir()
	var progressCalls int
	b, err := Load(context.Background(), srv.URL+"/exports/claims.csv?sig=abc", Options{
		TmpDir:     tmp,
		OnProgress: func(downloaded, total int64) { progressCalls++ },
	})
	require.NoError(t, err)
	assertSample(t, b)
	assert.Positive(t, progressCalls)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "downloaded file is removed after loading")
}

func TestDownloadHTTP_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := DownloadHTTP(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.EqualValues(t, 1, hits.Load())
}

func TestDownloadHTTP_RetriesServerErrors(t *testing.T) {
	orig := retryBase
	retryBase = time.Millisecond
	t.Cleanup(func() { retryBase = orig })

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := DownloadHTTP(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.EqualValues(t, 3, hits.Load())
}

func TestFileNameFromURL(t *testing.T) {
	assert.Equal(t, "claims.csv", FileNameFromURL("https://host/a/b/claims.csv?X-Amz-Signature=1"))
	assert.Equal(t, "claims.csv", FileNameFromURL("exports/claims.csv"))
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://rx-data/exports/2024/claims.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "rx-data", bucket)
	assert.Equal(t, "exports/2024/claims.xlsx", key)

	for _, bad := range []string{"https://x/y", "s3://bucket", "s3:///key"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}

type fakeFetcher struct {
	data         []byte
	bucket, key  string
	fetchedPaths []string
}

func (f *fakeFetcher) FetchObject(ctx context.Context, bucket, key, dst string) error {
	f.bucket, f.key = bucket, key
	f.fetchedPaths = append(f.fetchedPaths, dst)
	return os.WriteFile(dst, f.data, 0o644)
}

func TestLoad_S3(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(sampleCSV)}
	b, err := Load(context.Background(), "s3://rx-data/exports/claims.csv", Options{S3: fetcher, TmpDir: t.TempDir()})
	require.NoError(t, err)
	assertSample(t, b)
	assert.Equal(t, "rx-data", fetcher.bucket)
	assert.Equal(t, "exports/claims.csv", fetcher.key)
	require.Len(t, fetcher.fetchedPaths, 1)
	assert.NoFileExists(t, fetcher.fetchedPaths[0])

	_, err = Load(context.Background(), "s3://rx-data/exports/claims.csv", Options{})
	assert.Error(t, err)
}
