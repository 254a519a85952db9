package claims

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2", "2", false},
		{"-2", "-2", false},
		{"2.50", "2.5", false},
		{" 1,000 ", "1000", false},
		{"(30)", "-30", false},
		{"", "0", false},
		{"abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := ParseQuantity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidQuantity))
				return
			}
			require.NoError(t, err)
			assert.True(t, q.Equal(decimal.RequireFromString(tt.want)), "got %s", q)
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in     string
		ok     bool
		zoned  bool
		expect string
	}{
		{"2024-01-05", true, false, "2024-01-05"},
		{"01/05/2024", true, false, "2024-01-05"},
		{"1/5/24", true, false, "2024-01-05"},
		{"20240105", true, false, "2024-01-05"},
		{"2024-01-05 10:30:00", true, false, "2024-01-05 10:30:00"},
		{"2024-01-05T00:00:00Z", true, true, "2024-01-05T00:00:00Z"},
		{"45296", true, false, "2024-01-05"},
		{"1/5/2024 12:00:00 AM", true, false, "2024-01-05"},
		{"1/5/2024 1:30:00 PM", true, false, "2024-01-05 13:30:00"},
		{"5-Jan-24", true, false, "2024-01-05"},
		{"Jan 5, 2024", true, false, "2024-01-05"},
		{"1/5/24 00:00", true, false, "2024-01-05"},
		{"", false, false, ""},
		{"not a date", false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, d.Valid())
			assert.Equal(t, tt.zoned, d.Zoned())
			assert.Equal(t, tt.expect, d.String())
		})
	}
}

func TestDaysBetween(t *testing.T) {
	jan5 := NewDate(2024, time.January, 5)
	jan10 := NewDate(2024, time.January, 10)

	days, ok, err := DaysBetween(jan5, jan10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, days)

	days, ok, err = DaysBetween(jan10, jan5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, days)

	_, ok, err = DaysBetween(Date{}, jan5)
	require.NoError(t, err)
	assert.False(t, ok, "unknown dates are not comparable but are not an error")

	zoned, _ := ParseDate("2024-01-05T00:00:00Z")
	_, _, err = DaysBetween(zoned, jan5)
	assert.ErrorIs(t, err, ErrIncomparableDates)
}

func TestDaysBetween_FloorsPartialDays(t *testing.T) {
	a, _ := ParseDate("2024-01-05 00:00:00")
	b, _ := ParseDate("2024-01-05 12:00:00")

	days, ok, err := DaysBetween(a, b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, days, "-0.5 days floors to -1")

	days, _, _ = DaysBetween(b, a)
	assert.Equal(t, 0, days)
}

func TestFromTable(t *testing.T) {
	header := []string{"ndc", " QUANTITY ", "MemberID", "DateFilled", "Pharmacy", "RowID"}
	rows := [][]string{
		{"X", "2", "M", "2024-01-05", "CVS", "9"},
		{"", "", "", "", "", ""},
		{"X", "-2", "M", "garbage", "Walgreens", "8"},
	}

	b, err := FromTable(header, rows)
	require.NoError(t, err)

	assert.Equal(t, []string{ColDrugCode, ColQuantity, ColSubjectID, ColDateFilled, "Pharmacy"}, b.Columns)
	require.Equal(t, 2, b.Len(), "blank rows are skipped")

	first := b.Records[0]
	assert.Equal(t, KindClaim, first.Kind())
	assert.Equal(t, "X", first.DrugCode)
	assert.Equal(t, "CVS", first.Extra["Pharmacy"])
	assert.True(t, first.DateFilled.Valid())

	second := b.Records[1]
	assert.Equal(t, KindReversal, second.Kind())
	assert.False(t, second.DateFilled.Valid())
	assert.Equal(t, "garbage", second.DateText(), "unparsable dates are written back verbatim")
	assert.Equal(t, 1, second.RowID)
}

func TestFromTable_BadQuantity(t *testing.T) {
	_, err := FromTable([]string{"QUANTITY"}, [][]string{{"1"}, {"two"}})
	require.Error(t, err)

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 2, rowErr.Row)
	assert.Equal(t, ColQuantity, rowErr.Column)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestFromTableWithDates(t *testing.T) {
	header := []string{"MemberID", "NDC", "DATEFILLED", "QUANTITY"}
	rows := [][]string{
		{"M1", "X", "5-Jan", "2"},
		{},
		{"M1", "X", "Jan-24", "-2"},
		{"M2", "Y", "2024-02-01", "1"},
	}
	dates := []string{"45296", "", "45301", "2024-02-01"}

	b, err := FromTableWithDates(header, rows, dates)
	require.NoError(t, err)
	require.Equal(t, 3, b.Len())

	assert.Equal(t, "2024-01-05", b.Records[0].DateFilled.String())
	assert.Equal(t, "5-Jan", b.Records[0].DateText())
	assert.Equal(t, "2024-01-10", b.Records[1].DateFilled.String())
	assert.Equal(t, "Jan-24", b.Records[1].DateText())
	assert.Equal(t, "2024-02-01", b.Records[2].DateFilled.String())

	plain, err := FromTable(header, rows)
	require.NoError(t, err)
	assert.False(t, plain.Records[0].DateFilled.Valid())
}

func TestCheckSchema(t *testing.T) {
	b := &Block{Columns: []string{ColQuantity, ColDrugCode, ColDateFilled, ColStatus}}

	err := CheckSchema(b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{ColSubjectID}, schemaErr.Missing)

	b.Columns = append(b.Columns, ColSubjectID)
	assert.NoError(t, CheckSchema(b))
}

func TestTableRoundTrip(t *testing.T) {
	header := []string{"QUANTITY", "NDC", "MemberID", "DATEFILLED", "Logic", "Plan"}
	rows := [][]string{
		{"2.0", "X", "M", "01/05/2024", "", "A"},
		{"-2", "X", "M", "bad", "7", "B"},
	}
	b, err := FromTable(header, rows)
	require.NoError(t, err)

	gotHeader, gotRows := b.Table()
	assert.Equal(t, header, gotHeader)
	assert.Equal(t, rows, gotRows)
}

func TestPrepare(t *testing.T) {
	header := []string{"QUANTITY", "NDC", "MemberID", "DATEFILLED", "SOURCERECORDID"}
	rows := [][]string{
		{"1", "A", "M", "2024-02-01", "r3"},
		{"1", "B", "M", "", "r0"},
		{"1", "C", "M", "2024-01-01", "r2"},
		{"1", "D", "M", "2024-01-01", "r1"},
	}
	b, err := FromTable(header, rows)
	require.NoError(t, err)

	p := Prepare(b)

	assert.True(t, p.HasColumn(ColStatus))
	assert.False(t, b.HasColumn(ColStatus), "input block is not modified")

	var order []string
	for i, r := range p.Records {
		order = append(order, r.DrugCode)
		assert.Equal(t, i, r.RowID)
	}
	assert.Equal(t, []string{"B", "D", "C", "A"}, order)
	assert.Equal(t, "", p.Records[0].DateText(), "sort placeholder is not written back")
}

func TestClone_IsDeep(t *testing.T) {
	b := &Block{
		Columns: []string{ColStatus, "Plan"},
		Records: []Record{{Status: "", Extra: map[string]string{"Plan": "A"}}},
	}
	c := b.Clone()
	c.Records[0].Status = StatusOffset
	c.Records[0].Extra["Plan"] = "Z"
	c.Columns[0] = "changed"

	assert.Equal(t, "", b.Records[0].Status)
	assert.Equal(t, "A", b.Records[0].Extra["Plan"])
	assert.Equal(t, ColStatus, b.Columns[0])
}
