package claims

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Column names as they appear in claim detail workbooks.
const (
	ColQuantity       = "QUANTITY"
	ColDrugCode       = "NDC"
	ColSubjectID      = "MemberID"
	ColDateFilled     = "DATEFILLED"
	ColStatus         = "Logic"
	ColSourceRecordID = "SOURCERECORDID"
	ColRowID          = "RowID"
)

// StatusOffset marks a reversal and the claim it cancels. Downstream
// aggregation coerces Logic to a number and drops anything non-numeric, so
// the literal must stay exactly "OR".
const StatusOffset = "OR"

// RequiredColumns are the columns the netting engine reads or writes.
var RequiredColumns = []string{ColQuantity, ColDrugCode, ColSubjectID, ColDateFilled, ColStatus}

var knownColumns = []string{ColQuantity, ColDrugCode, ColSubjectID, ColDateFilled, ColStatus, ColSourceRecordID, ColRowID}

// CanonicalColumn maps a header cell onto the canonical spelling of a known
// column (case-insensitive, surrounding space ignored). Unknown headers are
// returned trimmed but otherwise verbatim.
func CanonicalColumn(name string) string {
	trimmed := strings.TrimSpace(name)
	for _, c := range knownColumns {
		if strings.EqualFold(trimmed, c) {
			return c
		}
	}
	return trimmed
}

// Kind classifies a record by the sign of its quantity.
type Kind int

const (
	KindNeither Kind = iota
	KindClaim
	KindReversal
)

func (k Kind) String() string {
	switch k {
	case KindClaim:
		return "claim"
	case KindReversal:
		return "reversal"
	default:
		return "neither"
	}
}

// Record is one claim detail row.
type Record struct {
	// RowID is the position assigned by Prepare. It survives partitioning
	// and is how netted blocks are stitched back together.
	RowID int

	Quantity   decimal.Decimal
	DrugCode   string
	SubjectID  string
	DateFilled Date
	Status     string // empty means null

	SourceRecordID string

	// RawQuantity and RawDate keep the source text so writers reproduce the
	// input exactly, including dates that failed to parse.
	RawQuantity string
	RawDate     string

	// Extra holds every other input column by name.
	Extra map[string]string
}

// Kind reports whether the record is a claim, a reversal or neither.
func (r *Record) Kind() Kind {
	switch r.Quantity.Sign() {
	case 1:
		return KindClaim
	case -1:
		return KindReversal
	default:
		return KindNeither
	}
}

// IsOffset reports whether the record carries the "OR" marker.
func (r *Record) IsOffset() bool {
	return r.Status == StatusOffset
}

// QuantityText returns the quantity as it should be written out.
func (r *Record) QuantityText() string {
	if r.RawQuantity != "" {
		return r.RawQuantity
	}
	return r.Quantity.String()
}

// DateText returns the fill date as it should be written out.
func (r *Record) DateText() string {
	if r.RawDate != "" {
		return r.RawDate
	}
	return r.DateFilled.String()
}

// Value returns the text of column col for this record.
func (r *Record) Value(col string) string {
	switch col {
	case ColQuantity:
		return r.QuantityText()
	case ColDrugCode:
		return r.DrugCode
	case ColSubjectID:
		return r.SubjectID
	case ColDateFilled:
		return r.DateText()
	case ColStatus:
		return r.Status
	case ColSourceRecordID:
		return r.SourceRecordID
	default:
		return r.Extra[col]
	}
}

func (r Record) clone() Record {
	if r.Extra != nil {
		extra := make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

// Block is an ordered set of records plus the columns they were read with.
// Blocks are independent: nothing in one block refers to another.
type Block struct {
	Columns []string
	Records []Record
}

// Len returns the number of records.
func (b *Block) Len() int {
	return len(b.Records)
}

// HasColumn reports whether col is present.
func (b *Block) HasColumn(col string) bool {
	for _, c := range b.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that shares no memory with b.
func (b *Block) Clone() *Block {
	out := &Block{
		Columns: append([]string(nil), b.Columns...),
		Records: make([]Record, len(b.Records)),
	}
	for i, r := range b.Records {
		out.Records[i] = r.clone()
	}
	return out
}

// WithRecords returns a block with b's columns and the given records.
func (b *Block) WithRecords(records []Record) *Block {
	return &Block{
		Columns: append([]string(nil), b.Columns...),
		Records: records,
	}
}
