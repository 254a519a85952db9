package claims

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Date is a fill date. The zero value is an unknown date.
type Date struct {
	t     time.Time
	valid bool
	zoned bool // parsed from text carrying an explicit UTC offset
}

// NewDate returns a known, offset-free date at midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), valid: true}
}

// DateFromTime wraps t. Times outside UTC are treated as carrying an offset.
func DateFromTime(t time.Time) Date {
	return Date{t: t, valid: true, zoned: t.Location() != time.UTC}
}

// Valid reports whether the date is known.
func (d Date) Valid() bool { return d.valid }

// Zoned reports whether the date carries an explicit UTC offset.
func (d Date) Zoned() bool { return d.zoned }

// Time returns the underlying time; the zero time for unknown dates.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if !d.valid {
		return ""
	}
	if d.zoned {
		return d.t.Format(time.RFC3339)
	}
	if d.t.Hour() == 0 && d.t.Minute() == 0 && d.t.Second() == 0 {
		return d.t.Format(time.DateOnly)
	}
	return d.t.Format(time.DateTime)
}

var naiveLayouts = []string{
	time.DateOnly,
	time.DateTime,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/06 15:04",
	"01-02-06",
	"1/2/06",
	"01-02-2006",
	"2-Jan-06",
	"2-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

var zonedLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-0700",
}

// Excel serials outside this range are not plausible fill dates.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// ParseDate parses a fill date cell. Blank or unrecognised text yields an
// unknown date and ok=false; callers keep the row and let it fail date
// comparisons rather than rejecting it.
func ParseDate(s string) (d Date, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{t: t, valid: true, zoned: true}, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{t: t, valid: true}, true
		}
	}
	// Unformatted workbook cells come through as Excel serial numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= minExcelSerial && serial <= maxExcelSerial {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return Date{t: t.UTC(), valid: true}, true
		}
	}
	return Date{}, false
}

// DaysBetween returns |floor((a-b) in days)|. ok is false when either date
// is unknown. An error means the pair cannot be compared at all.
func DaysBetween(a, b Date) (days int, ok bool, err error) {
	if !a.valid || !b.valid {
		return 0, false, nil
	}
	if a.zoned != b.zoned {
		return 0, false, ErrIncomparableDates
	}
	delta := a.t.Sub(b.t)
	n := int(math.Floor(delta.Hours() / 24))
	if n < 0 {
		n = -n
	}
	return n, true, nil
}
