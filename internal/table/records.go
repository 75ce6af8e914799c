package table

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01",
	"1/2/2006",
}

// ParseDate parses the date formats found in FRED and BLS exports.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("table: unparseable date %q", s)
}

// FormatDate renders a month key the way datasets store it.
func FormatDate(t time.Time) string { return t.Format("2006-01-02") }

// FormatCell renders row i of a column as text. Missing cells are empty.
func FormatCell(c *Column, i int) string {
	switch c.Kind {
	case KindFloat:
		if !c.Floats[i].Valid {
			return ""
		}
		return strconv.FormatFloat(c.Floats[i].V, 'f', -1, 64)
	case KindBool:
		if !c.Bools[i].Valid {
			return ""
		}
		return strconv.FormatBool(c.Bools[i].V)
	default:
		if !c.Strings[i].Valid {
			return ""
		}
		return c.Strings[i].V
	}
}

// Records renders the table as a header row plus one record per month.
func (t *Table) Records() [][]string {
	header := append([]string{DateColumn}, t.Columns()...)
	out := make([][]string, 0, t.Len()+1)
	out = append(out, header)
	for i := range t.dates {
		rec := make([]string, 0, len(header))
		rec = append(rec, FormatDate(t.dates[i]))
		for _, c := range t.cols {
			rec = append(rec, FormatCell(c, i))
		}
		out = append(out, rec)
	}
	return out
}

// FromRecords builds a table from a header and text records, inferring each
// column's kind. The column named key becomes the month index.
func FromRecords(header []string, records [][]string, key string) (*Table, error) {
	return FromRecordsWithKinds(header, records, key, nil)
}

// FromRecordsWithKinds is FromRecords with declared kinds. A column named in
// kinds is parsed as that kind; the rest are inferred. Text that does not
// parse as the declared kind is read as missing.
func FromRecordsWithKinds(header []string, records [][]string, key string, kinds map[string]Kind) (*Table, error) {
	keyIdx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), key) {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, eris.Wrapf(ErrMissingColumn, "key column %q", key)
	}

	dates := make([]time.Time, 0, len(records))
	for n, rec := range records {
		if keyIdx >= len(rec) {
			return nil, eris.Errorf("table: record %d has no %s value", n+1, key)
		}
		d, err := ParseDate(rec[keyIdx])
		if err != nil {
			return nil, eris.Wrapf(err, "table: record %d", n+1)
		}
		dates = append(dates, d)
	}

	t := New(dates)
	for ci, h := range header {
		if ci == keyIdx {
			continue
		}
		name := strings.TrimSpace(h)
		raw := make([]string, len(records))
		for ri, rec := range records {
			if ci < len(rec) {
				raw[ri] = strings.TrimSpace(rec[ci])
			}
		}
		kind, ok := kinds[name]
		if !ok {
			kind = inferKind(raw)
		}
		if err := t.setParsed(name, kind, raw); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) setParsed(name string, kind Kind, raw []string) error {
	switch kind {
	case KindFloat:
		vals := make([]Float, len(raw))
		for i, s := range raw {
			if v, ok := parseNumber(s); ok {
				vals[i] = Some(v)
			}
		}
		return t.SetFloats(name, vals)
	case KindBool:
		vals := make([]sql.Null[bool], len(raw))
		for i, s := range raw {
			if b, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
				vals[i] = sql.Null[bool]{V: b, Valid: true}
			}
		}
		return t.SetBools(name, vals)
	default:
		vals := make([]sql.Null[string], len(raw))
		for i, s := range raw {
			if s != "" {
				vals[i] = sql.Null[string]{V: s, Valid: true}
			}
		}
		return t.SetStrings(name, vals)
	}
}

func inferKind(raw []string) Kind {
	numeric, boolean := true, true
	for _, s := range raw {
		if s == "" || s == "." || strings.EqualFold(s, "nan") {
			continue
		}
		if _, ok := parseNumber(s); !ok {
			numeric = false
		}
		switch strings.ToLower(s) {
		case "true", "false":
		default:
			boolean = false
		}
	}
	switch {
	case numeric:
		return KindFloat
	case boolean:
		return KindBool
	default:
		return KindString
	}
}

// parseNumber accepts plain numbers and FRED's "." placeholder as missing.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "." || strings.EqualFold(s, "nan") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
