package vintage

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/table"
)

// publicationLag is the number of months after the reference month before a
// vintage can exist.
var publicationLag = map[string]int{
	Release1: 1,
	Release2: 2,
	Release3: 3,
	Final:    1,
}

// Available reports whether the vintage column for reference month ref could
// have been published by asOf.
func Available(column string, ref, asOf time.Time) bool {
	lag, ok := publicationLag[column]
	if !ok {
		return true
	}
	return !table.MonthStart(asOf).Before(table.MonthStart(ref).AddDate(0, lag, 0))
}

// EnforceAvailability clears vintage values dated after they could have been
// published as of asOf and returns how many cells were cleared.
func (m *Merger) EnforceAvailability(t *table.Table, asOf time.Time) (int, error) {
	cleared := 0
	for _, name := range []string{Release1, Release2, Release3, Final} {
		vals := t.Floats(name)
		if vals == nil {
			continue
		}
		changed := false
		for i := range vals {
			if !vals[i].Valid || Available(name, t.Date(i), asOf) {
				continue
			}
			m.log.Warn("clearing vintage value not yet published",
				zap.String("column", name),
				zap.String("month", table.FormatDate(t.Date(i))),
				zap.Float64("value", vals[i].V),
				zap.String("as_of", table.FormatDate(asOf)),
			)
			vals[i] = table.Float{}
			changed = true
			cleared++
		}
		if changed {
			if err := t.SetFloats(name, vals); err != nil {
				return cleared, err
			}
		}
	}
	return cleared, nil
}
