package source

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/nfp-revisions/internal/fetcher"
	"github.com/sells-group/nfp-revisions/internal/ocr"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// ErrNoReleases is returned when no release could be parsed from a directory.
var ErrNoReleases = eris.New("source: no releases parsed")

var releaseFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`empsit_(\d{4})_(\d{2})_v(\d)\.pdf`),
	regexp.MustCompile(`(\d{4})_(\d{2})_employment_v(\d)\.pdf`),
}

// Tried in order; headline sentences first, then looser phrases.
var payrollPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Total nonfarm payroll employment (?:rose|increased|fell|decreased) by ([\d,]+)`),
	regexp.MustCompile(`(?i)Nonfarm payroll employment (?:rose|increased|fell|decreased) by ([\d,]+)`),
	regexp.MustCompile(`(?i)Total nonfarm.*?(\d{1,3}(?:,\d{3})*)`),
	regexp.MustCompile(`(?i)payroll employment.*?(\d{1,3}(?:,\d{3})*)`),
}

const (
	minPayrollValue = 10_000
	maxPayrollValue = 1_000_000
)

// ReleaseFile identifies one Employment Situation PDF.
type ReleaseFile struct {
	Path    string
	Month   time.Time
	Version int
}

// Release is one parsed payroll figure for a reference month and vintage.
type Release struct {
	ReleaseFile
	Value   float64
	Pattern int
}

// ParseReleaseFilename reads the reference month and vintage from
// empsit_YYYY_MM_vN.pdf or YYYY_MM_employment_vN.pdf.
func ParseReleaseFilename(path string) (ReleaseFile, bool) {
	name := filepath.Base(path)
	for _, re := range releaseFilePatterns {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		mon, _ := strconv.Atoi(m[2])
		ver, _ := strconv.Atoi(m[3])
		if mon < 1 || mon > 12 {
			return ReleaseFile{}, false
		}
		return ReleaseFile{
			Path:    path,
			Month:   time.Date(year, time.Month(mon), 1, 0, 0, 0, 0, time.UTC),
			Version: ver,
		}, true
	}
	return ReleaseFile{}, false
}

// ExtractPayroll returns the first plausible payroll figure in text and the
// index of the pattern that found it.
func ExtractPayroll(text string) (float64, int, bool) {
	for pi, re := range payrollPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
			if err != nil {
				continue
			}
			if v >= minPayrollValue && v <= maxPayrollValue {
				return float64(v), pi, true
			}
		}
	}
	return 0, 0, false
}

// PDFParser extracts payroll figures from a directory of release PDFs.
type PDFParser struct {
	extractor   ocr.Extractor
	concurrency int
	log         *zap.Logger
}

// NewPDFParser creates a parser that runs up to concurrency extractions at once.
func NewPDFParser(ext ocr.Extractor, concurrency int, log *zap.Logger) *PDFParser {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PDFParser{
		extractor:   ext,
		concurrency: concurrency,
		log:         log.With(zap.String("component", "bls_pdf")),
	}
}

// ParseDir parses every PDF in dir. Files that cannot be named or read are
// logged and skipped.
func (p *PDFParser) ParseDir(ctx context.Context, dir string) ([]Release, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, eris.Wrap(err, "bls: glob pdfs")
	}
	slices.Sort(paths)
	if len(paths) == 0 {
		p.log.Warn("no pdf files found", zap.String("dir", dir))
		return nil, nil
	}
	p.log.Info("parsing pdf files", zap.Int("count", len(paths)))

	var (
		mu        sync.Mutex
		results   = make([]*Release, len(paths))
		succeeded atomic.Int64
		failed    atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			rf, ok := ParseReleaseFilename(path)
			if !ok {
				failed.Add(1)
				p.log.Warn("could not parse filename", zap.String("file", filepath.Base(path)))
				return nil
			}
			text, err := p.extractor.ExtractText(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				p.log.Error("text extraction failed", zap.String("file", path), zap.Error(err))
				return nil
			}
			v, pattern, ok := ExtractPayroll(text)
			if !ok {
				failed.Add(1)
				p.log.Error("no payroll figure found", zap.String("file", path))
				return nil
			}
			succeeded.Add(1)
			p.log.Info("extracted payroll figure",
				zap.String("file", filepath.Base(path)),
				zap.String("month", table.FormatDate(rf.Month)),
				zap.Int("version", rf.Version),
				zap.Float64("value", v),
			)
			mu.Lock()
			results[i] = &Release{ReleaseFile: rf, Value: v, Pattern: pattern}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "bls: parse pdfs")
	}

	p.log.Info("pdf parsing complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)

	out := make([]Release, 0, succeeded.Load())
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// PivotReleases lays releases out as one row per month with a release<N>
// column per vintage seen. The first release for a (month, version) wins.
func PivotReleases(releases []Release) (*table.Table, error) {
	if len(releases) == 0 {
		return nil, ErrNoReleases
	}
	type key struct {
		month   time.Time
		version int
	}
	seen := make(map[key]float64)
	var months []time.Time
	var versions []int
	for _, r := range releases {
		k := key{r.Month, r.Version}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = r.Value
		if !slices.ContainsFunc(months, r.Month.Equal) {
			months = append(months, r.Month)
		}
		if !slices.Contains(versions, r.Version) {
			versions = append(versions, r.Version)
		}
	}
	slices.SortFunc(months, func(a, b time.Time) int { return a.Compare(b) })
	slices.Sort(versions)

	t := table.New(months)
	for _, v := range versions {
		vals := make([]table.Float, len(months))
		for i, m := range months {
			if x, ok := seen[key{m, v}]; ok {
				vals[i] = table.Some(x)
			}
		}
		if err := t.SetFloats("release"+strconv.Itoa(v), vals); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LoadReleases reads a release vintage table from a .csv or .xlsx file.
func LoadReleases(ctx context.Context, path string) (*table.Table, error) {
	var (
		header  []string
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		header, records, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	case ".csv":
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "bls: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		header, records, err = fetcher.ReadCSV(ctx, f)
	default:
		return nil, eris.Errorf("bls: unsupported release file %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "bls: read %s", path)
	}

	t, err := table.FromRecords(header, records, table.DateColumn)
	if err != nil {
		return nil, eris.Wrapf(err, "bls: parse %s", path)
	}
	for i := range t.Len() {
		t.SetDate(i, table.MonthStart(t.Date(i)))
	}
	t.SortByDate()
	return t, nil
}

// SaveReleases writes a release table as CSV.
func SaveReleases(path string, t *table.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "bls: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "bls: create releases file")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.WriteAll(t.Records()); err != nil {
		return eris.Wrap(err, "bls: write releases")
	}
	return nil
}
