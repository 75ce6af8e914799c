package seasonal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/config"
)

// Saved component tables per method: adjusted, seasonal, trend, irregular.
var componentTables = map[Method][4]string{
	MethodX11:   {"d11", "d10", "d12", "d13"},
	MethodSEATS: {"s11", "s10", "s12", "s13"},
}

// Sliding spans need enough years for four overlapping spans.
const minSlidingSpanObs = 96

// X13 runs the x13as binary as a SeasonalModel. Each fit gets its own
// temporary directory holding the .spc file and the saved tables.
type X13 struct {
	binary  string
	workDir string
	keep    bool
	log     *zap.Logger
}

// NewX13 creates an X13 model from cfg.
func NewX13(cfg config.SeasonalConfig, log *zap.Logger) *X13 {
	bin := cfg.Binary
	if bin == "" {
		bin = "x13as"
	}
	return &X13{
		binary:  bin,
		workDir: cfg.WorkDir,
		keep:    cfg.KeepWorkFiles,
		log:     log.With(zap.String("component", "x13")),
	}
}

// Fit writes the .spc file, runs x13as and reads back the component tables and
// the .udg diagnostics summary.
func (x *X13) Fit(ctx context.Context, req FitRequest) (*FitResult, error) {
	tables, ok := componentTables[req.Method]
	if !ok {
		return nil, eris.Errorf("x13: unsupported method %q", req.Method)
	}

	dir, err := os.MkdirTemp(x.workDir, "x13-"+req.Series+"-"+string(req.Method)+"-")
	if err != nil {
		return nil, eris.Wrap(err, "x13: create work dir")
	}
	if x.keep {
		x.log.Debug("keeping work files", zap.String("dir", dir))
	} else {
		defer os.RemoveAll(dir) //nolint:errcheck
	}

	base := filepath.Join(dir, "series")
	var spec bytes.Buffer
	if err := WriteSpec(&spec, req); err != nil {
		return nil, err
	}
	if err := os.WriteFile(base+".spc", spec.Bytes(), 0o644); err != nil {
		return nil, eris.Wrap(err, "x13: write spec")
	}

	cmd := exec.CommandContext(ctx, x.binary, base, "-n", "-s")
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "x13: %s failed: %s%s", x.binary, stderr.String(), errorFileText(base))
	}

	res := &FitResult{}
	dst := []*[]float64{&res.Adjusted, &res.Seasonal, &res.Trend, &res.Irregular}
	for i, ext := range tables {
		vals, err := readSavedTable(base + "." + ext)
		if err != nil {
			if i == 0 {
				return nil, eris.Wrapf(err, "x13: read adjusted series%s", errorFileText(base))
			}
			x.log.Debug("component table unavailable", zap.String("table", ext), zap.Error(err))
			continue
		}
		*dst[i] = vals
	}

	udg, err := readUDG(base + ".udg")
	if err != nil {
		x.log.Debug("diagnostics summary unavailable", zap.Error(err))
		return res, nil
	}
	applyUDG(res, udg)
	return res, nil
}

// WriteSpec renders the X-13 spec file for req.
func WriteSpec(w io.Writer, req FitRequest) error {
	period := req.Period
	if period == 0 {
		period = 12
	}
	transform := req.Transform
	if transform == "" {
		transform = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "series{\n  title=%q\n  start=%d.%02d\n  period=%d\n  data=(\n", req.Series, req.Start.Year(), int(req.Start.Month()), period)
	for _, v := range req.Values {
		fmt.Fprintf(&b, "    %s\n", strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteString("  )\n}\n")
	fmt.Fprintf(&b, "transform{\n  function=%s\n}\n", transform)
	if req.AutoModel {
		b.WriteString("automdl{ }\n")
	}
	if req.Outliers {
		b.WriteString("outlier{ }\n")
	}
	b.WriteString("check{ }\n")

	tables := componentTables[req.Method]
	switch req.Method {
	case MethodX11:
		mode := "mult"
		if transform == "none" {
			mode = "add"
		}
		fmt.Fprintf(&b, "x11{\n  mode=%s\n  save=(%s)\n}\n", mode, strings.Join(tables[:], " "))
	case MethodSEATS:
		fmt.Fprintf(&b, "seats{\n  save=(%s)\n}\n", strings.Join(tables[:], " "))
	default:
		return eris.Errorf("x13: unsupported method %q", req.Method)
	}
	if len(req.Values) >= minSlidingSpanObs {
		b.WriteString("slidingspans{ }\n")
	}

	_, err := io.WriteString(w, b.String())
	return eris.Wrap(err, "x13: write spec")
}

// readSavedTable parses an X-13 saved table: two header lines then
// "YYYYMM<tab>value" rows.
func readSavedTable(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var out []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "x13: %s period %s", filepath.Base(path), fields[0])
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "x13: scan %s", path)
	}
	if len(out) == 0 {
		return nil, eris.Errorf("x13: %s has no observations", filepath.Base(path))
	}
	return out, nil
}

// readUDG parses the "key: value" diagnostics summary.
func readUDG(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for line := range strings.Lines(string(data)) {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func applyUDG(res *FitResult, udg map[string]string) {
	res.FitStat = udgFloat(udg, "aicc")
	// lbq holds the residual Ljung-Box statistic; some builds also append df and p-value.
	if fields := strings.Fields(udg["lbq"]); len(fields) > 0 {
		res.ResidualStat = parseFloat(fields[0])
		if len(fields) >= 3 {
			res.ResidualPValue = parseFloat(fields[len(fields)-1])
		}
	}
	if res.ResidualPValue == nil {
		res.ResidualPValue = udgFloat(udg, "lbqpval")
	}
	for k := range udg {
		if !strings.HasPrefix(k, "ssa") && !strings.HasPrefix(k, "sspans") {
			continue
		}
		if f := udgFloat(udg, k); f != nil {
			if res.SlidingSpans == nil {
				res.SlidingSpans = make(map[string]float64)
			}
			res.SlidingSpans[k] = *f
		}
	}
}

func udgFloat(udg map[string]string, key string) *float64 {
	v, ok := udg[key]
	if !ok {
		return nil
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return nil
	}
	return parseFloat(fields[0])
}

func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// errorFileText returns the x13as .err file contents for error messages.
func errorFileText(base string) string {
	data, err := os.ReadFile(base + ".err")
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	return ": " + strings.TrimSpace(string(data))
}
