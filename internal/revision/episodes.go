package revision

import (
	_ "embed"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/nfp-revisions/internal/table"
)

//go:embed episodes.yaml
var defaultEpisodes []byte

// Episode is an inclusive range of months flagged as outliers regardless of
// revision size.
type Episode struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Contains reports whether month m falls in the episode.
func (e Episode) Contains(m time.Time) bool {
	m = table.MonthStart(m)
	return !m.Before(e.Start) && !m.After(e.End)
}

type episodeFile struct {
	Episodes []struct {
		Name  string `yaml:"name"`
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"episodes"`
}

// LoadEpisodes reads episodes from a YAML file. An empty path returns the
// built-in financial crisis and COVID episodes.
func LoadEpisodes(path string) ([]Episode, error) {
	data := defaultEpisodes
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "revision: read episodes %s", path)
		}
	}
	return parseEpisodes(data)
}

func parseEpisodes(data []byte) ([]Episode, error) {
	var f episodeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "revision: parse episodes")
	}
	out := make([]Episode, 0, len(f.Episodes))
	for _, e := range f.Episodes {
		start, err := parseMonth(e.Start)
		if err != nil {
			return nil, eris.Wrapf(err, "revision: episode %s start", e.Name)
		}
		end, err := parseMonth(e.End)
		if err != nil {
			return nil, eris.Wrapf(err, "revision: episode %s end", e.Name)
		}
		if end.Before(start) {
			return nil, eris.Errorf("revision: episode %s ends before it starts", e.Name)
		}
		out = append(out, Episode{Name: e.Name, Start: start, End: end})
	}
	return out, nil
}

func parseMonth(s string) (time.Time, error) {
	t, err := table.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return table.MonthStart(t), nil
}
