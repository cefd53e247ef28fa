package optimizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Export writes the result as YAML for .yaml/.yml paths and as indented JSON
// otherwise.
func (r *Result) Export(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(r)
	} else {
		data, err = json.MarshalIndent(r, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return errs.IO("write", path, os.WriteFile(path, data, 0o644))
}

// Load reads a result written by Export.
func Load(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IO("read", path, err)
	}
	var r Result
	if isYAML(path) {
		err = yaml.Unmarshal(data, &r)
	} else {
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, &errs.FormatError{Path: path, Msg: err.Error()}
	}
	return &r, nil
}

// MetafileName returns the next free result file name in dir:
// <title>_<stage>_opt.json for the first calibration under a title and
// stage, then <title>_<stage>_opt1.json, _opt2.json and so on.
func MetafileName(dir, title, stage string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", errs.IO("readdir", dir, err)
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(title+"_"+stage) + `_opt(\d*)\.json$`)
	next := -1
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n := 0
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		next = max(next, n)
	}
	if next < 0 {
		return fmt.Sprintf("%s_%s_opt.json", title, stage), nil
	}
	return fmt.Sprintf("%s_%s_opt%d.json", title, stage, next+1), nil
}

// StageAll selects the results of every stage in LoadStage.
const StageAll = "all"

// LoadStage loads every result exported to dir for stage, in file name
// order: the replicate <title>_<stage>_opt<N> files of repeated
// calibrations. StageAll or an empty stage loads the results of every
// stage.
func LoadStage(dir, stage string) ([]*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.IO("readdir", dir, err)
	}
	prefix := `^.+`
	if stage != "" && stage != StageAll {
		prefix += `_` + regexp.QuoteMeta(stage)
	}
	re := regexp.MustCompile(prefix + `_opt\d*\.(json|ya?ml)$`)

	var out []*Result
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		res, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if stage != "" && stage != StageAll && res.Stage != stage && utils.SanitizeID(res.Stage) != stage {
			continue
		}
		out = append(out, res)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no calibration results for stage %q in %s", stage, dir)
	}
	return out, nil
}

// GroupByStage splits results by stage, keeping the order in which stages
// first appear.
func GroupByStage(results []*Result) [][]*Result {
	var (
		groups [][]*Result
		index  = make(map[string]int)
	)
	for _, r := range results {
		i, ok := index[r.Stage]
		if !ok {
			i = len(groups)
			index[r.Stage] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}
