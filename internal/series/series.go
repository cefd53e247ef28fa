// Package series builds and runs batches of scenarios that share a base input
// tree, with bounded parallelism and a manifest describing every member.
package series

import (
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// Entry is one named modification of the base parameter set. An empty Name
// yields a content-derived scenario id.
type Entry struct {
	Name string
	Mod  params.Modification
}

// Recorder observes finished scenarios, e.g. to export metrics. It is called
// from worker goroutines and must be safe for concurrent use.
type Recorder interface {
	ScenarioFinished(s *scenario.Scenario)
}

// Options carries optional series settings.
type Options struct {
	ID          string // random when empty
	Title       string
	Description string
	Layout      scenario.Layout
	Logger      *slog.Logger
	Recorder    Recorder
}

// Series is an ordered collection of scenarios nested under one root
// directory. Member order is the order of the entries it was built from.
type Series struct {
	ID          string
	Title       string
	Description string
	Root        string
	BaseDir     string
	CreatedAt   time.Time

	base     *params.Set
	members  []*scenario.Scenario
	byID     map[string]*scenario.Scenario
	logger   *slog.Logger
	recorder Recorder
	manifest *Manifest
}

// FromModifications creates one scenario per entry under root/<id>. It fails
// before anything is written when the base tree is missing, a modification
// does not apply, or two entries map to the same id.
func FromModifications(baseDir string, base *params.Set, entries []Entry, root string, opts Options) (*Series, error) {
	if base == nil {
		return nil, fmt.Errorf("series: base parameter set is required")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("series: no modifications")
	}
	fi, err := os.Stat(baseDir)
	if err != nil || !fi.IsDir() {
		return nil, &errs.BuildError{Dir: root, Reason: "base input tree " + baseDir + " is not a directory", Err: errs.IO("stat", baseDir, err)}
	}

	s := &Series{
		ID:          opts.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Root:        root,
		BaseDir:     baseDir,
		CreatedAt:   time.Now().UTC(),
		base:        base,
		byID:        make(map[string]*scenario.Scenario, len(entries)),
		recorder:    opts.Recorder,
	}
	if s.ID == "" {
		s.ID = utils.GenerateSeriesID()
	}
	s.logger = logger.Component(opts.Logger, "series").With("series_id", s.ID)

	for i, e := range entries {
		if e.Mod == nil {
			return nil, fmt.Errorf("series: entry %d (%q) has no modification", i, e.Name)
		}
		p, err := base.Modify(e.Mod)
		if err != nil {
			return nil, fmt.Errorf("series: entry %d (%q): %w", i, e.Name, err)
		}
		desc := e.Mod.Describe()
		id := utils.SanitizeID(e.Name)
		if id == "" {
			id = utils.ContentID(base.BaseFile(), desc.String())
		}
		if _, dup := s.byID[id]; dup {
			return nil, &errs.ConflictError{ID: id, What: "scenario"}
		}
		description := e.Name
		if description == "" {
			description = desc.String()
		}
		sc := scenario.New(id, filepath.Join(root, id), p, opts.Layout, scenario.Metadata{
			Description:  description,
			Modification: desc,
			Diffs:        base.Diff(p),
		})
		sc.Logger = logger.Component(opts.Logger, "scenario").With("series_id", s.ID)
		s.members = append(s.members, sc)
		s.byID[id] = sc
	}
	return s, nil
}

// Len returns the number of members.
func (s *Series) Len() int { return len(s.members) }

// Scenarios returns the members in sampling order.
func (s *Series) Scenarios() []*scenario.Scenario {
	out := make([]*scenario.Scenario, len(s.members))
	copy(out, s.members)
	return out
}

// Get returns the member with the given id.
func (s *Series) Get(id string) (*scenario.Scenario, bool) {
	sc, ok := s.byID[id]
	return sc, ok
}

// Manifest returns the manifest of the last Run, or nil before one.
func (s *Series) Manifest() *Manifest { return s.manifest }

// Outputs yields (id, output table) for every member that completed
// successfully, in member order. The sequence can be ranged more than once.
func (s *Series) Outputs() iter.Seq2[string, *tseries.Table] {
	return func(yield func(string, *tseries.Table) bool) {
		for _, sc := range s.members {
			if sc.Status() != scenario.StatusSucceeded {
				continue
			}
			if !yield(sc.ID, sc.Output()) {
				return
			}
		}
	}
}

// Failures returns members that ended in a failed state.
func (s *Series) Failures() []*scenario.Scenario {
	var out []*scenario.Scenario
	for _, sc := range s.members {
		if sc.Status() == scenario.StatusFailed {
			out = append(out, sc)
		}
	}
	return out
}
