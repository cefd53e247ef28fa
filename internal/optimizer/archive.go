package optimizer

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/score"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
)

// Entry is one scored sample.
type Entry struct {
	ScenarioID string               `json:"scenario_id" yaml:"scenario_id"`
	Round      int                  `json:"round" yaml:"round"`
	Index      int                  `json:"index" yaml:"index"`
	Dir        string               `json:"dir" yaml:"dir"`
	ParamFile  string               `json:"param_file,omitempty" yaml:"param_file,omitempty"`
	OutputFile string               `json:"output_file,omitempty" yaml:"output_file,omitempty"`
	Values     map[string][]float64 `json:"values" yaml:"values"`
	Means      map[string]float64   `json:"means" yaml:"means"`
	Scores     score.Scores         `json:"scores" yaml:"scores"`
	Status     scenario.Status      `json:"status" yaml:"status"`
	Failure    string               `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// Succeeded reports whether the entry was run and scored.
func (e *Entry) Succeeded() bool { return e.Status == scenario.StatusSucceeded && e.Failure == "" }

// fingerprint identifies a sample by its values, independent of the round
// or directory it ran in.
func (e *Entry) fingerprint() string {
	names := make([]string, 0, len(e.Values))
	for n := range e.Values {
		names = append(names, n)
	}
	slices.Sort(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		for _, v := range e.Values[n] {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		b.WriteByte(';')
	}
	return b.String()
}

// Archive keeps the best entries seen across rounds, sorted best first by
// the primary metric. Entries with equal scores keep the order in which
// they were offered, and a sample evicted once is never admitted again.
// An Archive is not safe for concurrent use.
type Archive struct {
	capacity int
	primary  score.Metric
	entries  []Entry
	members  map[string]bool
	evicted  map[string]bool
}

// NewArchive creates an archive holding at most capacity entries.
func NewArchive(capacity int, primary score.Metric) *Archive {
	if capacity < 1 {
		capacity = 1
	}
	return &Archive{
		capacity: capacity,
		primary:  primary,
		members:  make(map[string]bool),
		evicted:  make(map[string]bool),
	}
}

// Cap returns the configured capacity.
func (a *Archive) Cap() int { return a.capacity }

// Len returns the number of archived entries.
func (a *Archive) Len() int { return len(a.entries) }

// Entries returns a copy of the archived entries, best first.
func (a *Archive) Entries() []Entry { return slices.Clone(a.entries) }

// Best returns the top entry.
func (a *Archive) Best() (Entry, bool) {
	if len(a.entries) == 0 {
		return Entry{}, false
	}
	return a.entries[0], true
}

func (a *Archive) key(e *Entry) float64 {
	return score.Key(a.primary, e.Scores[a.primary.Name()])
}

// Offer merges e into the archive and reports whether it was kept. Failed
// entries, samples already archived and samples evicted earlier are
// rejected.
func (a *Archive) Offer(e Entry) bool {
	if !e.Succeeded() {
		return false
	}
	fp := e.fingerprint()
	if a.members[fp] || a.evicted[fp] {
		return false
	}
	k := a.key(&e)
	// insert after every entry that is at least as good
	i := sort.Search(len(a.entries), func(i int) bool { return a.key(&a.entries[i]) < k })
	a.entries = slices.Insert(a.entries, i, e)
	a.members[fp] = true

	if len(a.entries) > a.capacity {
		last := a.entries[len(a.entries)-1]
		a.entries = a.entries[:len(a.entries)-1]
		lfp := last.fingerprint()
		delete(a.members, lfp)
		a.evicted[lfp] = true
		return lfp != fp
	}
	return true
}

// BestKey returns the primary-metric key of the top entry, or -Inf.
func (a *Archive) BestKey() float64 {
	if len(a.entries) == 0 {
		return score.Key(a.primary, score.Worst(a.primary))
	}
	return a.key(&a.entries[0])
}
