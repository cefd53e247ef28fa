package series

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

// ManifestFile is the manifest's name inside the series root.
const ManifestFile = "series.json"

// Member is one scenario's entry in a manifest.
type Member struct {
	scenario.Metadata `yaml:",inline"`
	Dir               string `json:"dir" yaml:"dir"`
}

// Manifest aggregates the outcome of a series run.
type Manifest struct {
	SeriesID    string    `json:"series_id" yaml:"series_id"`
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Root        string    `json:"root" yaml:"root"`
	BaseDir     string    `json:"base_dir" yaml:"base_dir"`
	BaseParams  string    `json:"base_params,omitempty" yaml:"base_params,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	EndedAt     time.Time `json:"ended_at" yaml:"ended_at"`
	MaxWorkers  int       `json:"max_workers" yaml:"max_workers"`
	Total       int       `json:"total" yaml:"total"`
	Succeeded   int       `json:"succeeded" yaml:"succeeded"`
	Failed      int       `json:"failed" yaml:"failed"`
	Members     []Member  `json:"members" yaml:"members"`
}

func (s *Series) buildManifest(started time.Time, workers int) *Manifest {
	m := &Manifest{
		SeriesID:    s.ID,
		Title:       s.Title,
		Description: s.Description,
		Root:        s.Root,
		BaseDir:     s.BaseDir,
		BaseParams:  s.base.BaseFile(),
		CreatedAt:   s.CreatedAt,
		StartedAt:   started,
		EndedAt:     time.Now().UTC(),
		MaxWorkers:  workers,
		Total:       len(s.members),
	}
	for _, sc := range s.members {
		switch sc.Status() {
		case scenario.StatusSucceeded:
			m.Succeeded++
		case scenario.StatusFailed:
			m.Failed++
		}
		m.Members = append(m.Members, Member{Metadata: sc.Meta, Dir: sc.Dir})
	}
	return m
}

// Summary renders a one-line outcome.
func (m *Manifest) Summary() string {
	return fmt.Sprintf("series %s: %d scenarios, %d succeeded, %d failed", m.SeriesID, m.Total, m.Succeeded, m.Failed)
}

// FailedMembers returns the members that did not succeed.
func (m *Manifest) FailedMembers() []Member {
	var out []Member
	for _, mem := range m.Members {
		if mem.Status == scenario.StatusFailed {
			out = append(out, mem)
		}
	}
	return out
}

// Write stores the manifest as indented JSON.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return errs.IO("write", path, os.WriteFile(path, append(data, '\n'), 0o644))
}

// LoadManifest reads a manifest written by Run.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IO("read", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &errs.FormatError{Path: path, Msg: err.Error()}
	}
	return &m, nil
}
