package scenario

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

// Metadata is the record written to <dir>/metadata.json after a run and
// aggregated into series manifests.
type Metadata struct {
	ID              string             `json:"id" yaml:"id"`
	Description     string             `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt       time.Time          `json:"created_at" yaml:"created_at"`
	BaseParams      string             `json:"base_params,omitempty" yaml:"base_params,omitempty"`
	Modification    params.Descriptor  `json:"modification" yaml:"modification"`
	Diffs           []params.ParamDiff `json:"diffs,omitempty" yaml:"diffs,omitempty"`
	Status          Status             `json:"status" yaml:"status"`
	Failure         *FailureRecord     `json:"failure,omitempty" yaml:"failure,omitempty"`
	StartedAt       time.Time          `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	EndedAt         time.Time          `json:"ended_at,omitzero" yaml:"ended_at,omitempty"`
	DurationSeconds float64            `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
}

// FailureRecord is the serialisable form of a scenario failure.
type FailureRecord struct {
	Kind     string `json:"kind" yaml:"kind"`
	ExitCode int    `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

func (m *Metadata) recordFailure(err error) {
	if err == nil {
		m.Failure = nil
		return
	}
	rec := &FailureRecord{Kind: "build", Message: err.Error()}
	var rf *errs.RunFailure
	if errors.As(err, &rf) {
		rec.Kind = string(rf.Kind)
		rec.ExitCode = rf.ExitCode
	}
	m.Status = StatusFailed
	m.Failure = rec
}

// Write stores the metadata as indented JSON.
func (m *Metadata) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return errs.IO("write", path, os.WriteFile(path, append(data, '\n'), 0o644))
}

// LoadMetadata reads a metadata.json file.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IO("read", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &errs.FormatError{Path: path, Msg: err.Error()}
	}
	return &m, nil
}
