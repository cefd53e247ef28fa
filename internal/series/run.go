package series

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/scenario"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

// Pool bounds the number of scenarios building or running at once. A Pool
// may be shared by several series to cap total simulator processes.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with n slots; n < 1 is treated as 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// Run builds and runs every member, at most pool.Size() at a time, and
// returns once all of them are terminal. Member failures are recorded on the
// members and in the manifest; the returned error reports only problems with
// the series itself. Cancelling ctx stops running simulators and marks
// members that have not started as cancelled.
func (s *Series) Run(ctx context.Context, pool *Pool, l scenario.Launcher, timeout time.Duration) (*Manifest, error) {
	if s.manifest != nil {
		return nil, fmt.Errorf("series %s: already run", s.ID)
	}
	if pool == nil {
		return nil, fmt.Errorf("series %s: nil pool", s.ID)
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return nil, errs.IO("mkdir", s.Root, err)
	}

	started := time.Now().UTC()
	s.logger.Info("series started", "scenarios", len(s.members), "max_workers", pool.Size(), "root", s.Root)

	var g errgroup.Group
	for _, sc := range s.members {
		g.Go(func() error {
			s.runOne(ctx, pool, sc, l, timeout)
			return nil
		})
	}
	g.Wait()

	m := s.buildManifest(started, pool.Size())
	s.manifest = m
	s.logger.Info("series finished",
		"succeeded", m.Succeeded,
		"failed", m.Failed,
		"duration", utils.FormatDuration(m.EndedAt.Sub(m.StartedAt)),
	)
	if err := m.Write(filepath.Join(s.Root, ManifestFile)); err != nil {
		return m, err
	}
	return m, nil
}

func (s *Series) runOne(ctx context.Context, pool *Pool, sc *scenario.Scenario, l scenario.Launcher, timeout time.Duration) {
	defer s.record(sc)

	if err := pool.sem.Acquire(ctx, 1); err != nil {
		sc.Fail(&errs.RunFailure{ScenarioID: sc.ID, Kind: errs.FailureCancelled, ExitCode: -1, Err: err})
		return
	}
	defer pool.sem.Release(1)

	if err := ctx.Err(); err != nil {
		sc.Fail(&errs.RunFailure{ScenarioID: sc.ID, Kind: errs.FailureCancelled, ExitCode: -1, Err: err})
		return
	}
	if err := sc.Build(s.BaseDir); err != nil {
		return
	}
	if err := sc.Run(ctx, l, timeout); err != nil {
		sc.Fail(err)
	}
}

func (s *Series) record(sc *scenario.Scenario) {
	if s.recorder != nil {
		s.recorder.ScenarioFinished(sc)
	}
}
