package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/montage-studio/montage/internal/domain"
	"github.com/montage-studio/montage/internal/metrics"
	"github.com/montage-studio/montage/internal/resolver"
	"github.com/montage-studio/montage/internal/usecase"
)

// CheckpointService periodically persists snapshots of active projects so
// that recovery replays a bounded slice of the operation log. A project is
// checkpointed when enough operations accumulated since its last snapshot
// or when the snapshot interval elapsed, whichever comes first.
type CheckpointService struct {
	resolver  *resolver.Manager
	snapshots usecase.SnapshotRepository
	oplog     usecase.OperationLogRepository

	interval    time.Duration
	opThreshold int
	metrics     *metrics.Metrics

	mu        sync.Mutex
	lastRev   map[string]int64
	lastSaved map[string]time.Time
}

// SetMetrics wires the optional checkpoint counter.
func (s *CheckpointService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func NewCheckpointService(
	resolver *resolver.Manager,
	snapshots usecase.SnapshotRepository,
	oplog usecase.OperationLogRepository,
	interval time.Duration,
	opThreshold int,
) *CheckpointService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if opThreshold <= 0 {
		opThreshold = 256
	}
	return &CheckpointService{
		resolver:    resolver,
		snapshots:   snapshots,
		oplog:       oplog,
		interval:    interval,
		opThreshold: opThreshold,
		lastRev:     make(map[string]int64),
		lastSaved:   make(map[string]time.Time),
	}
}

// Run drives the checkpoint loop until ctx is cancelled.
func (s *CheckpointService) Run(ctx context.Context) error {
	tick := s.interval / 8
	if tick < 5*time.Second {
		tick = 5 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *CheckpointService) sweep(ctx context.Context) {
	now := time.Now()
	for _, st := range s.resolver.OpenProjects(ctx) {
		s.mu.Lock()
		last, known := s.lastRev[st.ProjectID]
		saved := s.lastSaved[st.ProjectID]
		s.mu.Unlock()

		if !known {
			// First sighting; start counting from here.
			s.mu.Lock()
			s.lastRev[st.ProjectID] = st.Revision
			s.lastSaved[st.ProjectID] = now
			s.mu.Unlock()
			continue
		}
		if st.Revision <= last {
			continue
		}
		due := st.Revision-last >= int64(s.opThreshold) || now.Sub(saved) >= s.interval
		if !due {
			continue
		}
		if err := s.Checkpoint(ctx, st.ProjectID); err != nil {
			log.Error().Err(err).Str("project_id", st.ProjectID).Msg("checkpoint failed")
		}
	}
}

// Checkpoint persists the project's current state immediately and trims
// the durable operation log below it.
func (s *CheckpointService) Checkpoint(ctx context.Context, projectID string) error {
	snap, err := s.resolver.Snapshot(ctx, projectID)
	if err != nil {
		return errors.Wrap(err, "capturing snapshot")
	}

	version := domain.Version{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Revision:  snap.Revision,
		Name:      "autosave",
		TakenBy:   "system",
		CreatedAt: time.Now(),
	}
	if err := s.snapshots.Save(ctx, snap, version); err != nil {
		return errors.Wrap(err, "persisting snapshot")
	}
	if err := s.oplog.TrimBelow(ctx, projectID, snap.Revision); err != nil {
		// The snapshot is durable; a failed trim only leaves extra rows.
		log.Warn().Err(err).Str("project_id", projectID).Msg("operation log trim failed")
	}

	s.mu.Lock()
	s.lastRev[projectID] = snap.Revision
	s.lastSaved[projectID] = time.Now()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CheckpointsTotal.Inc()
	}

	log.Info().
		Str("project_id", projectID).
		Int64("revision", snap.Revision).
		Msg("project checkpointed")
	return nil
}

// flush checkpoints every dirty project during shutdown.
func (s *CheckpointService) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, st := range s.resolver.OpenProjects(ctx) {
		s.mu.Lock()
		last := s.lastRev[st.ProjectID]
		s.mu.Unlock()
		if st.Revision <= last {
			continue
		}
		if err := s.Checkpoint(ctx, st.ProjectID); err != nil {
			log.Error().Err(err).Str("project_id", st.ProjectID).Msg("shutdown checkpoint failed")
		}
	}
}
