package resolver

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

var tracer = otel.Tracer("resolver")

// SnapshotStore loads the most recent durable snapshot for recovery. The
// implementation must verify snapshot integrity and surface
// domain.SnapshotCorruptError on mismatch.
type SnapshotStore interface {
	Latest(ctx context.Context, projectID string) (montage.TimelineSnapshot, bool, error)
}

// OpLog is the durable operation log used for crash recovery between
// checkpoints.
type OpLog interface {
	Append(ctx context.Context, op montage.Operation, delta montage.Delta) error
	DeltasAfter(ctx context.Context, projectID string, revision int64) ([]montage.Delta, error)
}

// CommitHook observes committed operations in commit order. Hooks run
// inside the project's serialization point, so everything a hook enqueues
// is revision-ordered.
type CommitHook interface {
	OperationCommitted(op montage.Operation, delta montage.Delta, sessionID string)
}

// Status reports an open project's current revision.
type Status struct {
	ProjectID string
	Revision  int64
}

// Manager is the arena of per-project resolvers. Each project is served by
// a single goroutine owning its timeline state; projects are fully
// independent, and a fault in one never reaches another.
type Manager struct {
	snapshots SnapshotStore
	oplog     OpLog
	retention int

	mu          sync.Mutex
	projects    map[string]*project
	unavailable map[string]error
	hooks       []CommitHook
	closed      bool
}

const defaultRetention = 512

func NewManager(snapshots SnapshotStore, oplog OpLog, retention int) *Manager {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Manager{
		snapshots:   snapshots,
		oplog:       oplog,
		retention:   retention,
		projects:    make(map[string]*project),
		unavailable: make(map[string]error),
	}
}

// AddCommitHook registers a hook. Must be called before the first Submit.
func (m *Manager) AddCommitHook(h CommitHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdSync
	cmdSnapshot
	cmdRestore
)

type command struct {
	kind      cmdKind
	op        montage.Operation
	sessionID string
	since     int64
	deliver   func(*montage.TimelineSnapshot, []montage.Delta)
	restore   montage.TimelineSnapshot
	author    string
	reply     chan result
}

type result struct {
	outcome montage.Outcome
	snap    montage.TimelineSnapshot
	delta   montage.Delta
	err     error
}

type project struct {
	id   string
	cmds chan command
	// stop asks the run loop to exit; only Close closes it. closed is
	// closed by the run loop itself once it has stopped serving.
	stop   chan struct{}
	closed chan struct{}
}

type logEntry struct {
	op    montage.Operation
	delta montage.Delta
}

// Submit routes an operation through its project's serialization point and
// returns the terminal outcome. The sessionID identifies the submitting
// connection for broadcast exclusion; it is not part of the operation.
func (m *Manager) Submit(ctx context.Context, sessionID string, op montage.Operation) (montage.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Resolver.Submit")
	defer span.End()

	res, err := m.dispatch(ctx, op.ProjectID, command{kind: cmdSubmit, op: op, sessionID: sessionID})
	if err != nil {
		span.RecordError(err)
		return montage.Outcome{}, err
	}
	return res.outcome, res.err
}

// Snapshot returns a consistent snapshot of the project's current state.
func (m *Manager) Snapshot(ctx context.Context, projectID string) (montage.TimelineSnapshot, error) {
	res, err := m.dispatch(ctx, projectID, command{kind: cmdSnapshot})
	if err != nil {
		return montage.TimelineSnapshot{}, err
	}
	return res.snap, res.err
}

// Sync delivers, atomically with respect to commits, either the deltas
// since the given revision (when still inside the retained window) or a
// full snapshot. deliver runs inside the serialization point and must not
// block; enqueueing frames onto a connection's writer queue is the
// intended use.
func (m *Manager) Sync(ctx context.Context, projectID string, since int64, deliver func(*montage.TimelineSnapshot, []montage.Delta)) error {
	_, err := m.dispatch(ctx, projectID, command{kind: cmdSync, since: since, deliver: deliver})
	return err
}

// Restore replaces the project's state with a prior version snapshot as a
// new revision. History is never rewritten.
func (m *Manager) Restore(ctx context.Context, projectID string, snap montage.TimelineSnapshot, author string) (montage.Delta, error) {
	res, err := m.dispatch(ctx, projectID, command{kind: cmdRestore, restore: snap, author: author})
	if err != nil {
		return montage.Delta{}, err
	}
	return res.delta, res.err
}

// OpenProjects lists currently resident projects and their revisions.
func (m *Manager) OpenProjects(ctx context.Context) []Status {
	m.mu.Lock()
	ids := make([]string, 0, len(m.projects))
	for id := range m.projects {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Snapshot(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, Status{ProjectID: id, Revision: snap.Revision})
	}
	return out
}

// Close stops all project loops.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	// The run loop owns p.cmds; closing it here would race a concurrent
	// dispatch send. Signal shutdown instead and let the loop drain.
	for _, p := range m.projects {
		close(p.stop)
	}
	m.projects = make(map[string]*project)
}

func (m *Manager) dispatch(ctx context.Context, projectID string, cmd command) (result, error) {
	if projectID == "" {
		return result{}, errors.New("project id is required")
	}
	p, err := m.get(projectID)
	if err != nil {
		return result{}, err
	}

	cmd.reply = make(chan result, 1)
	select {
	case p.cmds <- cmd:
	case <-p.closed:
		return result{}, m.unavailableErr(projectID)
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-p.closed:
		select {
		case res := <-cmd.reply:
			return res, nil
		default:
		}
		return result{}, m.unavailableErr(projectID)
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (m *Manager) get(projectID string) (*project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("resolver is shut down")
	}
	if err, ok := m.unavailable[projectID]; ok {
		return nil, err
	}
	if p, ok := m.projects[projectID]; ok {
		return p, nil
	}
	p := &project{
		id:     projectID,
		cmds:   make(chan command, 64),
		stop:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	m.projects[projectID] = p
	go m.run(p)
	return p, nil
}

func (m *Manager) unavailableErr(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.unavailable[projectID]; ok {
		return err
	}
	return domain.ErrProjectUnavailable
}

func (m *Manager) markUnavailable(projectID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable[projectID] = err
	delete(m.projects, projectID)
}

// run is the single writer for one project. It recovers durable state
// first, then serves commands until the manager shuts down. A panic while
// applying marks only this project unavailable.
func (m *Manager) run(p *project) {
	defer close(p.closed)
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("resolver panic: %v", r)
			log.Error().Str("project_id", p.id).Interface("panic", r).Msg("project resolver crashed")
			m.markUnavailable(p.id, err)
		}
	}()

	state, err := m.recover(p.id)
	if err != nil {
		log.Error().Err(err).Str("project_id", p.id).Msg("project recovery failed")
		m.markUnavailable(p.id, err)
		// Answer whatever is already queued before going down.
		for {
			select {
			case cmd := <-p.cmds:
				cmd.reply <- result{err: err}
			default:
				return
			}
		}
	}

	s := &session{
		manager:   m,
		state:     state,
		applied:   make(map[string]montage.Outcome),
		retention: m.retention,
	}

	for {
		select {
		case cmd := <-p.cmds:
			s.serve(cmd)
		case <-p.stop:
			// Fail whatever slipped into the queue before returning.
			for {
				select {
				case cmd := <-p.cmds:
					cmd.reply <- result{err: errors.New("resolver is shut down")}
				default:
					return
				}
			}
		}
	}
}

func (s *session) serve(cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		cmd.reply <- result{outcome: s.submit(cmd.op, cmd.sessionID)}
	case cmdSnapshot:
		cmd.reply <- result{snap: s.state.Snapshot()}
	case cmdSync:
		s.sync(cmd.since, cmd.deliver)
		cmd.reply <- result{}
	case cmdRestore:
		delta, err := s.restore(cmd.restore, cmd.author)
		cmd.reply <- result{delta: delta, err: err}
	}
}

// recover rebuilds the authoritative timeline from the latest snapshot plus
// the durable deltas committed after it.
func (m *Manager) recover(projectID string) (*domain.Timeline, error) {
	ctx := context.Background()
	state := domain.NewTimeline(projectID)

	snap, found, err := m.snapshots.Latest(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "loading latest snapshot")
	}
	if found {
		if err := state.Restore(snap); err != nil {
			return nil, errors.Wrap(err, "restoring snapshot")
		}
	}

	deltas, err := m.oplog.DeltasAfter(ctx, projectID, state.Revision())
	if err != nil {
		return nil, errors.Wrap(err, "reading operation log")
	}
	for _, d := range deltas {
		if _, err := state.Apply(d); err != nil {
			return nil, errors.Wrapf(err, "replaying delta at revision %d", d.Revision)
		}
	}

	if found || len(deltas) > 0 {
		log.Info().
			Str("project_id", projectID).
			Int64("revision", state.Revision()).
			Int("replayed", len(deltas)).
			Msg("project state recovered")
	}
	return state, nil
}

// session is the loop-owned mutable state of one project.
type session struct {
	manager   *Manager
	state     *domain.Timeline
	log       []logEntry
	applied   map[string]montage.Outcome
	retention int
}

func (s *session) submit(op montage.Operation, sessionID string) montage.Outcome {
	// Idempotence: the same operation id resolves to its original outcome.
	if prev, ok := s.applied[op.ID]; ok {
		return prev
	}

	outcome := s.resolve(op, sessionID)
	s.applied[op.ID] = outcome
	return outcome
}

func (s *session) resolve(op montage.Operation, sessionID string) montage.Outcome {
	rejected := func(reason montage.RejectReason) montage.Outcome {
		return montage.Outcome{Status: montage.StatusRejected, OpID: op.ID, Reason: reason}
	}
	superseded := func(by string) montage.Outcome {
		return montage.Outcome{Status: montage.StatusSuperseded, OpID: op.ID, SupersededBy: by}
	}

	if err := montage.ValidateOperation(op); err != nil {
		return rejected(montage.ReasonMalformedPayload)
	}

	current := s.state.Revision()
	if op.BaseRevision > current {
		return rejected(montage.ReasonStaleReference)
	}
	oldest := current
	if len(s.log) > 0 {
		oldest = s.log[0].delta.Revision - 1
	}
	if op.BaseRevision < oldest {
		// Base predates the retained window; the client must resync first.
		return rejected(montage.ReasonStaleReference)
	}

	payload, err := op.DecodePayload()
	if err != nil {
		return rejected(montage.ReasonMalformedPayload)
	}

	stale := op.BaseRevision < current
	if stale {
		for i := range s.log {
			entry := &s.log[i]
			if entry.delta.Revision <= op.BaseRevision {
				continue
			}
			if conflicted := transform(op.Kind, payload, entry); conflicted {
				return superseded(entry.op.ID)
			}
		}
	}

	delta, applyErr := evaluate(s.state, op, payload)
	if applyErr != nil {
		if stale {
			// The precondition held at the op's base revision; a concurrent
			// commit invalidated it.
			return superseded("")
		}
		return rejected(applyErr.reason)
	}

	final, err := op.WithPayload(payload)
	if err != nil {
		return rejected(montage.ReasonMalformedPayload)
	}
	return s.commit(final, delta, sessionID)
}

func (s *session) commit(op montage.Operation, delta montage.Delta, sessionID string) montage.Outcome {
	if _, err := s.state.Apply(delta); err != nil {
		// Cannot happen for a delta built against the current state.
		panic(err)
	}
	delta.Checksum = s.state.Checksum()

	s.log = append(s.log, logEntry{op: op, delta: delta})
	if len(s.log) > s.retention {
		drop := s.log[:len(s.log)-s.retention]
		for _, e := range drop {
			delete(s.applied, e.op.ID)
		}
		s.log = append([]logEntry(nil), s.log[len(s.log)-s.retention:]...)
	}

	if err := s.manager.oplog.Append(context.Background(), op, delta); err != nil {
		log.Error().Err(err).
			Str("project_id", op.ProjectID).
			Int64("revision", delta.Revision).
			Msg("durable operation log append failed")
	}

	for _, h := range s.manager.hooks {
		h.OperationCommitted(op, delta, sessionID)
	}

	d := delta
	return montage.Outcome{Status: montage.StatusAccepted, OpID: op.ID, Delta: &d}
}

func (s *session) sync(since int64, deliver func(*montage.TimelineSnapshot, []montage.Delta)) {
	current := s.state.Revision()
	if since >= current {
		deliver(nil, nil)
		return
	}
	oldest := int64(0)
	if len(s.log) > 0 {
		oldest = s.log[0].delta.Revision - 1
	} else {
		oldest = current
	}
	if since < oldest {
		snap := s.state.Snapshot()
		deliver(&snap, nil)
		return
	}
	var deltas []montage.Delta
	for _, e := range s.log {
		if e.delta.Revision > since {
			deltas = append(deltas, e.delta)
		}
	}
	deliver(nil, deltas)
}

func (s *session) restore(snap montage.TimelineSnapshot, author string) (montage.Delta, error) {
	next := montage.TimelineSnapshot{
		ProjectID: s.state.ProjectID,
		Revision:  s.state.Revision() + 1,
		Tracks:    snap.Tracks,
	}

	delta := montage.Delta{
		ProjectID: s.state.ProjectID,
		Revision:  next.Revision,
		OpID:      newOpID(),
		Author:    author,
		Kind:      montage.OpRestoreVersion,
	}
	for _, id := range s.state.TrackIDs() {
		for _, c := range s.state.ClipsOn(id) {
			delta.Removed = append(delta.Removed, c.ID)
		}
	}
	for _, tr := range snap.Tracks {
		delta.Upserted = append(delta.Upserted, tr.Clips...)
	}

	op := montage.Operation{
		ID:        delta.OpID,
		Author:    author,
		ProjectID: s.state.ProjectID,
		Kind:      montage.OpRestoreVersion,
	}
	outcome := s.commit(op, delta, "")
	if outcome.Status != montage.StatusAccepted || outcome.Delta == nil {
		return montage.Delta{}, errors.New("restore commit failed")
	}
	return *outcome.Delta, nil
}
