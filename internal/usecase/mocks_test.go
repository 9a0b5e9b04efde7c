package usecase

import (
	"context"
	"sort"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

type memberKey struct {
	projectID string
	userID    string
}

type mockProjectRepo struct {
	projects map[string]domain.Project
	members  map[memberKey]domain.Member
}

func newMockProjectRepo() *mockProjectRepo {
	return &mockProjectRepo{
		projects: make(map[string]domain.Project),
		members:  make(map[memberKey]domain.Member),
	}
}

func (r *mockProjectRepo) Create(ctx context.Context, project domain.Project) error {
	r.projects[project.ID] = project
	return nil
}

func (r *mockProjectRepo) Get(ctx context.Context, id string) (domain.Project, error) {
	p, ok := r.projects[id]
	if !ok {
		return domain.Project{}, domain.NotFoundError{Resource: "project"}
	}
	return p, nil
}

func (r *mockProjectRepo) ListByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	var out []domain.Project
	for key, m := range r.members {
		if m.UserID != userID {
			continue
		}
		if p, ok := r.projects[key.projectID]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockProjectRepo) Update(ctx context.Context, project domain.Project) error {
	if _, ok := r.projects[project.ID]; !ok {
		return domain.NotFoundError{Resource: "project"}
	}
	r.projects[project.ID] = project
	return nil
}

func (r *mockProjectRepo) Delete(ctx context.Context, id string) error {
	delete(r.projects, id)
	return nil
}

func (r *mockProjectRepo) UpsertMember(ctx context.Context, member domain.Member) error {
	r.members[memberKey{member.ProjectID, member.UserID}] = member
	return nil
}

func (r *mockProjectRepo) RemoveMember(ctx context.Context, projectID, userID string) error {
	delete(r.members, memberKey{projectID, userID})
	return nil
}

func (r *mockProjectRepo) GetMember(ctx context.Context, projectID, userID string) (domain.Member, error) {
	m, ok := r.members[memberKey{projectID, userID}]
	if !ok {
		return domain.Member{}, domain.NotFoundError{Resource: "member"}
	}
	return m, nil
}

func (r *mockProjectRepo) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	var out []domain.Member
	for key, m := range r.members {
		if key.projectID == projectID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

type versionKey struct {
	projectID string
	versionID string
}

type mockSnapshotRepo struct {
	versions map[versionKey]domain.Version
	snaps    map[versionKey]montage.TimelineSnapshot
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{
		versions: make(map[versionKey]domain.Version),
		snaps:    make(map[versionKey]montage.TimelineSnapshot),
	}
}

func (r *mockSnapshotRepo) Save(ctx context.Context, snap montage.TimelineSnapshot, version domain.Version) error {
	key := versionKey{version.ProjectID, version.ID}
	r.versions[key] = version
	r.snaps[key] = snap
	return nil
}

func (r *mockSnapshotRepo) Latest(ctx context.Context, projectID string) (montage.TimelineSnapshot, bool, error) {
	var best montage.TimelineSnapshot
	found := false
	for key, snap := range r.snaps {
		if key.projectID == projectID && (!found || snap.Revision > best.Revision) {
			best = snap
			found = true
		}
	}
	return best, found, nil
}

func (r *mockSnapshotRepo) Get(ctx context.Context, projectID, versionID string) (montage.TimelineSnapshot, domain.Version, error) {
	key := versionKey{projectID, versionID}
	v, ok := r.versions[key]
	if !ok {
		return montage.TimelineSnapshot{}, domain.Version{}, domain.NotFoundError{Resource: "version"}
	}
	return r.snaps[key], v, nil
}

func (r *mockSnapshotRepo) ListVersions(ctx context.Context, projectID string) ([]domain.Version, error) {
	var out []domain.Version
	for key, v := range r.versions {
		if key.projectID == projectID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision > out[j].Revision })
	return out, nil
}

type mockChatRepo struct {
	saved []montage.ChatMessage
}

func (r *mockChatRepo) Save(ctx context.Context, msg montage.ChatMessage) (bool, error) {
	for _, m := range r.saved {
		if m.ID == msg.ID {
			return false, nil
		}
	}
	r.saved = append(r.saved, msg)
	return true, nil
}

func (r *mockChatRepo) Recent(ctx context.Context, projectID string, limit int) ([]montage.ChatMessage, error) {
	var out []montage.ChatMessage
	for _, m := range r.saved {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// mockMedia serves a fixed media catalog.
type mockMedia struct {
	infos map[string]montage.MediaInfo
	err   error
}

func (m *mockMedia) Resolve(ctx context.Context, ref string) (montage.MediaInfo, error) {
	if m.err != nil {
		return montage.MediaInfo{}, m.err
	}
	info, ok := m.infos[ref]
	if !ok {
		return montage.MediaInfo{}, domain.NotFoundError{Resource: "media"}
	}
	return info, nil
}

// mockResolver records submissions and serves a fixed snapshot.
type mockResolver struct {
	snap      montage.TimelineSnapshot
	submitted []montage.Operation
	restored  []montage.TimelineSnapshot
	outcome   montage.Outcome
}

func (m *mockResolver) Submit(ctx context.Context, sessionID string, op montage.Operation) (montage.Outcome, error) {
	m.submitted = append(m.submitted, op)
	return m.outcome, nil
}

func (m *mockResolver) Snapshot(ctx context.Context, projectID string) (montage.TimelineSnapshot, error) {
	return m.snap, nil
}

func (m *mockResolver) Sync(ctx context.Context, projectID string, since int64, deliver func(*montage.TimelineSnapshot, []montage.Delta)) error {
	deliver(&m.snap, nil)
	return nil
}

func (m *mockResolver) Restore(ctx context.Context, projectID string, snap montage.TimelineSnapshot, author string) (montage.Delta, error) {
	m.restored = append(m.restored, snap)
	return montage.Delta{ProjectID: projectID, Revision: m.snap.Revision + 1, Author: author, Kind: montage.OpRestoreVersion}, nil
}
