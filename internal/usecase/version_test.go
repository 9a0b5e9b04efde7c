package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

func TestCreateVersionCapturesCurrentState(t *testing.T) {
	ctx := context.Background()
	repo := newMockProjectRepo()
	repo.UpsertMember(ctx, domain.Member{ProjectID: "p1", UserID: "alice", Role: montage.RoleOwner})
	snaps := newMockSnapshotRepo()
	res := &mockResolver{snap: montage.TimelineSnapshot{ProjectID: "p1", Revision: 42}}
	uc := NewVersionUsecase(res, repo, snaps)

	version, err := uc.Create(ctx, "alice", "p1", "  rough cut ", "before color pass")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if version.Name != "rough cut" || version.Revision != 42 || version.TakenBy != "alice" {
		t.Fatalf("version metadata wrong: %+v", version)
	}

	snap, _, err := snaps.Get(ctx, "p1", version.ID)
	if err != nil {
		t.Fatalf("saved snapshot missing: %v", err)
	}
	if snap.Revision != 42 {
		t.Fatalf("saved wrong revision: %d", snap.Revision)
	}
}

func TestCreateVersionRequiresEditor(t *testing.T) {
	ctx := context.Background()
	repo := newMockProjectRepo()
	repo.UpsertMember(ctx, domain.Member{ProjectID: "p1", UserID: "viewer", Role: montage.RoleViewer})
	uc := NewVersionUsecase(&mockResolver{}, repo, newMockSnapshotRepo())

	if _, err := uc.Create(ctx, "viewer", "p1", "cut", ""); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("viewer must not create versions: %v", err)
	}
	if _, err := uc.Create(ctx, "mallory", "p1", "cut", ""); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("non-member must not create versions: %v", err)
	}
}

func TestCreateVersionRequiresName(t *testing.T) {
	ctx := context.Background()
	repo := newMockProjectRepo()
	repo.UpsertMember(ctx, domain.Member{ProjectID: "p1", UserID: "alice", Role: montage.RoleEditor})
	uc := NewVersionUsecase(&mockResolver{}, repo, newMockSnapshotRepo())

	if _, err := uc.Create(ctx, "alice", "p1", "   ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestRestorePassesSavedSnapshotToResolver(t *testing.T) {
	ctx := context.Background()
	repo := newMockProjectRepo()
	repo.UpsertMember(ctx, domain.Member{ProjectID: "p1", UserID: "alice", Role: montage.RoleEditor})
	snaps := newMockSnapshotRepo()
	saved := montage.TimelineSnapshot{ProjectID: "p1", Revision: 7}
	snaps.Save(ctx, saved, domain.Version{ID: "v1", ProjectID: "p1", Revision: 7, Name: "cut"})
	res := &mockResolver{snap: montage.TimelineSnapshot{ProjectID: "p1", Revision: 20}}
	uc := NewVersionUsecase(res, repo, snaps)

	delta, err := uc.Restore(ctx, "alice", "p1", "v1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if delta.Kind != montage.OpRestoreVersion || delta.Revision != 21 {
		t.Fatalf("restore delta wrong: %+v", delta)
	}
	if len(res.restored) != 1 || res.restored[0].Revision != 7 {
		t.Fatalf("resolver did not receive the saved snapshot: %+v", res.restored)
	}
}

func TestRestoreUnknownVersion(t *testing.T) {
	ctx := context.Background()
	repo := newMockProjectRepo()
	repo.UpsertMember(ctx, domain.Member{ProjectID: "p1", UserID: "alice", Role: montage.RoleEditor})
	uc := NewVersionUsecase(&mockResolver{}, repo, newMockSnapshotRepo())

	if _, err := uc.Restore(ctx, "alice", "p1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}
