package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

type VersionUsecase struct {
	resolver  Resolver
	projects  ProjectRepository
	snapshots SnapshotRepository
}

func NewVersionUsecase(resolver Resolver, projects ProjectRepository, snapshots SnapshotRepository) *VersionUsecase {
	return &VersionUsecase{resolver: resolver, projects: projects, snapshots: snapshots}
}

// Create captures the current state as a named version. Editors and the
// owner may create versions.
func (uc *VersionUsecase) Create(ctx context.Context, requester, projectID, name, description string) (domain.Version, error) {
	member, err := uc.projects.GetMember(ctx, projectID, requester)
	if err != nil || !member.Role.CanEdit() {
		return domain.Version{}, domain.PermissionDeniedError{UserID: requester}
	}
	if strings.TrimSpace(name) == "" {
		return domain.Version{}, domain.ValidationError{Detail: "version name is required"}
	}

	snap, err := uc.resolver.Snapshot(ctx, projectID)
	if err != nil {
		return domain.Version{}, errors.Wrap(err, "capturing snapshot")
	}

	version := domain.Version{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Revision:    snap.Revision,
		Name:        strings.TrimSpace(name),
		Description: description,
		TakenBy:     requester,
		CreatedAt:   time.Now(),
	}
	if err := uc.snapshots.Save(ctx, snap, version); err != nil {
		return domain.Version{}, errors.Wrap(err, "persisting version")
	}
	return version, nil
}

// List returns the project's saved versions, newest first.
func (uc *VersionUsecase) List(ctx context.Context, requester, projectID string) ([]domain.Version, error) {
	if _, err := uc.projects.GetMember(ctx, projectID, requester); err != nil {
		return nil, domain.PermissionDeniedError{UserID: requester}
	}
	return uc.snapshots.ListVersions(ctx, projectID)
}

// Restore replaces the live timeline with a saved version. The restore is
// itself a new committed revision; nothing in the history is rewritten.
func (uc *VersionUsecase) Restore(ctx context.Context, requester, projectID, versionID string) (montage.Delta, error) {
	member, err := uc.projects.GetMember(ctx, projectID, requester)
	if err != nil || !member.Role.CanEdit() {
		return montage.Delta{}, domain.PermissionDeniedError{UserID: requester}
	}

	snap, _, err := uc.snapshots.Get(ctx, projectID, versionID)
	if err != nil {
		return montage.Delta{}, err
	}
	return uc.resolver.Restore(ctx, projectID, snap, requester)
}
