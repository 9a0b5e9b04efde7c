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

// CreateProjectInput is the validated input for creating a project.
type CreateProjectInput struct {
	Title       string
	Description string
	OwnerID     string
}

type ProjectUsecase struct {
	repo ProjectRepository
}

func NewProjectUsecase(repo ProjectRepository) *ProjectUsecase {
	return &ProjectUsecase{repo: repo}
}

func (uc *ProjectUsecase) Create(ctx context.Context, input CreateProjectInput) (domain.Project, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return domain.Project{}, domain.ValidationError{Detail: "title is required"}
	}
	if input.OwnerID == "" {
		return domain.Project{}, domain.ValidationError{Detail: "owner is required"}
	}

	now := time.Now()
	project := domain.Project{
		ID:          uuid.New().String(),
		Title:       title,
		Description: input.Description,
		OwnerID:     input.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, project); err != nil {
		return domain.Project{}, errors.Wrap(err, "creating project")
	}

	owner := domain.Member{
		ProjectID: project.ID,
		UserID:    input.OwnerID,
		Role:      montage.RoleOwner,
	}
	if err := uc.repo.UpsertMember(ctx, owner); err != nil {
		return domain.Project{}, errors.Wrap(err, "registering owner membership")
	}
	return project, nil
}

func (uc *ProjectUsecase) Get(ctx context.Context, requester, projectID string) (domain.Project, error) {
	if _, err := uc.repo.GetMember(ctx, projectID, requester); err != nil {
		return domain.Project{}, domain.PermissionDeniedError{UserID: requester}
	}
	return uc.repo.Get(ctx, projectID)
}

func (uc *ProjectUsecase) List(ctx context.Context, requester string) ([]domain.Project, error) {
	return uc.repo.ListByUser(ctx, requester)
}

func (uc *ProjectUsecase) Update(ctx context.Context, requester, projectID, title, description string) (domain.Project, error) {
	project, err := uc.repo.Get(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project.OwnerID != requester {
		return domain.Project{}, domain.PermissionDeniedError{UserID: requester}
	}
	if t := strings.TrimSpace(title); t != "" {
		project.Title = t
	}
	project.Description = description
	project.UpdatedAt = time.Now()
	if err := uc.repo.Update(ctx, project); err != nil {
		return domain.Project{}, errors.Wrap(err, "updating project")
	}
	return project, nil
}

func (uc *ProjectUsecase) Delete(ctx context.Context, requester, projectID string) error {
	project, err := uc.repo.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != requester {
		return domain.PermissionDeniedError{UserID: requester}
	}
	return uc.repo.Delete(ctx, projectID)
}

// AddMember grants or changes a collaborator's role. Owner only. The
// owner's own role is immutable.
func (uc *ProjectUsecase) AddMember(ctx context.Context, requester, projectID, userID string, role montage.Role) error {
	if !role.Valid() || role == montage.RoleOwner {
		return domain.ValidationError{Detail: "role must be editor or viewer"}
	}
	project, err := uc.repo.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != requester {
		return domain.PermissionDeniedError{UserID: requester}
	}
	if userID == project.OwnerID {
		return domain.ValidationError{Detail: "cannot change the owner's role"}
	}
	return uc.repo.UpsertMember(ctx, domain.Member{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
	})
}

func (uc *ProjectUsecase) RemoveMember(ctx context.Context, requester, projectID, userID string) error {
	project, err := uc.repo.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != requester {
		return domain.PermissionDeniedError{UserID: requester}
	}
	if userID == project.OwnerID {
		return domain.ValidationError{Detail: "cannot remove the owner"}
	}
	return uc.repo.RemoveMember(ctx, projectID, userID)
}

func (uc *ProjectUsecase) Members(ctx context.Context, requester, projectID string) ([]domain.Member, error) {
	if _, err := uc.repo.GetMember(ctx, projectID, requester); err != nil {
		return nil, domain.PermissionDeniedError{UserID: requester}
	}
	return uc.repo.ListMembers(ctx, projectID)
}

// Role resolves the requester's role on a project.
func (uc *ProjectUsecase) Role(ctx context.Context, requester, projectID string) (montage.Role, error) {
	member, err := uc.repo.GetMember(ctx, projectID, requester)
	if err != nil {
		return "", domain.PermissionDeniedError{UserID: requester}
	}
	return member.Role, nil
}
