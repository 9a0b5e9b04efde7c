package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
	"github.com/montage-studio/montage/internal/infra/database/models"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, project domain.Project) error {
	record := models.Project{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
		OwnerID:     project.OwnerID,
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (domain.Project, error) {
	var record models.Project
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, domain.NotFoundError{Resource: "project"}
		}
		return domain.Project{}, err
	}
	project := projectFromModel(record)

	// Revision as of the last checkpoint.
	var rev int64
	err = r.db.WithContext(ctx).Model(&models.VersionSnapshot{}).
		Where("project_id = ?", id).
		Select("COALESCE(MAX(revision), 0)").
		Scan(&rev).Error
	if err == nil {
		project.Revision = rev
	}
	return project, nil
}

func (r *ProjectRepository) ListByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	var records []models.Project
	err := r.db.WithContext(ctx).
		Joins("JOIN project_members ON project_members.project_id = projects.id").
		Where("project_members.user_id = ?", userID).
		Order("projects.m_date DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(records))
	for _, rec := range records {
		out = append(out, projectFromModel(rec))
	}
	return out, nil
}

func (r *ProjectRepository) Update(ctx context.Context, project domain.Project) error {
	return r.db.WithContext(ctx).Model(&models.Project{ID: project.ID}).
		Updates(map[string]any{
			"title":       project.Title,
			"description": project.Description,
			"m_date":      time.Now(),
		}).Error
}

func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ProjectMember{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.VersionSnapshot{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.OperationEntry{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.ChatMessage{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Project{}, "id = ?", id).Error
	})
}

func (r *ProjectRepository) UpsertMember(ctx context.Context, member domain.Member) error {
	record := models.ProjectMember{
		ProjectID: member.ProjectID,
		UserID:    member.UserID,
		Role:      string(member.Role),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&record).Error
}

func (r *ProjectRepository) RemoveMember(ctx context.Context, projectID, userID string) error {
	return r.db.WithContext(ctx).
		Delete(&models.ProjectMember{}, "project_id = ? AND user_id = ?", projectID, userID).Error
}

func (r *ProjectRepository) GetMember(ctx context.Context, projectID, userID string) (domain.Member, error) {
	var record models.ProjectMember
	err := r.db.WithContext(ctx).
		First(&record, "project_id = ? AND user_id = ?", projectID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, domain.NotFoundError{Resource: "membership"}
		}
		return domain.Member{}, err
	}
	return memberFromModel(record), nil
}

func (r *ProjectRepository) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	var records []models.ProjectMember
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("c_date ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0, len(records))
	for _, rec := range records {
		out = append(out, memberFromModel(rec))
	}
	return out, nil
}

func projectFromModel(m models.Project) domain.Project {
	return domain.Project{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		OwnerID:     m.OwnerID,
		CreatedAt:   m.CDate,
		UpdatedAt:   m.MDate,
	}
}

func memberFromModel(m models.ProjectMember) domain.Member {
	return domain.Member{
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      montage.Role(m.Role),
	}
}
