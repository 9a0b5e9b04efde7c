package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/infra/database/models"
)

// OperationLogRepository persists committed operations between checkpoints.
// Appends are idempotent on (project, revision) so a retried commit never
// duplicates a row.
type OperationLogRepository struct {
	db *gorm.DB
}

func NewOperationLogRepository(db *gorm.DB) *OperationLogRepository {
	return &OperationLogRepository{db: db}
}

func (r *OperationLogRepository) Append(ctx context.Context, op montage.Operation, delta montage.Delta) error {
	opJSON, err := json.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "encoding operation")
	}
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return errors.Wrap(err, "encoding delta")
	}

	record := models.OperationEntry{
		ProjectID: delta.ProjectID,
		Revision:  delta.Revision,
		OpID:      op.ID,
		Author:    op.Author,
		Kind:      string(op.Kind),
		Operation: string(opJSON),
		Delta:     string(deltaJSON),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "revision"}},
		DoNothing: true,
	}).Create(&record).Error
}

func (r *OperationLogRepository) DeltasAfter(ctx context.Context, projectID string, revision int64) ([]montage.Delta, error) {
	var records []models.OperationEntry
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND revision > ?", projectID, revision).
		Order("revision ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	out := make([]montage.Delta, 0, len(records))
	for _, rec := range records {
		var d montage.Delta
		if err := json.Unmarshal([]byte(rec.Delta), &d); err != nil {
			return nil, errors.Wrapf(err, "decoding delta at revision %d", rec.Revision)
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *OperationLogRepository) TrimBelow(ctx context.Context, projectID string, revision int64) error {
	return r.db.WithContext(ctx).
		Delete(&models.OperationEntry{}, "project_id = ? AND revision <= ?", projectID, revision).Error
}
