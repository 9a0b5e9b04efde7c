package repository

import (
	"context"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/infra/database/models"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Save stores the message unless its id already exists. The id is
// client-generated, so replayed frames land on the conflict path.
func (r *ChatRepository) Save(ctx context.Context, msg montage.ChatMessage) (bool, error) {
	record := models.ChatMessage{
		ID:        msg.ID,
		ProjectID: msg.ProjectID,
		UserID:    msg.UserID,
		Kind:      msg.Kind,
		Body:      msg.Body,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Recent returns the newest limit messages, oldest first.
func (r *ChatRepository) Recent(ctx context.Context, projectID string, limit int) ([]montage.ChatMessage, error) {
	var records []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("c_date DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	out := make([]montage.ChatMessage, 0, len(records))
	for _, rec := range records {
		out = append(out, montage.ChatMessage{
			ID:        rec.ID,
			ProjectID: rec.ProjectID,
			UserID:    rec.UserID,
			Kind:      rec.Kind,
			Body:      rec.Body,
			CreatedAt: rec.CDate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
