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

const maxChatBody = 4096

type ChatUsecase struct {
	repo     ChatRepository
	projects ProjectRepository
}

func NewChatUsecase(repo ChatRepository, projects ProjectRepository) *ChatUsecase {
	return &ChatUsecase{repo: repo, projects: projects}
}

// Post persists a chat message. Any member, viewers included, may chat.
// The id is client-generated when present, so a frame replayed after a
// reconnect stores and fans out at most once; created reports whether this
// call stored the message.
func (uc *ChatUsecase) Post(ctx context.Context, projectID, userID, id, body string) (montage.ChatMessage, bool, error) {
	if _, err := uc.projects.GetMember(ctx, projectID, userID); err != nil {
		return montage.ChatMessage{}, false, domain.PermissionDeniedError{UserID: userID}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return montage.ChatMessage{}, false, domain.ValidationError{Detail: "message body is required"}
	}
	if len(body) > maxChatBody {
		return montage.ChatMessage{}, false, domain.ValidationError{Detail: "message body too long"}
	}
	if id == "" {
		id = uuid.New().String()
	}

	msg := montage.ChatMessage{
		ID:        id,
		ProjectID: projectID,
		UserID:    userID,
		Kind:      montage.ChatKindText,
		Body:      body,
		CreatedAt: time.Now(),
	}
	created, err := uc.repo.Save(ctx, msg)
	if err != nil {
		return montage.ChatMessage{}, false, errors.Wrap(err, "persisting chat message")
	}
	return msg, created, nil
}

// Recent returns the latest messages in chronological order.
func (uc *ChatUsecase) Recent(ctx context.Context, requester, projectID string, limit int) ([]montage.ChatMessage, error) {
	if _, err := uc.projects.GetMember(ctx, projectID, requester); err != nil {
		return nil, domain.PermissionDeniedError{UserID: requester}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return uc.repo.Recent(ctx, projectID, limit)
}
