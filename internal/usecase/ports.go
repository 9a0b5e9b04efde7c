package usecase

import (
	"context"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

// ProjectRepository defines persistence for projects and their members.
type ProjectRepository interface {
	Create(ctx context.Context, project domain.Project) error
	Get(ctx context.Context, id string) (domain.Project, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Project, error)
	Update(ctx context.Context, project domain.Project) error
	Delete(ctx context.Context, id string) error

	UpsertMember(ctx context.Context, member domain.Member) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	GetMember(ctx context.Context, projectID, userID string) (domain.Member, error)
	ListMembers(ctx context.Context, projectID string) ([]domain.Member, error)
}

// SnapshotRepository defines append-only persistence for version snapshots.
type SnapshotRepository interface {
	Save(ctx context.Context, snap montage.TimelineSnapshot, version domain.Version) error
	Latest(ctx context.Context, projectID string) (montage.TimelineSnapshot, bool, error)
	Get(ctx context.Context, projectID, versionID string) (montage.TimelineSnapshot, domain.Version, error)
	ListVersions(ctx context.Context, projectID string) ([]domain.Version, error)
}

// OperationLogRepository defines the durable operation log between
// checkpoints.
type OperationLogRepository interface {
	Append(ctx context.Context, op montage.Operation, delta montage.Delta) error
	DeltasAfter(ctx context.Context, projectID string, revision int64) ([]montage.Delta, error)
	TrimBelow(ctx context.Context, projectID string, revision int64) error
}

// ChatRepository defines persistence for project chat. Save reports
// whether the message was newly stored; a duplicate id is a no-op.
type ChatRepository interface {
	Save(ctx context.Context, msg montage.ChatMessage) (bool, error)
	Recent(ctx context.Context, projectID string, limit int) ([]montage.ChatMessage, error)
}

// MediaResolver resolves opaque media references to their metadata.
type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (montage.MediaInfo, error)
}

// Resolver is the authoritative conflict resolution engine.
type Resolver interface {
	Submit(ctx context.Context, sessionID string, op montage.Operation) (montage.Outcome, error)
	Snapshot(ctx context.Context, projectID string) (montage.TimelineSnapshot, error)
	Sync(ctx context.Context, projectID string, since int64, deliver func(*montage.TimelineSnapshot, []montage.Delta)) error
	Restore(ctx context.Context, projectID string, snap montage.TimelineSnapshot, author string) (montage.Delta, error)
}
