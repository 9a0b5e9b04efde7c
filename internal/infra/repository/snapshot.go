package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/sha3"
	"gorm.io/gorm"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
	"github.com/montage-studio/montage/internal/infra/database/models"
)

// SnapshotRepository stores version snapshots append-only. Every payload
// carries a sha3 digest; a row that fails verification on load marks the
// project's durable state corrupt instead of being served.
type SnapshotRepository struct {
	db *gorm.DB
	mc *memcache.Client
}

func NewSnapshotRepository(db *gorm.DB, mc *memcache.Client) *SnapshotRepository {
	return &SnapshotRepository{db: db, mc: mc}
}

func snapshotCacheKey(projectID string) string {
	return "montage:snapshot:" + projectID
}

func digest(payload []byte) string {
	sum := sha3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (r *SnapshotRepository) Save(ctx context.Context, snap montage.TimelineSnapshot, version domain.Version) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}

	record := models.VersionSnapshot{
		ID:          version.ID,
		ProjectID:   version.ProjectID,
		Revision:    version.Revision,
		Name:        version.Name,
		Description: version.Description,
		TakenBy:     version.TakenBy,
		Payload:     string(payload),
		Digest:      digest(payload),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}

	if r.mc != nil {
		err := r.mc.Set(&memcache.Item{
			Key:   snapshotCacheKey(version.ProjectID),
			Value: payload,
		})
		if err != nil {
			log.Warn().Err(err).Str("project_id", version.ProjectID).Msg("snapshot cache set failed")
		}
	}
	return nil
}

// Latest returns the most recent snapshot for a project. The memcache copy
// is only trusted when its revision matches the newest row.
func (r *SnapshotRepository) Latest(ctx context.Context, projectID string) (montage.TimelineSnapshot, bool, error) {
	var record models.VersionSnapshot
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("revision DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return montage.TimelineSnapshot{}, false, nil
		}
		return montage.TimelineSnapshot{}, false, err
	}

	if r.mc != nil {
		if item, err := r.mc.Get(snapshotCacheKey(projectID)); err == nil {
			var cached montage.TimelineSnapshot
			if json.Unmarshal(item.Value, &cached) == nil &&
				cached.Revision == record.Revision &&
				cached.ComputeChecksum() == cached.Checksum {
				return cached, true, nil
			}
		}
	}

	snap, err := r.decode(record)
	if err != nil {
		return montage.TimelineSnapshot{}, false, err
	}
	return snap, true, nil
}

func (r *SnapshotRepository) Get(ctx context.Context, projectID, versionID string) (montage.TimelineSnapshot, domain.Version, error) {
	var record models.VersionSnapshot
	err := r.db.WithContext(ctx).
		First(&record, "id = ? AND project_id = ?", versionID, projectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return montage.TimelineSnapshot{}, domain.Version{}, domain.NotFoundError{Resource: "version"}
		}
		return montage.TimelineSnapshot{}, domain.Version{}, err
	}
	snap, err := r.decode(record)
	if err != nil {
		return montage.TimelineSnapshot{}, domain.Version{}, err
	}
	return snap, versionFromModel(record), nil
}

func (r *SnapshotRepository) ListVersions(ctx context.Context, projectID string) ([]domain.Version, error) {
	var records []models.VersionSnapshot
	err := r.db.WithContext(ctx).
		Select("id", "project_id", "revision", "name", "description", "taken_by", "c_date").
		Where("project_id = ?", projectID).
		Order("revision DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Version, 0, len(records))
	for _, rec := range records {
		out = append(out, versionFromModel(rec))
	}
	return out, nil
}

func (r *SnapshotRepository) decode(record models.VersionSnapshot) (montage.TimelineSnapshot, error) {
	payload := []byte(record.Payload)
	if digest(payload) != record.Digest {
		return montage.TimelineSnapshot{}, domain.SnapshotCorruptError{
			ProjectID: record.ProjectID,
			Detail:    "stored digest mismatch",
		}
	}
	var snap montage.TimelineSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return montage.TimelineSnapshot{}, domain.SnapshotCorruptError{
			ProjectID: record.ProjectID,
			Detail:    err.Error(),
		}
	}
	if snap.ComputeChecksum() != snap.Checksum {
		return montage.TimelineSnapshot{}, domain.SnapshotCorruptError{
			ProjectID: record.ProjectID,
			Detail:    "state checksum mismatch",
		}
	}
	return snap, nil
}

func versionFromModel(m models.VersionSnapshot) domain.Version {
	return domain.Version{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		Revision:    m.Revision,
		Name:        m.Name,
		Description: m.Description,
		TakenBy:     m.TakenBy,
		CreatedAt:   m.CDate,
	}
}
