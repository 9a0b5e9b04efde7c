package models

import (
	"time"
)

type Project struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	Title       string    `json:"title" gorm:"type:text;not null"`
	Description string    `json:"description" gorm:"type:text"`
	OwnerID     string    `json:"ownerID" gorm:"type:text;index;not null"`
	CDate       time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate       time.Time `json:"mdate" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}

type ProjectMember struct {
	ProjectID string    `json:"projectID" gorm:"type:text;primaryKey"`
	Project   Project   `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	UserID    string    `json:"userID" gorm:"type:text;index;primaryKey"`
	Role      string    `json:"role" gorm:"type:text;not null"`
	CDate     time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// VersionSnapshot rows are append-only. Payload is the canonical snapshot
// JSON; Digest is its sha3 hash, verified on every load.
type VersionSnapshot struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	ProjectID   string    `json:"projectID" gorm:"type:text;index:idx_version_project_rev"`
	Revision    int64     `json:"revision" gorm:"index:idx_version_project_rev"`
	Name        string    `json:"name" gorm:"type:text"`
	Description string    `json:"description" gorm:"type:text"`
	TakenBy     string    `json:"takenBy" gorm:"type:text"`
	Payload     string    `json:"-" gorm:"type:text;not null"`
	Digest      string    `json:"digest" gorm:"type:text;not null"`
	CDate       time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// OperationEntry is one committed operation and its delta, kept between
// checkpoints for crash recovery.
type OperationEntry struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ProjectID string    `json:"projectID" gorm:"type:text;index:idx_oplog_project_rev,unique"`
	Revision  int64     `json:"revision" gorm:"index:idx_oplog_project_rev,unique"`
	OpID      string    `json:"opID" gorm:"type:text;index"`
	Author    string    `json:"author" gorm:"type:text"`
	Kind      string    `json:"kind" gorm:"type:text"`
	Operation string    `json:"-" gorm:"type:text;not null"`
	Delta     string    `json:"-" gorm:"type:text;not null"`
	CDate     time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

type ChatMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	ProjectID string    `json:"projectID" gorm:"type:text;index"`
	UserID    string    `json:"userID" gorm:"type:text"`
	Kind      string    `json:"kind" gorm:"type:text;not null"`
	Body      string    `json:"body" gorm:"type:text;not null"`
	CDate     time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
