package domain

import (
	"time"

	"github.com/montage-studio/montage"
)

// Project is the collaborative editing unit. Revision tracks the current
// timeline revision as of the last checkpoint.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerID"`
	Revision    int64     `json:"revision"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Member binds a user to a project with a role.
type Member struct {
	ProjectID string       `json:"projectID"`
	UserID    string       `json:"userID"`
	Role      montage.Role `json:"role"`
}

// Version describes a stored version snapshot without its state payload.
type Version struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectID"`
	Revision    int64     `json:"revision"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	TakenBy     string    `json:"takenBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
