package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// ValidationError represents a malformed operation payload. It is rejected
// immediately and never recorded as a conflict.
type ValidationError struct {
	Detail string
}

func (e ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", e.Detail)
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

var ErrValidation = ValidationError{}

// PermissionDeniedError represents an insufficient collaborator role.
type PermissionDeniedError struct {
	UserID string
}

func (e PermissionDeniedError) Error() string {
	if e.UserID == "" {
		return "permission denied"
	}
	return fmt.Sprintf("permission denied for %s", e.UserID)
}

func (e PermissionDeniedError) Is(target error) bool {
	_, ok := target.(PermissionDeniedError)
	if ok {
		return true
	}
	_, ok = target.(*PermissionDeniedError)
	return ok
}

var ErrPermissionDenied = PermissionDeniedError{}

// SnapshotCorruptError marks a project whose durable snapshot failed its
// integrity check. The project stays unavailable rather than being served
// from a possibly stale state.
type SnapshotCorruptError struct {
	ProjectID string
	Detail    string
}

func (e SnapshotCorruptError) Error() string {
	return fmt.Sprintf("snapshot corrupt for project %s: %s", e.ProjectID, e.Detail)
}

func (e SnapshotCorruptError) Is(target error) bool {
	_, ok := target.(SnapshotCorruptError)
	if ok {
		return true
	}
	_, ok = target.(*SnapshotCorruptError)
	return ok
}

var ErrSnapshotCorrupt = SnapshotCorruptError{}

// ErrProjectUnavailable is returned for projects whose recovery failed.
var ErrProjectUnavailable = fmt.Errorf("project unavailable")
