package domain

const (
	RequesterIdCtxKey   = "mt-requesterId"
	RequesterRoleCtxKey = "mt-requesterRole"
)

const (
	RequesterIdHeader = "mt-requester-id"
)
