package models

import "time"

// AccessCode is a single-use registration token. Only the hash is stored;
// Hint keeps the last characters so admins can tell codes apart.
type AccessCode struct {
	ID        string     `json:"id"`
	CodeHash  string     `json:"-"`
	Hint      string     `json:"hint"`
	Note      string     `json:"note,omitempty"`
	CreatedBy *string    `json:"createdBy,omitempty"`
	Used      bool       `json:"used"`
	UsedBy    *string    `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type AuditEntry struct {
	ID          string    `json:"id"`
	AdminID     string    `json:"adminId"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	ResourceID  string    `json:"resourceId"`
	Description string    `json:"description,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
