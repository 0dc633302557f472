package api

import (
	"log/slog"
	"net/http"

	"studylock/internal/db"
	"studylock/internal/models"
)

// auditLog records admin mutations. A failed write is logged and does not
// undo the mutation it describes.
type auditLog struct {
	repo *db.AuditRepository
	ips  *ClientIPResolver
}

func (a *auditLog) record(r *http.Request, action, resource, resourceID, description string) {
	entry := &models.AuditEntry{
		AdminID:     GetUserID(r),
		Action:      action,
		Resource:    resource,
		ResourceID:  resourceID,
		Description: description,
		IPAddress:   a.ips.Resolve(r),
	}
	if err := a.repo.Record(r.Context(), entry); err != nil {
		slog.Error("error recording audit entry",
			"error", err,
			"action", action,
			"resource", resource,
			"resource_id", resourceID,
			"request_id", requestIDFromContext(r.Context()),
		)
	}
}
