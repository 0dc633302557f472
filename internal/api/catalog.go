package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studylock/internal/db"
	"studylock/internal/lock"
)

type CatalogHandler struct {
	catalog *db.CatalogRepository
	audit   *auditLog
}

func NewCatalogHandler(catalog *db.CatalogRepository, auditRepo *db.AuditRepository, ips *ClientIPResolver) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		audit:   &auditLog{repo: auditRepo, ips: ips},
	}
}

// GET /api/v1/catalog/departments
func (h *CatalogHandler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	h.listDepartments(w, r, true)
}

// GET /api/v1/admin/departments
func (h *CatalogHandler) ListAllDepartments(w http.ResponseWriter, r *http.Request) {
	h.listDepartments(w, r, false)
}

func (h *CatalogHandler) listDepartments(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	departments, err := h.catalog.FindDepartments(r.Context(), activeOnly)
	if err != nil {
		slog.Error("error listing departments", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"departments": emptyIfNil(departments)})
}

// GET /api/v1/catalog/subjects/{id}
func (h *CatalogHandler) GetSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	subject, err := h.catalog.FindSubject(r.Context(), subjectID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Subject not found")
		return
	}
	if err != nil {
		slog.Error("error finding subject", "error", err, "subject_id", subjectID)
		internalError(w)
		return
	}

	resources, err := h.catalog.FindResources(r.Context(), subject.ID)
	if err != nil {
		slog.Error("error listing resources", "error", err, "subject_id", subjectID)
		internalError(w)
		return
	}
	subject.Resources = resources

	writeJSON(w, http.StatusOK, subject)
}

type CreateDepartmentRequest struct {
	Code string `json:"code" validate:"required,max=32"`
	Name string `json:"name" validate:"required,max=100"`
}

// POST /api/v1/admin/departments
func (h *CatalogHandler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req CreateDepartmentRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	department, err := h.catalog.CreateDepartment(r.Context(), lock.SanitizeText(req.Code), lock.SanitizeText(req.Name))
	if errors.Is(err, db.ErrDuplicate) {
		conflict(w, "Department code already exists")
		return
	}
	if err != nil {
		slog.Error("error creating department", "error", err)
		internalError(w)
		return
	}

	h.audit.record(r, "create", "department", department.ID, department.Code)
	writeJSON(w, http.StatusCreated, department)
}

type UpdateDepartmentRequest struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=100"`
	Active *bool   `json:"active"`
}

// PATCH /api/v1/admin/departments/{id}
func (h *CatalogHandler) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	var req UpdateDepartmentRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	departmentID := chi.URLParam(r, "id")
	department, err := h.catalog.UpdateDepartment(r.Context(), departmentID, sanitizeOptional(req.Name), req.Active)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Department not found")
		return
	}
	if err != nil {
		slog.Error("error updating department", "error", err, "department_id", departmentID)
		internalError(w)
		return
	}

	h.audit.record(r, "update", "department", department.ID, "")
	writeJSON(w, http.StatusOK, department)
}

type CreateSubjectRequest struct {
	DepartmentID string `json:"departmentId" validate:"required,max=64"`
	Code         string `json:"code" validate:"required,max=32"`
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=2000"`
}

// POST /api/v1/admin/subjects
func (h *CatalogHandler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	subject, err := h.catalog.CreateSubject(r.Context(),
		req.DepartmentID,
		lock.SanitizeText(req.Code),
		lock.SanitizeText(req.Name),
		lock.SanitizeText(req.Description),
	)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Department not found")
		return
	}
	if errors.Is(err, db.ErrDuplicate) {
		conflict(w, "Subject code already exists")
		return
	}
	if err != nil {
		slog.Error("error creating subject", "error", err)
		internalError(w)
		return
	}

	h.audit.record(r, "create", "subject", subject.ID, subject.Code)
	writeJSON(w, http.StatusCreated, subject)
}

type UpdateSubjectRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Active      *bool   `json:"active"`
}

// PATCH /api/v1/admin/subjects/{id}
//
// Deactivating a subject only stops new declarations; existing locks stay.
func (h *CatalogHandler) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubjectRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	subjectID := chi.URLParam(r, "id")
	subject, err := h.catalog.UpdateSubject(r.Context(), subjectID, sanitizeOptional(req.Name), sanitizeOptional(req.Description), req.Active)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Subject not found")
		return
	}
	if err != nil {
		slog.Error("error updating subject", "error", err, "subject_id", subjectID)
		internalError(w)
		return
	}

	h.audit.record(r, "update", "subject", subject.ID, "")
	writeJSON(w, http.StatusOK, subject)
}

type AddResourceRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	URL   string `json:"url" validate:"required,url,max=2048"`
	Kind  string `json:"kind" validate:"omitempty,oneof=link video book article"`
}

// POST /api/v1/admin/subjects/{id}/resources
func (h *CatalogHandler) AddResource(w http.ResponseWriter, r *http.Request) {
	var req AddResourceRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Kind == "" {
		req.Kind = "link"
	}

	subjectID := chi.URLParam(r, "id")
	resource, err := h.catalog.AddResource(r.Context(), subjectID, lock.SanitizeText(req.Title), req.URL, req.Kind)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Subject not found")
		return
	}
	if err != nil {
		slog.Error("error adding resource", "error", err, "subject_id", subjectID)
		internalError(w)
		return
	}

	h.audit.record(r, "create", "resource", resource.ID, resource.Title)
	writeJSON(w, http.StatusCreated, resource)
}

// DELETE /api/v1/admin/resources/{id}
func (h *CatalogHandler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "id")
	err := h.catalog.DeleteResource(r.Context(), resourceID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Resource not found")
		return
	}
	if err != nil {
		slog.Error("error deleting resource", "error", err, "resource_id", resourceID)
		internalError(w)
		return
	}

	h.audit.record(r, "delete", "resource", resourceID, "")
	writeMessage(w, http.StatusOK, "Resource deleted")
}

func sanitizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	clean := lock.SanitizeText(*s)
	return &clean
}
