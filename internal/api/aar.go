package api

import (
	"net/http"

	"studylock/internal/lock"
	"studylock/internal/models"
)

type AarHandler struct {
	recorder *lock.AarRecorder
}

func NewAarHandler(recorder *lock.AarRecorder) *AarHandler {
	return &AarHandler{recorder: recorder}
}

// Emptiness and word count are checked by the recorder after sanitising.
type SubmitAarRequest struct {
	WhatWorked   string `json:"whatWorked" validate:"max=10000"`
	WhatBlocked  string `json:"whatBlocked" validate:"max=10000"`
	TomorrowPlan string `json:"tomorrowPlan" validate:"max=10000"`
}

type AarResponse struct {
	Message string           `json:"message"`
	Aar     *models.AarEntry `json:"aar"`
}

// POST /api/v1/aar/submit
func (h *AarHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitAarRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	entry, err := h.recorder.Submit(r.Context(), principal(r), req.WhatWorked, req.WhatBlocked, req.TomorrowPlan)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AarResponse{Message: "AAR submitted", Aar: entry})
}

// GET /api/v1/aar
func (h *AarHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return
	}

	entries, err := h.recorder.List(r.Context(), principal(r), limit)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"aars": emptyIfNil(entries)})
}
