package models

import "time"

type StudySession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	SubjectID       string     `json:"subjectId"`
	SessionType     string     `json:"sessionType"`
	PlannedDuration int        `json:"plannedDuration"`
	ActualDuration  *int       `json:"actualDuration,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	AbandonedAt     *time.Time `json:"abandonedAt,omitempty"`
	IsCompleted     bool       `json:"isCompleted"`
}

// IsOpen reports whether the session still counts as the user's active one.
func (s *StudySession) IsOpen() bool {
	return !s.IsCompleted && s.AbandonedAt == nil
}

// AarEntry is an after-action review. Rows are never updated.
type AarEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	SubjectID    string    `json:"subjectId"`
	WhatWorked   string    `json:"whatWorked"`
	WhatBlocked  string    `json:"whatBlocked"`
	TomorrowPlan string    `json:"tomorrowPlan"`
	WordCount    int       `json:"wordCount"`
	CreatedAt    time.Time `json:"createdAt"`
}
