package models

import "time"

type Department struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	Subjects  []*Subject `json:"subjects,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Subject struct {
	ID           string      `json:"id"`
	DepartmentID string      `json:"departmentId"`
	Code         string      `json:"code"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Active       bool        `json:"active"`
	Resources    []*Resource `json:"resources,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

type Resource struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subjectId"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}
