package models

import (
	"strings"
	"time"
)

// IncidentStatus represents a stage of the incident workflow.
type IncidentStatus string

const (
	IncidentStatusPending  IncidentStatus = "PENDING"
	IncidentStatusInRepair IncidentStatus = "IN_REPAIR"
	IncidentStatusResolved IncidentStatus = "RESOLVED"
)

// Valid reports whether the status is one of the workflow states.
func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentStatusPending, IncidentStatusInRepair, IncidentStatusResolved:
		return true
	default:
		return false
	}
}

// ParseIncidentStatus resolves a status name case-insensitively.
func ParseIncidentStatus(raw string) (IncidentStatus, bool) {
	status := IncidentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Incident is a reported issue tracked through the repair workflow.
type Incident struct {
	ID          int64          `db:"id" json:"id"`
	Title       string         `db:"title" json:"title" validate:"notblank,max=100"`
	Description string         `db:"description" json:"description" validate:"notblank,max=4500"`
	Date        *time.Time     `db:"incident_date" json:"date" validate:"required"`
	Classroom   string         `db:"classroom" json:"classroom" validate:"notblank,max=20"`
	Image       string         `db:"image" json:"image" validate:"notblank,max=255"`
	Status      IncidentStatus `db:"status" json:"status" validate:"required"`
	HandlerID   *int64         `db:"handler_id" json:"handler_id,omitempty"`
	CreatorID   *int64         `db:"creator_id" json:"creator_id" validate:"required"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Assigned reports whether a handler currently works the incident.
func (i *Incident) Assigned() bool {
	return i != nil && i.HandlerID != nil
}

// IncidentFilter describes a by-example search: every non-nil field narrows
// the result set.
type IncidentFilter struct {
	Status    *IncidentStatus
	HandlerID *int64
	CreatorID *int64
	Title     string
	Classroom string
	Page      int
	PageSize  int
}
