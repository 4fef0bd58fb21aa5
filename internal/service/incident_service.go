package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

type incidentRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Incident, error)
	ListByStatus(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error)
	List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, int, error)
	Create(ctx context.Context, incident *models.Incident) error
	Update(ctx context.Context, incident *models.Incident) error
	Delete(ctx context.Context, id int64) error
}

type incidentNoteRepository interface {
	ListByIncident(ctx context.Context, incidentID int64) ([]models.Note, error)
	Delete(ctx context.Context, id int64) error
}

type userLookup interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// IncidentService drives the PENDING -> IN_REPAIR -> RESOLVED workflow.
type IncidentService struct {
	repo      incidentRepository
	notes     incidentNoteRepository
	users     userLookup
	validator *RecordValidator
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewIncidentService constructs an IncidentService.
func NewIncidentService(repo incidentRepository, notes incidentNoteRepository, users userLookup, validator *RecordValidator, metrics *MetricsService, logger *zap.Logger) *IncidentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewRecordValidator(nil)
	}
	return &IncidentService{repo: repo, notes: notes, users: users, validator: validator, metrics: metrics, logger: logger}
}

// Save validates and persists the incident, inserting it when it has no id.
// All validation failures are reported together and nothing is written. An
// update keeps the stored creator.
func (s *IncidentService) Save(ctx context.Context, incident *models.Incident) (*models.Incident, error) {
	if incident != nil && incident.Status == "" {
		incident.Status = models.IncidentStatusPending
	}
	if errs := s.validator.Incident(incident); len(errs) > 0 {
		return nil, appErrors.Validation("invalid incident", errs)
	}

	if incident.ID == 0 {
		if err := s.repo.Create(ctx, incident); err != nil {
			return nil, storageError(err, "failed to create incident")
		}
		s.logger.Info("incident created", zap.Int64("incident_id", incident.ID))
		s.metrics.RecordIncidentTransition("create")
		return incident, nil
	}

	stored, err := s.load(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	incident.CreatorID = stored.CreatorID
	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, storageError(err, "failed to update incident")
	}
	s.metrics.RecordIncidentTransition("update")
	return incident, nil
}

// Get returns the incident with the given id.
func (s *IncidentService) Get(ctx context.Context, id int64) (*models.Incident, error) {
	return s.load(ctx, id)
}

// ListByStatus returns every incident currently in status.
func (s *IncidentService) ListByStatus(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error) {
	if !status.Valid() {
		return nil, appErrors.Validation("invalid incident status", []string{"unknown incident status " + string(status)})
	}
	incidents, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list incidents")
	}
	return incidents, nil
}

// List returns a page of incidents matching the by-example filter.
func (s *IncidentService) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, *models.Pagination, error) {
	incidents, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list incidents")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	return incidents, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Assign hands the incident to a user and moves it to IN_REPAIR. The record is
// not re-validated.
func (s *IncidentService) Assign(ctx context.Context, incidentID, userID int64) (*models.Incident, error) {
	incident, err := s.load(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("user", userID)
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}

	handler := userID
	incident.HandlerID = &handler
	incident.Status = models.IncidentStatusInRepair
	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, appErrors.Internal(err, "failed to assign incident")
	}

	s.logger.Info("incident assigned", zap.Int64("incident_id", incidentID), zap.Int64("handler_id", userID))
	s.metrics.RecordIncidentTransition("assign")
	return incident, nil
}

// Unassign clears the handler and returns the incident to PENDING.
func (s *IncidentService) Unassign(ctx context.Context, incidentID int64) (*models.Incident, error) {
	incident, err := s.load(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	incident.HandlerID = nil
	incident.Status = models.IncidentStatusPending
	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, appErrors.Internal(err, "failed to unassign incident")
	}

	s.logger.Info("incident unassigned", zap.Int64("incident_id", incidentID))
	s.metrics.RecordIncidentTransition("unassign")
	return incident, nil
}

// Resolve marks the incident RESOLVED, keeping its handler. Resolved incidents
// may still be reassigned.
func (s *IncidentService) Resolve(ctx context.Context, incidentID int64) (*models.Incident, error) {
	incident, err := s.load(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	incident.Status = models.IncidentStatusResolved
	if err := s.repo.Update(ctx, incident); err != nil {
		return nil, appErrors.Internal(err, "failed to resolve incident")
	}

	s.logger.Info("incident resolved", zap.Int64("incident_id", incidentID))
	s.metrics.RecordIncidentTransition("resolve")
	return incident, nil
}

// Delete removes the incident after deleting each of its notes.
func (s *IncidentService) Delete(ctx context.Context, incidentID int64) error {
	if _, err := s.load(ctx, incidentID); err != nil {
		return err
	}

	notes, err := s.notes.ListByIncident(ctx, incidentID)
	if err != nil {
		return appErrors.Internal(err, "failed to load incident notes")
	}
	for _, note := range notes {
		if err := s.notes.Delete(ctx, note.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Internal(err, "failed to delete incident note")
		}
	}

	if err := s.repo.Delete(ctx, incidentID); err != nil {
		return appErrors.Internal(err, "failed to delete incident")
	}

	s.logger.Info("incident deleted", zap.Int64("incident_id", incidentID), zap.Int("notes_removed", len(notes)))
	s.metrics.RecordIncidentTransition("delete")
	return nil
}

func (s *IncidentService) load(ctx context.Context, id int64) (*models.Incident, error) {
	incident, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("incident", id)
		}
		return nil, appErrors.Internal(err, "failed to load incident")
	}
	return incident, nil
}

// storageError keeps typed repository errors (such as duplicate keys) and
// wraps everything else as internal.
func storageError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, message)
}
