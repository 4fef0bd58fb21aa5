package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

type noteRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Note, error)
	ListByIncident(ctx context.Context, incidentID int64) ([]models.Note, error)
	Create(ctx context.Context, note *models.Note) error
	UpdateContent(ctx context.Context, id int64, content string) error
	Delete(ctx context.Context, id int64) error
}

type noteIncidentLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Incident, error)
}

// NoteService manages the comments attached to incidents.
type NoteService struct {
	repo      noteRepository
	incidents noteIncidentLookup
	users     userLookup
	logger    *zap.Logger
	now       func() time.Time
}

// NewNoteService constructs a NoteService.
func NewNoteService(repo noteRepository, incidents noteIncidentLookup, users userLookup, logger *zap.Logger) *NoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoteService{
		repo:      repo,
		incidents: incidents,
		users:     users,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *NoteService) WithClock(now func() time.Time) *NoteService {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateNote attaches content to the incident on behalf of the author. A
// missing incident or author leaves the association empty instead of failing.
func (s *NoteService) CreateNote(ctx context.Context, incidentID int64, content string, authorID int64) (*models.Note, error) {
	note := &models.Note{
		Content:   content,
		CreatedAt: s.now(),
	}

	if incident, err := s.incidents.FindByID(ctx, incidentID); err == nil {
		note.IncidentID = &incident.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load incident")
	} else {
		s.logger.Warn("note created without incident", zap.Int64("incident_id", incidentID))
	}

	if author, err := s.users.FindByID(ctx, authorID); err == nil {
		note.AuthorID = &author.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load author")
	} else {
		s.logger.Warn("note created without author", zap.Int64("author_id", authorID))
	}

	if err := s.repo.Create(ctx, note); err != nil {
		return nil, appErrors.Internal(err, "failed to create note")
	}
	return note, nil
}

// Get returns the note with the given id.
func (s *NoteService) Get(ctx context.Context, noteID int64) (*models.Note, error) {
	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("note", noteID)
		}
		return nil, appErrors.Internal(err, "failed to load note")
	}
	return note, nil
}

// UpdateContent replaces the note text. The creation timestamp is kept.
func (s *NoteService) UpdateContent(ctx context.Context, noteID int64, content string) (*models.Note, error) {
	note, err := s.Get(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateContent(ctx, noteID, content); err != nil {
		return nil, appErrors.Internal(err, "failed to update note")
	}
	note.Content = content
	return note, nil
}

// DeleteNote removes the note when the actor wrote it or is an administrator.
func (s *NoteService) DeleteNote(ctx context.Context, actor models.Actor, noteID int64) error {
	note, err := s.Get(ctx, noteID)
	if err != nil {
		return err
	}

	if !note.AuthoredBy(actor.UserID) && !actor.IsAdmin() {
		s.logger.Warn("note deletion refused", zap.Int64("note_id", noteID), zap.Int64("actor_id", actor.UserID))
		return appErrors.Clone(appErrors.ErrForbidden, "you do not have permission to delete this note")
	}

	if err := s.repo.Delete(ctx, noteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NotFound("note", noteID)
		}
		return appErrors.Internal(err, "failed to delete note")
	}

	s.logger.Info("note deleted", zap.Int64("note_id", noteID), zap.Int64("actor_id", actor.UserID))
	return nil
}

// ListByIncident returns the incident's notes oldest first.
func (s *NoteService) ListByIncident(ctx context.Context, incidentID int64) ([]models.Note, error) {
	notes, err := s.repo.ListByIncident(ctx, incidentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list notes")
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].ID < notes[j].ID
		}
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes, nil
}
