package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/incident-tracker/internal/models"
)

// NoteRepository persists incident notes.
type NoteRepository struct {
	db *sqlx.DB
}

// NewNoteRepository creates a new NoteRepository.
func NewNoteRepository(db *sqlx.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// FindByID returns the note or sql.ErrNoRows.
func (r *NoteRepository) FindByID(ctx context.Context, id int64) (*models.Note, error) {
	const query = `SELECT id, content, created_at, author_id, incident_id FROM notes WHERE id = $1`
	var note models.Note
	if err := r.db.GetContext(ctx, &note, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find note: %w", err)
	}
	return &note, nil
}

// ListByIncident returns the notes of an incident, oldest first.
func (r *NoteRepository) ListByIncident(ctx context.Context, incidentID int64) ([]models.Note, error) {
	const query = `SELECT id, content, created_at, author_id, incident_id FROM notes WHERE incident_id = $1 ORDER BY created_at ASC, id ASC`
	notes := make([]models.Note, 0)
	if err := r.db.SelectContext(ctx, &notes, query, incidentID); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

// Create inserts the note and sets its generated id.
func (r *NoteRepository) Create(ctx context.Context, note *models.Note) error {
	const query = `INSERT INTO notes (content, created_at, author_id, incident_id) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, note.Content, note.CreatedAt, note.AuthorID, note.IncidentID).Scan(&note.ID); err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

// UpdateContent replaces the note text.
func (r *NoteRepository) UpdateContent(ctx context.Context, id int64, content string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notes SET content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return requireAffected(res, "update note")
}

// Delete removes the note row.
func (r *NoteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireAffected(res, "delete note")
}
