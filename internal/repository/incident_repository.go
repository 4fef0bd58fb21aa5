package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/incident-tracker/internal/models"
)

const incidentColumns = `id, title, description, incident_date, classroom, image, status, handler_id, creator_id, created_at, updated_at`

// IncidentRepository persists incidents in PostgreSQL.
type IncidentRepository struct {
	db *sqlx.DB
}

// NewIncidentRepository creates a new IncidentRepository.
func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// FindByID returns the incident or sql.ErrNoRows.
func (r *IncidentRepository) FindByID(ctx context.Context, id int64) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	var incident models.Incident
	if err := r.db.GetContext(ctx, &incident, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find incident: %w", err)
	}
	return &incident, nil
}

// ListByStatus returns incidents in the given status, newest first.
func (r *IncidentRepository) ListByStatus(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status = $1 ORDER BY created_at DESC, id DESC`
	var incidents []models.Incident
	if err := r.db.SelectContext(ctx, &incidents, query, string(status)); err != nil {
		return nil, fmt.Errorf("list incidents by status: %w", err)
	}
	return incidents, nil
}

// List returns incidents matching filter together with the total count.
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, int, error) {
	baseQuery := `FROM incidents WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(*filter.Status))
	}
	if filter.HandlerID != nil {
		conditions = append(conditions, fmt.Sprintf("handler_id = $%d", len(args)+1))
		args = append(args, *filter.HandlerID)
	}
	if filter.CreatorID != nil {
		conditions = append(conditions, fmt.Sprintf("creator_id = $%d", len(args)+1))
		args = append(args, *filter.CreatorID)
	}
	if filter.Title != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Title)+"%")
	}
	if filter.Classroom != "" {
		conditions = append(conditions, fmt.Sprintf("classroom = $%d", len(args)+1))
		args = append(args, filter.Classroom)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", incidentColumns, baseQuery, pageSize, offset)

	var incidents []models.Incident
	if err := r.db.SelectContext(ctx, &incidents, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	return incidents, total, nil
}

// Create inserts the incident and sets its generated id.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	now := time.Now().UTC()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = now
	}
	incident.UpdatedAt = now

	const query = `INSERT INTO incidents (title, description, incident_date, classroom, image, status, handler_id, creator_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	err := r.db.QueryRowxContext(ctx, query,
		incident.Title,
		incident.Description,
		incident.Date,
		incident.Classroom,
		incident.Image,
		string(incident.Status),
		incident.HandlerID,
		incident.CreatorID,
		incident.CreatedAt,
		incident.UpdatedAt,
	).Scan(&incident.ID)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// Update overwrites every mutable column; creator_id is fixed at creation.
// It returns sql.ErrNoRows when the incident does not exist.
func (r *IncidentRepository) Update(ctx context.Context, incident *models.Incident) error {
	incident.UpdatedAt = time.Now().UTC()

	const query = `UPDATE incidents SET title = $2, description = $3, incident_date = $4, classroom = $5, image = $6,
status = $7, handler_id = $8, updated_at = $9 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.Date,
		incident.Classroom,
		incident.Image,
		string(incident.Status),
		incident.HandlerID,
		incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return requireAffected(res, "update incident")
}

// Delete removes the incident row.
func (r *IncidentRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	return requireAffected(res, "delete incident")
}
