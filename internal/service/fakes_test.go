package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

type fakeIncidentRepo struct {
	incidents map[int64]*models.Incident
	nextID    int64
	updates   int
	findErr   error
	updateErr error
}

func newFakeIncidentRepo(incidents ...models.Incident) *fakeIncidentRepo {
	repo := &fakeIncidentRepo{incidents: make(map[int64]*models.Incident)}
	for i := range incidents {
		copy := incidents[i]
		repo.incidents[copy.ID] = &copy
		if copy.ID > repo.nextID {
			repo.nextID = copy.ID
		}
	}
	return repo
}

func (r *fakeIncidentRepo) FindByID(ctx context.Context, id int64) (*models.Incident, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	incident, ok := r.incidents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *incident
	return &copy, nil
}

func (r *fakeIncidentRepo) ListByStatus(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error) {
	var out []models.Incident
	for _, incident := range r.incidents {
		if incident.Status == status {
			out = append(out, *incident)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeIncidentRepo) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, int, error) {
	var out []models.Incident
	for _, incident := range r.incidents {
		if filter.Status != nil && incident.Status != *filter.Status {
			continue
		}
		out = append(out, *incident)
	}
	return out, len(out), nil
}

func (r *fakeIncidentRepo) Create(ctx context.Context, incident *models.Incident) error {
	r.nextID++
	incident.ID = r.nextID
	copy := *incident
	r.incidents[incident.ID] = &copy
	return nil
}

func (r *fakeIncidentRepo) Update(ctx context.Context, incident *models.Incident) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.incidents[incident.ID]; !ok {
		return sql.ErrNoRows
	}
	r.updates++
	copy := *incident
	r.incidents[incident.ID] = &copy
	return nil
}

func (r *fakeIncidentRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.incidents[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.incidents, id)
	return nil
}

type fakeNoteRepo struct {
	notes   map[int64]*models.Note
	nextID  int64
	deleted []int64
}

func newFakeNoteRepo(notes ...models.Note) *fakeNoteRepo {
	repo := &fakeNoteRepo{notes: make(map[int64]*models.Note)}
	for i := range notes {
		copy := notes[i]
		repo.notes[copy.ID] = &copy
		if copy.ID > repo.nextID {
			repo.nextID = copy.ID
		}
	}
	return repo
}

func (r *fakeNoteRepo) FindByID(ctx context.Context, id int64) (*models.Note, error) {
	note, ok := r.notes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *note
	return &copy, nil
}

// ListByIncident returns notes in map order so callers must sort.
func (r *fakeNoteRepo) ListByIncident(ctx context.Context, incidentID int64) ([]models.Note, error) {
	out := make([]models.Note, 0)
	for _, note := range r.notes {
		if note.IncidentID != nil && *note.IncidentID == incidentID {
			out = append(out, *note)
		}
	}
	return out, nil
}

func (r *fakeNoteRepo) Create(ctx context.Context, note *models.Note) error {
	r.nextID++
	note.ID = r.nextID
	copy := *note
	r.notes[note.ID] = &copy
	return nil
}

func (r *fakeNoteRepo) UpdateContent(ctx context.Context, id int64, content string) error {
	note, ok := r.notes[id]
	if !ok {
		return sql.ErrNoRows
	}
	note.Content = content
	return nil
}

func (r *fakeNoteRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.notes[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.notes, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	nextID    int64
	passwords map[int64]string
	findErr   error
	createErr error
	updateErr error
}

func newFakeUserRepo(users ...models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[int64]*models.User), passwords: make(map[int64]string)}
	for i := range users {
		copy := users[i]
		repo.users[copy.ID] = &copy
		if copy.ID > repo.nextID {
			repo.nextID = copy.ID
		}
	}
	return repo
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	user, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *user
	return &copy, nil
}

func (r *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, user := range r.users {
		if user.Email == email {
			copy := *user
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	user.ID = r.nextID
	copy := *user
	r.users[user.ID] = &copy
	return nil
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	user, ok := r.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.Password = passwordHash
	r.passwords[id] = passwordHash
	return nil
}

type fakeTokenRepo struct {
	mu        sync.Mutex
	tokens    map[string]models.PasswordResetToken
	nextID    int64
	findErr   error
	deleteErr error
	// afterFind runs outside the lock once a lookup has returned.
	afterFind func()
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]models.PasswordResetToken)}
}

func (r *fakeTokenRepo) ReplaceForUser(ctx context.Context, token *models.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, taken := r.tokens[token.Token]; taken && existing.UserID != token.UserID {
		return appErrors.Clone(appErrors.ErrConflict, "reset token already in use")
	}
	for key, existing := range r.tokens {
		if existing.UserID == token.UserID {
			delete(r.tokens, key)
		}
	}
	r.nextID++
	token.ID = r.nextID
	r.tokens[token.Token] = *token
	return nil
}

func (r *fakeTokenRepo) FindByToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	prt, err := r.find(token)
	if r.afterFind != nil {
		r.afterFind()
	}
	return prt, err
}

func (r *fakeTokenRepo) find(token string) (*models.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	prt, ok := r.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &prt, nil
}

func (r *fakeTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.tokens[token]; !ok {
		return sql.ErrNoRows
	}
	delete(r.tokens, token)
	return nil
}

func (r *fakeTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, prt := range r.tokens {
		if prt.Expired(now) {
			delete(r.tokens, key)
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenRepo) ownedBy(userID int64) []models.PasswordResetToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PasswordResetToken
	for _, prt := range r.tokens {
		if prt.UserID == userID {
			out = append(out, prt)
		}
	}
	return out
}

type sentMail struct {
	Email string
	Name  string
	Link  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *fakeNotifier) NotifyPasswordReset(ctx context.Context, email, name, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{Email: email, Name: name, Link: link})
	return nil
}

func (n *fakeNotifier) SendPasswordReset(ctx context.Context, email, name, link string) error {
	return n.NotifyPasswordReset(ctx, email, name, link)
}

func (n *fakeNotifier) messages() []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMail(nil), n.sent...)
}

// prefixHasher marks passwords as hashed without paying for bcrypt.
type prefixHasher struct{}

func (prefixHasher) Hash(password string) (string, error) {
	return models.BcryptPrefix + "test$" + password, nil
}
