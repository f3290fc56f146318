package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/lms-api/internal/domain"
	"github.com/spec-kit/lms-api/internal/events"
	"github.com/spec-kit/lms-api/internal/repository"
)

type memoryUsers struct {
	mu    sync.Mutex
	byID  map[string]*domain.User
	fails error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[string]*domain.User{}}
}

func (m *memoryUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails != nil {
		return m.fails
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	m.byID[user.ID] = &clone
	return nil
}

func (m *memoryUsers) setPassword(id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = hash
	return nil
}

func (m *memoryUsers) UpdateRole(_ context.Context, id string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.Role = role
	return nil
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails != nil {
		return nil, m.fails
	}
	for _, user := range m.byID {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memoryResets struct {
	mu      sync.Mutex
	byToken map[string]*repository.PasswordResetToken
	users   *memoryUsers
	// redeemErr aborts Redeem before anything is written
	redeemErr error
}

func newMemoryResets(users *memoryUsers) *memoryResets {
	return &memoryResets{byToken: map[string]*repository.PasswordResetToken{}, users: users}
}

func (m *memoryResets) Create(_ context.Context, token *repository.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.ID = uuid.NewString()
	token.CreatedAt = time.Now()
	clone := *token
	m.byToken[token.Token] = &clone
	return nil
}

func (m *memoryResets) GetByToken(_ context.Context, token string) (*repository.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byToken[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *stored
	return &clone, nil
}

func (m *memoryResets) Redeem(_ context.Context, id, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redeemErr != nil {
		return m.redeemErr
	}
	for _, stored := range m.byToken {
		if stored.ID == id && stored.UsedAt == nil {
			if err := m.users.setPassword(userID, hash); err != nil {
				return err
			}
			now := time.Now()
			stored.UsedAt = &now
			return nil
		}
	}
	return pgx.ErrNoRows
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}
