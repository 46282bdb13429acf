// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the geodrop application.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"geodrop/internal/domain"
)

// MockMessageRepository implements domain.MessageRepository for testing.
// Set function overrides to customize behavior; otherwise the in-memory
// map is used with the same ordering semantics as the real store.
type MockMessageRepository struct {
	mu     sync.RWMutex
	nextID int64

	// Function overrides
	CreateFunc           func(ctx context.Context, message *domain.Message) error
	GetByIDFunc          func(ctx context.Context, id int64) (*domain.Message, error)
	ExistsInBlockFunc    func(ctx context.Context, latBlock, longBlock float64, text string) (bool, error)
	ListByBlockFunc      func(ctx context.Context, latBlock, longBlock float64, order domain.MessageOrder) ([]*domain.Message, error)
	ListByBlockRangeFunc func(ctx context.Context, minLat, maxLat, minLong, maxLong float64) ([]*domain.Message, error)
	ListByAuthorFunc     func(ctx context.Context, authorID string) ([]*domain.Message, error)
	UpvoteFunc           func(ctx context.Context, id int64) (int, error)
	DownvoteFunc         func(ctx context.Context, id int64, deleteThreshold int) (int, error)
	DeleteByAuthorFunc   func(ctx context.Context, id int64, authorID string) error
	IncrementSeenFunc    func(ctx context.Context, ids []int64) error

	// In-memory storage
	Messages map[int64]*domain.Message
}

// NewMockMessageRepository creates a MockMessageRepository with initialized maps
func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{Messages: make(map[int64]*domain.Message)}
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	message.ID = m.nextID
	if message.Votes == 0 {
		message.Votes = domain.DefaultVotes
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	copied := *message
	m.Messages[message.ID] = &copied
	return nil
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if msg, ok := m.Messages[id]; ok {
		copied := *msg
		return &copied, nil
	}
	return nil, domain.ErrMessageNotFound
}

func (m *MockMessageRepository) ExistsInBlock(ctx context.Context, latBlock, longBlock float64, text string) (bool, error) {
	if m.ExistsInBlockFunc != nil {
		return m.ExistsInBlockFunc(ctx, latBlock, longBlock, text)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.Messages {
		if msg.LatBlock == latBlock && msg.LongBlock == longBlock &&
			strings.EqualFold(msg.Text, text) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockMessageRepository) ListByBlock(ctx context.Context, latBlock, longBlock float64, order domain.MessageOrder) ([]*domain.Message, error) {
	if m.ListByBlockFunc != nil {
		return m.ListByBlockFunc(ctx, latBlock, longBlock, order)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*domain.Message{}
	for _, msg := range m.Messages {
		if msg.LatBlock == latBlock && msg.LongBlock == longBlock {
			copied := *msg
			result = append(result, &copied)
		}
	}

	switch order {
	case domain.OrderByVotes:
		sort.Slice(result, func(i, j int) bool { return result[i].Votes > result[j].Votes })
	case domain.OrderByDate:
		sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	case domain.OrderRandom:
		// map iteration order is already unpredictable
	}
	return result, nil
}

func (m *MockMessageRepository) ListByBlockRange(ctx context.Context, minLat, maxLat, minLong, maxLong float64) ([]*domain.Message, error) {
	if m.ListByBlockRangeFunc != nil {
		return m.ListByBlockRangeFunc(ctx, minLat, maxLat, minLong, maxLong)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*domain.Message{}
	for _, msg := range m.Messages {
		if msg.LatBlock >= minLat && msg.LatBlock <= maxLat &&
			msg.LongBlock >= minLong && msg.LongBlock <= maxLong {
			copied := *msg
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockMessageRepository) ListByAuthor(ctx context.Context, authorID string) ([]*domain.Message, error) {
	if m.ListByAuthorFunc != nil {
		return m.ListByAuthorFunc(ctx, authorID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*domain.Message{}
	for _, msg := range m.Messages {
		if msg.AuthorID == authorID {
			copied := *msg
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockMessageRepository) Upvote(ctx context.Context, id int64) (int, error) {
	if m.UpvoteFunc != nil {
		return m.UpvoteFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.Messages[id]
	if !ok {
		return 0, domain.ErrMessageNotFound
	}
	msg.Votes++
	return msg.Votes, nil
}

func (m *MockMessageRepository) Downvote(ctx context.Context, id int64, deleteThreshold int) (int, error) {
	if m.DownvoteFunc != nil {
		return m.DownvoteFunc(ctx, id, deleteThreshold)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.Messages[id]
	if !ok {
		return 0, domain.ErrMessageNotFound
	}
	msg.Votes--
	if msg.Votes <= deleteThreshold {
		delete(m.Messages, id)
	}
	return msg.Votes, nil
}

func (m *MockMessageRepository) DeleteByAuthor(ctx context.Context, id int64, authorID string) error {
	if m.DeleteByAuthorFunc != nil {
		return m.DeleteByAuthorFunc(ctx, id, authorID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.Messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	if msg.AuthorID != authorID {
		return domain.ErrNotAuthor
	}
	delete(m.Messages, id)
	return nil
}

func (m *MockMessageRepository) IncrementSeen(ctx context.Context, ids []int64) error {
	if m.IncrementSeenFunc != nil {
		return m.IncrementSeenFunc(ctx, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if msg, ok := m.Messages[id]; ok {
			msg.Seen++
		}
	}
	return nil
}

// MockUserRepository implements domain.UserRepository for testing
type MockUserRepository struct {
	mu sync.RWMutex

	CreateFunc        func(ctx context.Context, user *domain.User) error
	GetByIDFunc       func(ctx context.Context, id string) (*domain.User, error)
	GetByUsernameFunc func(ctx context.Context, username string) (*domain.User, error)
	GetByEmailFunc    func(ctx context.Context, email string) (*domain.User, error)

	Users map[string]*domain.User
}

// NewMockUserRepository creates a MockUserRepository with initialized maps
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{Users: make(map[string]*domain.User)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.Users {
		if u.Username == user.Username {
			return domain.ErrUsernameExists
		}
		if u.Email == user.Email {
			return domain.ErrEmailExists
		}
	}

	if user.ID == "" {
		user.ID = "user-" + user.Username
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	m.Users[user.ID] = user
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if user, ok := m.Users[id]; ok {
		return user, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.Users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.Users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// MockSessionRepository implements domain.SessionRepository for testing
type MockSessionRepository struct {
	mu sync.RWMutex

	CreateFunc          func(ctx context.Context, session *domain.Session) error
	GetByTokenFunc      func(ctx context.Context, token string) (*domain.Session, error)
	UpdateCSRFTokenFunc func(ctx context.Context, csrfToken, sessionToken string) error
	DeleteFunc          func(ctx context.Context, token string) error
	DeleteExpiredFunc   func(ctx context.Context) (int64, error)

	Sessions map[string]*domain.Session
}

// NewMockSessionRepository creates a MockSessionRepository with initialized maps
func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{Sessions: make(map[string]*domain.Session)}
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = "sess-" + session.Token
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	m.Sessions[session.Token] = session
	return nil
}

func (m *MockSessionRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if session, ok := m.Sessions[token]; ok {
		if session.ExpiresAt.Before(time.Now()) {
			return nil, domain.ErrSessionExpired
		}
		return session, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (m *MockSessionRepository) UpdateCSRFToken(ctx context.Context, csrfToken, sessionToken string) error {
	if m.UpdateCSRFTokenFunc != nil {
		return m.UpdateCSRFTokenFunc(ctx, csrfToken, sessionToken)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.Sessions[sessionToken]; ok {
		session.CSRFToken = csrfToken
	}
	return nil
}

func (m *MockSessionRepository) Delete(ctx context.Context, token string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Sessions, token)
	return nil
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	now := time.Now()
	for token, session := range m.Sessions {
		if session.ExpiresAt.Before(now) {
			delete(m.Sessions, token)
			count++
		}
	}
	return count, nil
}
