package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"storybook/pkg/domain"
)

var _ Repository = (*MemoryStore)(nil)

// MemoryStore keeps every record in-process for the lifetime of the server.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]domain.User
	stories  map[int64]domain.Story
	messages map[int64]domain.ChatMessage
	contacts map[int64]domain.ContactSubmission

	nextUserID    int64
	nextStoryID   int64
	nextMessageID int64
	nextContactID int64

	now func() time.Time
}

// NewMemoryStore initializes an empty in-memory store. Ids start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]domain.User),
		stories:       make(map[int64]domain.Story),
		messages:      make(map[int64]domain.ChatMessage),
		contacts:      make(map[int64]domain.ContactSubmission),
		nextUserID:    1,
		nextStoryID:   1,
		nextMessageID: 1,
		nextContactID: 1,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser registers a user; usernames are unique.
func (m *MemoryStore) CreateUser(_ context.Context, in domain.NewUser) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == in.Username {
			return domain.User{}, ErrDuplicateUsername
		}
	}
	u := domain.User{ID: m.nextUserID, Username: in.Username, Password: in.Password}
	m.nextUserID++
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByUsername returns the lowest-id user with the given name.
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found domain.User
		ok    bool
	)
	for _, u := range m.users {
		if u.Username == username && (!ok || u.ID < found.ID) {
			found, ok = u, true
		}
	}
	return found, ok, nil
}

// CreateStory stores a new story with both status flags cleared.
func (m *MemoryStore) CreateStory(_ context.Context, in domain.NewStory) (domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := domain.Story{
		ID:              m.nextStoryID,
		Title:           in.Title,
		Category:        in.Category,
		Content:         in.Content,
		UserID:          in.UserID,
		CharacterPhotos: normalizePhotos(in.CharacterPhotos),
		CreatedAt:       m.now(),
	}
	m.nextStoryID++
	m.stories[s.ID] = s
	return cloneStory(s), nil
}

func (m *MemoryStore) GetStory(_ context.Context, id int64) (domain.Story, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stories[id]
	if !ok {
		return domain.Story{}, false, nil
	}
	return cloneStory(s), true, nil
}

// GetStoriesByUserID returns the user's stories in creation order.
func (m *MemoryStore) GetStoriesByUserID(_ context.Context, userID int64) ([]domain.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Story, 0)
	for _, s := range m.stories {
		if s.UserID == userID {
			res = append(res, cloneStory(s))
		}
	}
	slices.SortFunc(res, func(a, b domain.Story) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func (m *MemoryStore) UpdateStoryPreviewStatus(_ context.Context, id int64, generated bool) (domain.Story, bool, error) {
	return m.updateStory(id, func(s *domain.Story) { s.PreviewGenerated = generated })
}

func (m *MemoryStore) UpdateStoryPurchaseStatus(_ context.Context, id int64, purchased bool) (domain.Story, bool, error) {
	return m.updateStory(id, func(s *domain.Story) { s.Purchased = purchased })
}

func (m *MemoryStore) updateStory(id int64, apply func(*domain.Story)) (domain.Story, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[id]
	if !ok {
		return domain.Story{}, false, nil
	}
	apply(&s)
	m.stories[id] = s
	return cloneStory(s), true, nil
}

// GetChatMessagesByStoryID returns the story's messages oldest first.
func (m *MemoryStore) GetChatMessagesByStoryID(_ context.Context, storyID int64) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatMessage, 0)
	for _, msg := range m.messages {
		if msg.StoryID == storyID {
			res = append(res, msg)
		}
	}
	slices.SortFunc(res, func(a, b domain.ChatMessage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

// CreateChatMessage appends a message; isEditor defaults to false.
func (m *MemoryStore) CreateChatMessage(_ context.Context, in domain.NewChatMessage) (domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := domain.ChatMessage{
		ID:        m.nextMessageID,
		StoryID:   in.StoryID,
		UserID:    in.UserID,
		IsEditor:  in.IsEditor.OrElse(false),
		Message:   in.Message,
		CreatedAt: m.now(),
	}
	m.nextMessageID++
	m.messages[msg.ID] = msg
	return msg, nil
}

func (m *MemoryStore) GetContactSubmission(_ context.Context, id int64) (domain.ContactSubmission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	return c, ok, nil
}

// GetContactSubmissions returns all submissions, most recent first.
func (m *MemoryStore) GetContactSubmissions(_ context.Context) ([]domain.ContactSubmission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ContactSubmission, 0, len(m.contacts))
	for _, c := range m.contacts {
		res = append(res, c)
	}
	slices.SortFunc(res, func(a, b domain.ContactSubmission) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return res, nil
}

func (m *MemoryStore) CreateContactSubmission(_ context.Context, in domain.NewContactSubmission) (domain.ContactSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := domain.ContactSubmission{
		ID:        m.nextContactID,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Message:   in.Message,
		StoryID:   in.StoryID,
		CreatedAt: m.now(),
	}
	m.nextContactID++
	m.contacts[c.ID] = c
	return c, nil
}

func cloneStory(s domain.Story) domain.Story {
	s.CharacterPhotos = normalizePhotos(s.CharacterPhotos)
	return s
}
