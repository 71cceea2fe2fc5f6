package store

import (
	"context"
	"errors"

	"storybook/pkg/domain"
)

// ErrDuplicateUsername is returned by CreateUser when the username is taken.
var ErrDuplicateUsername = errors.New("username already exists")

// Repository defines persistence operations for users, stories, chat messages
// and contact submissions. Lookups report a missing record through the bool
// result, never through the error.
type Repository interface {
	// users
	CreateUser(ctx context.Context, in domain.NewUser) (domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)

	// stories
	CreateStory(ctx context.Context, in domain.NewStory) (domain.Story, error)
	GetStory(ctx context.Context, id int64) (domain.Story, bool, error)
	GetStoriesByUserID(ctx context.Context, userID int64) ([]domain.Story, error)
	UpdateStoryPreviewStatus(ctx context.Context, id int64, generated bool) (domain.Story, bool, error)
	UpdateStoryPurchaseStatus(ctx context.Context, id int64, purchased bool) (domain.Story, bool, error)

	// chat
	GetChatMessagesByStoryID(ctx context.Context, storyID int64) ([]domain.ChatMessage, error)
	CreateChatMessage(ctx context.Context, in domain.NewChatMessage) (domain.ChatMessage, error)

	// contact
	GetContactSubmission(ctx context.Context, id int64) (domain.ContactSubmission, bool, error)
	GetContactSubmissions(ctx context.Context) ([]domain.ContactSubmission, error)
	CreateContactSubmission(ctx context.Context, in domain.NewContactSubmission) (domain.ContactSubmission, error)
}

// normalizePhotos maps an empty photo list to absent and copies the rest.
func normalizePhotos(photos domain.Optional[[]string]) domain.Optional[[]string] {
	list, ok := photos.Get()
	if !ok || len(list) == 0 {
		return domain.None[[]string]()
	}
	return domain.Some(append([]string(nil), list...))
}
