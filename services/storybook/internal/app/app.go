package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"storybook/internal/metrics"
	"storybook/internal/util"
	"storybook/pkg/auth"
	"storybook/pkg/domain"
	"storybook/pkg/events"
	"storybook/pkg/storage"
	"storybook/pkg/store"
)

// archiveTimeout bounds photo archiving inside a story request. It stays well
// under the HTTP server's write timeout so a slow bucket cannot cost the
// client its response after the story is saved.
const archiveTimeout = 5 * time.Second

// Config holds runtime configuration for the core application.
type Config struct {
	// Store overrides the repository; otherwise DatabaseURL selects Postgres
	// and an empty DatabaseURL selects the in-memory store.
	Store         store.Repository
	DatabaseURL   string
	Objects       storage.ObjectStore
	Events        events.Publisher
	CurrentUserID int64
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store         store.Repository
	objects       storage.ObjectStore
	events        events.Publisher
	currentUserID int64
	archiveWait   time.Duration
}

// Photo is one accepted character photo upload.
type Photo struct {
	Filename    string
	ContentType string
	Data        []byte
}

// DataURI encodes the photo as data:<mime>;base64,<payload>.
func (p Photo) DataURI() string {
	return "data:" + p.ContentType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// StoryDraft is the client-supplied part of a new story.
type StoryDraft struct {
	Title    string
	Category string
	Content  string
	Photos   []Photo
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.CurrentUserID <= 0 {
		return nil, errors.New("current user id must be positive")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			dataStore = store.NewMemoryStore()
		} else {
			gormStore, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			dataStore = gormStore
		}
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &App{
		store:         dataStore,
		objects:       cfg.Objects,
		events:        publisher,
		currentUserID: cfg.CurrentUserID,
		archiveWait:   archiveTimeout,
	}, nil
}

// CurrentUserID is the actor every story and message is attributed to.
func (a *App) CurrentUserID() int64 {
	return a.currentUserID
}

// Close releases the event publisher.
func (a *App) Close() error {
	return a.events.Close()
}

// CreateStory validates and stores a draft, then marks its preview as
// generated before returning it.
func (a *App) CreateStory(ctx context.Context, draft StoryDraft) (domain.Story, error) {
	in := domain.NewStory{
		Title:    strings.TrimSpace(draft.Title),
		Category: strings.TrimSpace(draft.Category),
		Content:  strings.TrimSpace(draft.Content),
		UserID:   a.currentUserID,
	}
	if len(draft.Photos) > 0 {
		uris := make([]string, 0, len(draft.Photos))
		for _, p := range draft.Photos {
			uris = append(uris, p.DataURI())
		}
		in.CharacterPhotos = domain.Some(uris)
	}
	if err := domain.Validate(in); err != nil {
		return domain.Story{}, err
	}

	created, err := a.store.CreateStory(ctx, in)
	if err != nil {
		return domain.Story{}, fmt.Errorf("create story: %w", err)
	}
	story, ok, err := a.store.UpdateStoryPreviewStatus(ctx, created.ID, true)
	if err != nil {
		return domain.Story{}, fmt.Errorf("generate preview: %w", err)
	}
	if !ok {
		return domain.Story{}, fmt.Errorf("generate preview: story %d missing after create", created.ID)
	}
	metrics.StoriesCreated.Inc()

	a.archivePhotos(ctx, story.ID, draft.Photos)
	a.publish(ctx, events.New(events.StoryCreated, storyEvent(story)))
	return story, nil
}

// ListStories returns the current actor's stories.
func (a *App) ListStories(ctx context.Context) ([]domain.Story, error) {
	return a.store.GetStoriesByUserID(ctx, a.currentUserID)
}

// GetStory retrieves a story by ID.
func (a *App) GetStory(ctx context.Context, id int64) (domain.Story, bool, error) {
	return a.store.GetStory(ctx, id)
}

// PurchaseStory marks a story purchased. Repeating it is harmless.
func (a *App) PurchaseStory(ctx context.Context, id int64) (domain.Story, bool, error) {
	story, ok, err := a.store.GetStory(ctx, id)
	if err != nil || !ok {
		return domain.Story{}, false, err
	}
	// purchased implies previewGenerated
	if !story.PreviewGenerated {
		if _, _, err := a.store.UpdateStoryPreviewStatus(ctx, id, true); err != nil {
			return domain.Story{}, false, fmt.Errorf("generate preview: %w", err)
		}
	}
	story, ok, err = a.store.UpdateStoryPurchaseStatus(ctx, id, true)
	if err != nil || !ok {
		return domain.Story{}, ok, err
	}
	metrics.StoriesPurchased.Inc()
	a.publish(ctx, events.New(events.StoryPurchased, storyEvent(story)))
	return story, true, nil
}

// ListChatMessages returns a story's chat history, oldest first.
func (a *App) ListChatMessages(ctx context.Context, storyID int64) ([]domain.ChatMessage, error) {
	if err := a.requireStory(ctx, storyID); err != nil {
		return nil, err
	}
	return a.store.GetChatMessagesByStoryID(ctx, storyID)
}

// PostChatMessage appends a message from the current actor to a story's chat.
func (a *App) PostChatMessage(ctx context.Context, storyID int64, text string, isEditor domain.Optional[bool]) (domain.ChatMessage, error) {
	if err := a.requireStory(ctx, storyID); err != nil {
		return domain.ChatMessage{}, err
	}
	in := domain.NewChatMessage{
		StoryID:  storyID,
		UserID:   a.currentUserID,
		IsEditor: isEditor,
		Message:  util.StripScripts(text),
	}
	if err := domain.Validate(in); err != nil {
		return domain.ChatMessage{}, err
	}
	msg, err := a.store.CreateChatMessage(ctx, in)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("create chat message: %w", err)
	}
	author := "customer"
	if msg.IsEditor {
		author = "editor"
	}
	metrics.ChatMessages.WithLabelValues(author).Inc()
	a.publish(ctx, events.New(events.ChatMessageCreated, msg))
	return msg, nil
}

// SubmitContact stores a contact submission. Every field is optional and
// blank values are treated as absent.
func (a *App) SubmitContact(ctx context.Context, in domain.NewContactSubmission) (domain.ContactSubmission, error) {
	in.Name = cleanOptional(in.Name)
	in.Email = cleanOptional(in.Email)
	in.Phone = cleanOptional(in.Phone)
	in.Message = cleanOptional(in.Message)
	if err := domain.Validate(in); err != nil {
		return domain.ContactSubmission{}, err
	}
	sub, err := a.store.CreateContactSubmission(ctx, in)
	if err != nil {
		return domain.ContactSubmission{}, fmt.Errorf("create contact submission: %w", err)
	}
	metrics.ContactSubmissions.Inc()
	a.publish(ctx, events.New(events.ContactSubmitted, sub))
	return sub, nil
}

// ListContactSubmissions returns every submission, most recent first.
func (a *App) ListContactSubmissions(ctx context.Context) ([]domain.ContactSubmission, error) {
	return a.store.GetContactSubmissions(ctx)
}

func (a *App) GetContactSubmission(ctx context.Context, id int64) (domain.ContactSubmission, bool, error) {
	return a.store.GetContactSubmission(ctx, id)
}

// SignUp registers a user with a bcrypt-hashed password.
func (a *App) SignUp(ctx context.Context, in domain.NewUser) (domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := domain.Validate(in); err != nil {
		return domain.User{}, err
	}
	if _, exists, err := a.store.GetUserByUsername(ctx, in.Username); err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	} else if exists {
		return domain.User{}, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return domain.User{}, &domain.ValidationError{Fields: []domain.FieldError{
			{Field: "password", Message: "must be at most 72 bytes"},
		}}
	}
	if err != nil {
		return domain.User{}, err
	}
	in.Password = hash
	user, err := a.store.CreateUser(ctx, in)
	if errors.Is(err, store.ErrDuplicateUsername) {
		return domain.User{}, ErrUsernameTaken
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (a *App) GetUser(ctx context.Context, id int64) (domain.User, bool, error) {
	return a.store.GetUser(ctx, id)
}

func (a *App) requireStory(ctx context.Context, id int64) error {
	_, ok, err := a.store.GetStory(ctx, id)
	if err != nil {
		return fmt.Errorf("get story: %w", err)
	}
	if !ok {
		return ErrStoryNotFound
	}
	return nil
}

// archivePhotos copies the raw uploads to object storage. Failures are logged
// and never fail the request; the story already carries the data URIs.
// A partial archive is removed so a story has all of its photos stored or none.
func (a *App) archivePhotos(ctx context.Context, storyID int64, photos []Photo) {
	if a.objects == nil || len(photos) == 0 {
		return
	}
	logger := util.LoggerFromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.archiveWait)
	defer cancel()

	keys := make([]string, len(photos))
	stored := make([]bool, len(photos))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range photos {
		keys[i] = photoKey(storyID, i, p)
		g.Go(func() error {
			if err := a.objects.Put(gctx, keys[i], bytes.NewReader(p.Data), int64(len(p.Data)), p.ContentType); err != nil {
				return err
			}
			stored[i] = true
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return
	}
	logger.Warn("archive character photos failed", "story_id", storyID, "err", err)
	for i, key := range keys {
		if !stored[i] {
			continue
		}
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			logger.Warn("remove partial photo archive failed", "key", key, "err", delErr)
		}
	}
}

func photoKey(storyID int64, index int, p Photo) string {
	ext := strings.ToLower(path.Ext(p.Filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(p.ContentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("stories/%d/%d-%s%s", storyID, index+1, uuid.NewString(), ext)
}

func (a *App) publish(ctx context.Context, e events.Event) {
	if err := a.events.Publish(ctx, e); err != nil {
		util.LoggerFromContext(ctx).Warn("publish event failed", "type", e.Type, "event_id", e.ID, "err", err)
	}
}

// storyEvent omits the photo payloads, which can run to megabytes.
func storyEvent(s domain.Story) map[string]any {
	photos, _ := s.CharacterPhotos.Get()
	return map[string]any{
		"storyId":          s.ID,
		"userId":           s.UserID,
		"title":            s.Title,
		"category":         s.Category,
		"photoCount":       len(photos),
		"previewGenerated": s.PreviewGenerated,
		"purchased":        s.Purchased,
	}
}

func cleanOptional(o domain.Optional[string]) domain.Optional[string] {
	v, ok := o.Get()
	if !ok {
		return o
	}
	v = util.StripScripts(v)
	if v == "" {
		return domain.None[string]()
	}
	return domain.Some(v)
}
