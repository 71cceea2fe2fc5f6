package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"storybook/pkg/domain"
)

const migrateLockID int64 = 51760214

type GormStoreOptions struct {
	MaxOpenConns int
	LogLevel     gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithMaxOpenConns caps the connection pool size.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// WithLogLevel overrides the GORM logger level (default: warn).
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

var _ Repository = (*GormStore)(nil)

// GormStore implements Repository using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &StoryModel{}, &ChatMessageModel{}, &ContactSubmissionModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a user, mapping the unique username index to ErrDuplicateUsername.
func (s *GormStore) CreateUser(ctx context.Context, in domain.NewUser) (domain.User, error) {
	model := UserModel{Username: in.Username, Password: in.Password}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicateUsername
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

func (s *GormStore) GetUser(ctx context.Context, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).Order("id ASC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) CreateStory(ctx context.Context, in domain.NewStory) (domain.Story, error) {
	model, err := storyToModel(domain.Story{
		Title:           in.Title,
		Category:        in.Category,
		Content:         in.Content,
		UserID:          in.UserID,
		CharacterPhotos: normalizePhotos(in.CharacterPhotos),
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return domain.Story{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Story{}, err
	}
	return storyFromModel(model)
}

func (s *GormStore) GetStory(ctx context.Context, id int64) (domain.Story, bool, error) {
	var model StoryModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Story{}, false, nil
		}
		return domain.Story{}, false, err
	}
	story, err := storyFromModel(model)
	if err != nil {
		return domain.Story{}, false, err
	}
	return story, true, nil
}

func (s *GormStore) GetStoriesByUserID(ctx context.Context, userID int64) ([]domain.Story, error) {
	var models []StoryModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Story, 0, len(models))
	for _, m := range models {
		story, err := storyFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, story)
	}
	return res, nil
}

func (s *GormStore) UpdateStoryPreviewStatus(ctx context.Context, id int64, generated bool) (domain.Story, bool, error) {
	return s.updateStoryFlag(ctx, id, "preview_generated", generated)
}

func (s *GormStore) UpdateStoryPurchaseStatus(ctx context.Context, id int64, purchased bool) (domain.Story, bool, error) {
	return s.updateStoryFlag(ctx, id, "purchased", purchased)
}

func (s *GormStore) updateStoryFlag(ctx context.Context, id int64, column string, value bool) (domain.Story, bool, error) {
	res := s.db.WithContext(ctx).Model(&StoryModel{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return domain.Story{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Story{}, false, nil
	}
	return s.GetStory(ctx, id)
}

func (s *GormStore) GetChatMessagesByStoryID(ctx context.Context, storyID int64) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.WithContext(ctx).Where("story_id = ?", storyID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		res = append(res, chatMessageFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CreateChatMessage(ctx context.Context, in domain.NewChatMessage) (domain.ChatMessage, error) {
	model := ChatMessageModel{
		StoryID:   in.StoryID,
		UserID:    in.UserID,
		IsEditor:  in.IsEditor.OrElse(false),
		Message:   in.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ChatMessage{}, err
	}
	return chatMessageFromModel(model), nil
}

func (s *GormStore) GetContactSubmission(ctx context.Context, id int64) (domain.ContactSubmission, bool, error) {
	var model ContactSubmissionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ContactSubmission{}, false, nil
		}
		return domain.ContactSubmission{}, false, err
	}
	return contactFromModel(model), true, nil
}

func (s *GormStore) GetContactSubmissions(ctx context.Context) ([]domain.ContactSubmission, error) {
	var models []ContactSubmissionModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ContactSubmission, 0, len(models))
	for _, m := range models {
		res = append(res, contactFromModel(m))
	}
	return res, nil
}

func (s *GormStore) CreateContactSubmission(ctx context.Context, in domain.NewContactSubmission) (domain.ContactSubmission, error) {
	model := contactToModel(domain.ContactSubmission{
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Message:   in.Message,
		StoryID:   in.StoryID,
		CreatedAt: time.Now().UTC(),
	})
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ContactSubmission{}, err
	}
	return contactFromModel(model), nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{ID: m.ID, Username: m.Username, Password: m.Password}
}

func storyToModel(s domain.Story) (StoryModel, error) {
	model := StoryModel{
		ID:               s.ID,
		Title:            s.Title,
		Category:         s.Category,
		Content:          s.Content,
		UserID:           s.UserID,
		PreviewGenerated: s.PreviewGenerated,
		Purchased:        s.Purchased,
		CreatedAt:        s.CreatedAt,
	}
	if photos, ok := s.CharacterPhotos.Get(); ok {
		raw, err := json.Marshal(photos)
		if err != nil {
			return StoryModel{}, fmt.Errorf("encode character photos: %w", err)
		}
		model.CharacterPhotos = datatypes.JSON(raw)
	}
	return model, nil
}

func storyFromModel(m StoryModel) (domain.Story, error) {
	story := domain.Story{
		ID:               m.ID,
		Title:            m.Title,
		Category:         m.Category,
		Content:          m.Content,
		UserID:           m.UserID,
		PreviewGenerated: m.PreviewGenerated,
		Purchased:        m.Purchased,
		CreatedAt:        m.CreatedAt,
	}
	raw := bytes.TrimSpace(m.CharacterPhotos)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return story, nil
	}
	var photos []string
	if err := json.Unmarshal(raw, &photos); err != nil {
		return domain.Story{}, fmt.Errorf("decode character photos for story %d: %w", m.ID, err)
	}
	story.CharacterPhotos = normalizePhotos(domain.Some(photos))
	return story, nil
}

func chatMessageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		StoryID:   m.StoryID,
		UserID:    m.UserID,
		IsEditor:  m.IsEditor,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}

func contactToModel(c domain.ContactSubmission) ContactSubmissionModel {
	return ContactSubmissionModel{
		ID:        c.ID,
		Name:      c.Name.Ptr(),
		Email:     c.Email.Ptr(),
		Phone:     c.Phone.Ptr(),
		Message:   c.Message.Ptr(),
		StoryID:   c.StoryID.Ptr(),
		CreatedAt: c.CreatedAt,
	}
}

func contactFromModel(m ContactSubmissionModel) domain.ContactSubmission {
	return domain.ContactSubmission{
		ID:        m.ID,
		Name:      domain.FromPtr(m.Name),
		Email:     domain.FromPtr(m.Email),
		Phone:     domain.FromPtr(m.Phone),
		Message:   domain.FromPtr(m.Message),
		StoryID:   domain.FromPtr(m.StoryID),
		CreatedAt: m.CreatedAt,
	}
}
