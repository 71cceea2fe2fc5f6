package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Username string `gorm:"uniqueIndex;not null"`
	Password string `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type StoryModel struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	Title            string         `gorm:"not null"`
	Category         string         `gorm:"not null"`
	Content          string         `gorm:"type:text;not null"`
	UserID           int64          `gorm:"not null;index"`
	CharacterPhotos  datatypes.JSON `gorm:"type:jsonb"`
	PreviewGenerated bool           `gorm:"not null;default:false"`
	Purchased        bool           `gorm:"not null;default:false"`
	CreatedAt        time.Time      `gorm:"not null"`
}

func (StoryModel) TableName() string { return "stories" }

type ChatMessageModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	StoryID   int64     `gorm:"not null;index"`
	UserID    int64     `gorm:"not null"`
	IsEditor  bool      `gorm:"not null;default:false"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (ChatMessageModel) TableName() string { return "chat_messages" }

type ContactSubmissionModel struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	Name      *string
	Email     *string
	Phone     *string
	Message   *string `gorm:"type:text"`
	StoryID   *int64
	CreatedAt time.Time `gorm:"not null;index"`
}

func (ContactSubmissionModel) TableName() string { return "contact_submissions" }
