package domain

import "time"

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}

type Story struct {
	ID               int64              `json:"id"`
	Title            string             `json:"title"`
	Category         string             `json:"category"`
	Content          string             `json:"content"`
	UserID           int64              `json:"userId"`
	CharacterPhotos  Optional[[]string] `json:"characterPhotos"`
	PreviewGenerated bool               `json:"previewGenerated"`
	Purchased        bool               `json:"purchased"`
	CreatedAt        time.Time          `json:"createdAt"`
}

type ChatMessage struct {
	ID        int64     `json:"id"`
	StoryID   int64     `json:"storyId"`
	UserID    int64     `json:"userId"`
	IsEditor  bool      `json:"isEditor"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type ContactSubmission struct {
	ID        int64            `json:"id"`
	Name      Optional[string] `json:"name"`
	Email     Optional[string] `json:"email"`
	Phone     Optional[string] `json:"phone"`
	Message   Optional[string] `json:"message"`
	StoryID   Optional[int64]  `json:"storyId"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Insert schemas carry only the client-supplied subset of each record.
// Server-assigned fields (id, createdAt, status flags) are set by the store.

type NewUser struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type NewStory struct {
	Title           string             `json:"title" validate:"required,max=200"`
	Category        string             `json:"category" validate:"required,max=100"`
	Content         string             `json:"content" validate:"required"`
	UserID          int64              `json:"userId" validate:"gt=0"`
	CharacterPhotos Optional[[]string] `json:"characterPhotos" validate:"omitempty,max=3"`
}

type NewChatMessage struct {
	StoryID  int64          `json:"storyId" validate:"gt=0"`
	UserID   int64          `json:"userId" validate:"gt=0"`
	IsEditor Optional[bool] `json:"isEditor"`
	Message  string         `json:"message" validate:"required,max=4000"`
}

type NewContactSubmission struct {
	Name    Optional[string] `json:"name" validate:"omitempty,max=200"`
	Email   Optional[string] `json:"email" validate:"omitempty,email,max=254"`
	Phone   Optional[string] `json:"phone" validate:"omitempty,max=50"`
	Message Optional[string] `json:"message" validate:"omitempty,max=5000"`
	StoryID Optional[int64]  `json:"storyId" validate:"omitempty,gt=0"`
}
