package store

import (
	"testing"
	"time"

	"gorm.io/datatypes"
	"storybook/pkg/domain"
)

func TestStoryModelKeepsAbsentPhotosNull(t *testing.T) {
	model, err := storyToModel(domain.Story{ID: 1, Title: "Fox", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if model.CharacterPhotos != nil {
		t.Fatalf("absent photos should be stored as NULL, got %s", model.CharacterPhotos)
	}
	story, err := storyFromModel(StoryModel{ID: 1, CharacterPhotos: datatypes.JSON("null")})
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if story.CharacterPhotos.IsSet() {
		t.Fatalf("JSON null column should map to absent photos")
	}
}

func TestStoryModelPhotos(t *testing.T) {
	photos := []string{"data:image/png;base64,AA==", "data:image/jpeg;base64,BB=="}
	model, err := storyToModel(domain.Story{ID: 3, CharacterPhotos: domain.Some(photos)})
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	story, err := storyFromModel(model)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	got, ok := story.CharacterPhotos.Get()
	if !ok || len(got) != 2 || got[1] != photos[1] {
		t.Fatalf("photos = %v (set=%v), want %v", got, ok, photos)
	}

	if _, err := storyFromModel(StoryModel{ID: 4, CharacterPhotos: datatypes.JSON(`{"broken":`)}); err == nil {
		t.Fatalf("expected decode error for malformed photo column")
	}
}

func TestContactModelNullableColumns(t *testing.T) {
	model := contactToModel(domain.ContactSubmission{Email: domain.Some("a@example.com"), StoryID: domain.Some(int64(9))})
	if model.Name != nil || model.Phone != nil || model.Message != nil {
		t.Fatalf("absent fields should map to NULL columns: %+v", model)
	}
	if model.Email == nil || *model.Email != "a@example.com" || model.StoryID == nil || *model.StoryID != 9 {
		t.Fatalf("present fields lost: %+v", model)
	}
	back := contactFromModel(model)
	if back.Name.IsSet() {
		t.Fatalf("NULL name should be absent")
	}
	if email, ok := back.Email.Get(); !ok || email != "a@example.com" {
		t.Fatalf("email = %q,%v", email, ok)
	}
}
