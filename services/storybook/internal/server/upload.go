package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"storybook/pkg/domain"
	"storybook/services/storybook/internal/app"
)

const (
	photoField       = "characterPhotos"
	multipartMemory  = 32 << 20
	formOverheadSize = 1 << 20
)

type uploadLimits struct {
	maxPhotos    int
	maxBytes     int64
	allowedTypes map[string]struct{}
}

func newUploadLimits(maxPhotos int, maxBytes int64, allowed []string) uploadLimits {
	if maxPhotos <= 0 {
		maxPhotos = 3
	}
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	if len(allowed) == 0 {
		allowed = []string{"image/jpeg", "image/png", "image/jpg"}
	}
	types := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		types[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return uploadLimits{maxPhotos: maxPhotos, maxBytes: maxBytes, allowedTypes: types}
}

// uploadError rejects the whole story request because of one photo.
type uploadError struct {
	reason string
	msg    string
}

func (e *uploadError) Error() string {
	return "upload rejected: " + e.msg
}

// decodeStoryForm reads the story fields and character photos from a
// multipart body. Non-multipart bodies are read as plain form values.
func (s *Server) decodeStoryForm(w http.ResponseWriter, r *http.Request) (app.StoryDraft, error) {
	limits := s.uploads
	r.Body = http.MaxBytesReader(w, r.Body, int64(limits.maxPhotos)*limits.maxBytes+formOverheadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return app.StoryDraft{}, bodyError(err)
		}
		return draftFromForm(r), nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return app.StoryDraft{}, bodyError(err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	draft := draftFromForm(r)
	files := r.MultipartForm.File[photoField]
	if len(files) > limits.maxPhotos {
		return app.StoryDraft{}, &uploadError{
			reason: "too_many",
			msg:    fmt.Sprintf("at most %d photos are allowed", limits.maxPhotos),
		}
	}
	for _, fh := range files {
		photo, err := limits.readPhoto(fh)
		if err != nil {
			return app.StoryDraft{}, err
		}
		draft.Photos = append(draft.Photos, photo)
	}
	return draft, nil
}

func (l uploadLimits) readPhoto(fh *multipart.FileHeader) (app.Photo, error) {
	contentType, _, err := mime.ParseMediaType(fh.Header.Get("Content-Type"))
	if err != nil {
		contentType = ""
	}
	contentType = strings.ToLower(contentType)
	if _, ok := l.allowedTypes[contentType]; !ok {
		return app.Photo{}, &uploadError{
			reason: "unsupported_type",
			msg:    fmt.Sprintf("%s: only JPEG and PNG images are allowed", fh.Filename),
		}
	}
	if fh.Size > l.maxBytes {
		return app.Photo{}, tooLarge(fh.Filename, l.maxBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return app.Photo{}, fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, l.maxBytes+1))
	if err != nil {
		return app.Photo{}, fmt.Errorf("read photo: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return app.Photo{}, tooLarge(fh.Filename, l.maxBytes)
	}
	return app.Photo{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}

func tooLarge(filename string, limit int64) *uploadError {
	return &uploadError{
		reason: "too_large",
		msg:    fmt.Sprintf("%s: file exceeds %d bytes", filename, limit),
	}
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &uploadError{reason: "too_large", msg: "request body too large"}
	}
	return &uploadError{reason: "malformed", msg: "invalid form data"}
}

func draftFromForm(r *http.Request) app.StoryDraft {
	return app.StoryDraft{
		Title:    r.PostFormValue("title"),
		Category: r.PostFormValue("category"),
		Content:  r.PostFormValue("content"),
	}
}

func uploadFieldErrors(err *uploadError) []domain.FieldError {
	return []domain.FieldError{{Field: photoField, Message: err.msg}}
}
