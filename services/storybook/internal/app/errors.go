package app

import "errors"

var (
	// ErrStoryNotFound indicates the referenced story does not exist.
	ErrStoryNotFound = errors.New("story not found")
	// ErrUsernameTaken indicates a signup with an existing username.
	ErrUsernameTaken = errors.New("username already exists")
)
