package app

import "errors"

var (
	// ErrInvalidCredentials is returned on login with a bad email/password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrNotAuthenticated is returned when a token resolves to no live session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoDocument is returned when a question arrives before any document
	// has been loaded into the session.
	ErrNoDocument = errors.New("no document loaded")
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question required")
)
