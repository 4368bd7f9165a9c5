package app

import (
	"sync"

	"cognify/internal/domain"
)

// Session is the live state of one authenticated login: the account email,
// the in-memory copy of the transcript, and the text of the currently
// loaded document. The document context is never persisted and is replaced
// wholesale on each upload. The mutex serializes session actions, so a
// second request for the same session waits until the current one (which
// may be a long streaming answer) finishes.
type Session struct {
	Email string

	mu         sync.Mutex
	transcript []domain.Message
	document   string
}

func newSession(email string, transcript []domain.Message) *Session {
	if transcript == nil {
		transcript = []domain.Message{}
	}
	return &Session{Email: email, transcript: transcript}
}

// Transcript returns a copy of the in-memory transcript.
func (s *Session) Transcript() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// HasDocument reports whether a document context is loaded.
func (s *Session) HasDocument() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document != ""
}

func (s *Session) setDocument(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = text
}
