package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"cognify/internal/account"
	"cognify/internal/ai"
	"cognify/internal/domain"
	"cognify/internal/extract"
	"cognify/internal/history"
	"cognify/internal/report"
	"cognify/internal/storage"
	"cognify/internal/store"
)

// AnswerStreamer produces an answer to a question grounded in a document
// context as a stream of text fragments.
type AnswerStreamer interface {
	Ask(ctx context.Context, question, contextText string) <-chan string
}

// Config wires the orchestrator's dependencies.
type Config struct {
	Accounts *account.Store
	History  *history.Store
	Ollama   AnswerStreamer
	Sessions store.SessionStore
	Archive  storage.Archive // optional raw-upload archive
}

// App orchestrates one chat session per login: authentication, document
// upload, question answering, history persistence, and report generation.
type App struct {
	accounts *account.Store
	history  *history.Store
	ollama   AnswerStreamer
	sessions store.SessionStore
	archive  storage.Archive

	mu   sync.RWMutex
	live map[string]*Session // session token -> live state
}

// New validates dependencies and constructs the orchestrator.
func New(cfg Config) (*App, error) {
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("account store required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history store required")
	}
	if cfg.Ollama == nil {
		return nil, fmt.Errorf("inference client required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	return &App{
		accounts: cfg.Accounts,
		history:  cfg.History,
		ollama:   cfg.Ollama,
		sessions: cfg.Sessions,
		archive:  cfg.Archive,
		live:     map[string]*Session{},
	}, nil
}

// SignUp registers a new account.
func (a *App) SignUp(email, password string) error {
	return a.accounts.Register(email, password)
}

// Login authenticates and starts a session: the transcript is loaded into
// memory and the document context starts empty. A corrupted transcript is
// treated as empty but logged so the data loss is visible.
func (a *App) Login(email, password string) (string, error) {
	if !a.accounts.Authenticate(email, password) {
		return "", ErrInvalidCredentials
	}
	transcript, err := a.history.Load(email)
	if errors.Is(err, history.ErrCorrupted) {
		slog.Warn("transcript corrupted, starting with empty history", "email", email)
	} else if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	token, err := a.sessions.NewSession(email)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	a.mu.Lock()
	a.live[token] = newSession(email, transcript)
	a.mu.Unlock()
	return token, nil
}

// SessionFromToken resolves a token to its live session.
func (a *App) SessionFromToken(token string) (*Session, bool) {
	email, ok, err := a.sessions.GetEmailByToken(token)
	if err != nil || !ok {
		return nil, false
	}
	a.mu.RLock()
	sess, ok := a.live[token]
	a.mu.RUnlock()
	if !ok || sess.Email != email {
		return nil, false
	}
	return sess, true
}

// Logout persists the transcript and discards all session state.
func (a *App) Logout(token string) error {
	sess, ok := a.SessionFromToken(token)
	if !ok {
		return ErrNotAuthenticated
	}
	sess.mu.Lock()
	err := a.history.Save(sess.Email, sess.transcript)
	sess.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	a.mu.Lock()
	delete(a.live, token)
	a.mu.Unlock()
	return a.sessions.DeleteSession(token)
}

// UploadDocument extracts the document's text and makes it the session's
// context, replacing any previous one. Extraction failure leaves the
// context empty and returns a non-fatal error. When an archive is
// configured the raw upload is kept on a best-effort basis.
func (a *App) UploadDocument(ctx context.Context, token, filename string, r io.Reader) error {
	sess, ok := a.SessionFromToken(token)
	if !ok {
		return ErrNotAuthenticated
	}
	data, err := io.ReadAll(r)
	if err != nil {
		sess.setDocument("")
		return fmt.Errorf("read upload: %w", err)
	}
	text, err := extract.Extract(filename, data)
	if err != nil {
		sess.setDocument("")
		return fmt.Errorf("extract document: %w", err)
	}
	sess.setDocument(text)

	if a.archive != nil {
		key := sess.Email + "/" + filepath.Base(filename)
		contentType := mime.TypeByExtension(filepath.Ext(filename))
		if err := a.archive.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			slog.Warn("archive upload failed", "key", key, "err", err)
		}
	}
	return nil
}

// Ask streams the answer to a question through emit, one fragment at a
// time, and returns the concatenated answer. The user message is appended
// to the in-memory transcript up front; the assistant message is appended
// and the transcript persisted only when the answer carries no failure
// marker, so failed exchanges never reach durable history. saved reports
// whether the exchange was persisted.
func (a *App) Ask(ctx context.Context, token, question string, emit func(fragment string)) (answer string, saved bool, err error) {
	sess, ok := a.SessionFromToken(token)
	if !ok {
		return "", false, ErrNotAuthenticated
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", false, ErrEmptyQuestion
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.document == "" {
		return "", false, ErrNoDocument
	}

	sess.transcript = append(sess.transcript, domain.Message{Role: domain.RoleUser, Content: question})

	var sb strings.Builder
	for fragment := range a.ollama.Ask(ctx, question, sess.document) {
		if emit != nil {
			emit(fragment)
		}
		sb.WriteString(fragment)
	}
	answer = sb.String()
	if ai.IsFailure(answer) {
		return answer, false, nil
	}

	sess.transcript = append(sess.transcript, domain.Message{Role: domain.RoleAssistant, Content: answer})
	if err := a.history.Save(sess.Email, sess.transcript); err != nil {
		return answer, false, fmt.Errorf("persist history: %w", err)
	}
	return answer, true, nil
}

// Transcript returns the session's in-memory transcript.
func (a *App) Transcript(token string) ([]domain.Message, error) {
	sess, ok := a.SessionFromToken(token)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return sess.Transcript(), nil
}

// ClearHistory empties the transcript and persists the empty state
// immediately.
func (a *App) ClearHistory(token string) error {
	sess, ok := a.SessionFromToken(token)
	if !ok {
		return ErrNotAuthenticated
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.transcript = []domain.Message{}
	if err := a.history.Save(sess.Email, sess.transcript); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

// GenerateReport renders the session transcript as a PDF at the account's
// deterministic report path and returns that path.
func (a *App) GenerateReport(token string) (string, error) {
	sess, ok := a.SessionFromToken(token)
	if !ok {
		return "", ErrNotAuthenticated
	}
	path := a.history.ReportPath(sess.Email)
	if err := report.Render(path, sess.Transcript()); err != nil {
		return "", err
	}
	return path, nil
}

// ReportPath returns the account's report location without rendering.
func (a *App) ReportPath(token string) (string, error) {
	sess, ok := a.SessionFromToken(token)
	if !ok {
		return "", ErrNotAuthenticated
	}
	return a.history.ReportPath(sess.Email), nil
}
