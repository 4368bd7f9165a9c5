package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cognify/internal/domain"
)

// ErrCorrupted marks a transcript file that exists but cannot be parsed.
// Callers treat the transcript as empty but can log or alert on the
// distinction instead of losing the signal.
var ErrCorrupted = errors.New("transcript file corrupted")

const (
	transcriptFilename = "chat.json"
	reportFilename     = "QnA_Report.pdf"
)

// Store persists one transcript file per account under a base directory.
// Every save is a whole-file overwrite; there is no append log and no
// locking across processes, so concurrent writers to the same account are
// last-writer-wins.
type Store struct {
	baseDir string
}

// NewStore creates the base directory if missing.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("history base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Load reads the account's transcript. A missing file yields an empty
// transcript and nil error; an unparsable file yields an empty transcript
// and ErrCorrupted.
func (s *Store) Load(email string) ([]domain.Message, error) {
	data, err := os.ReadFile(s.transcriptPath(email))
	if os.IsNotExist(err) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return []domain.Message{}, fmt.Errorf("read transcript: %w", err)
	}
	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return []domain.Message{}, ErrCorrupted
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// Save overwrites the account's transcript wholesale, creating the account
// directory if absent.
func (s *Store) Save(email string, msgs []domain.Message) error {
	if err := os.MkdirAll(s.accountDir(email), 0o755); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.WriteFile(s.transcriptPath(email), data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// ReportPath returns the deterministic per-account location of the
// rendered Q&A report.
func (s *Store) ReportPath(email string) string {
	return filepath.Join(s.accountDir(email), reportFilename)
}

func (s *Store) accountDir(email string) string {
	return filepath.Join(s.baseDir, email)
}

func (s *Store) transcriptPath(email string) string {
	return filepath.Join(s.accountDir(email), transcriptFilename)
}
