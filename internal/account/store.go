package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrEmptyCredentials is returned when email or password is blank.
	ErrEmptyCredentials = errors.New("email and password required")
	// ErrAccountExists is returned when the email is already registered.
	ErrAccountExists = errors.New("email already exists")
)

// Store maps account emails to credentials, persisted as a single JSON
// file that is rewritten wholesale on every registration. Credentials are
// stored and compared in plaintext; the file format is shared with
// deployments that predate this service and must stay byte-compatible.
type Store struct {
	mu         sync.Mutex
	path       string
	historyDir string
}

// NewStore builds a store over the given accounts file. Each registered
// account also gets a directory under historyDir for its transcript.
func NewStore(path, historyDir string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("accounts file path is required")
	}
	if strings.TrimSpace(historyDir) == "" {
		return nil, fmt.Errorf("history dir is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create accounts dir: %w", err)
	}
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{path: path, historyDir: historyDir}, nil
}

// Register creates a new account. It fails with ErrEmptyCredentials when
// either field is blank and ErrAccountExists on a duplicate email. On
// success the full account map is rewritten and the account's history
// directory is created.
func (s *Store) Register(email, password string) error {
	if email == "" || password == "" {
		return ErrEmptyCredentials
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := accounts[email]; ok {
		return ErrAccountExists
	}
	accounts[email] = password
	if err := s.save(accounts); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.historyDir, email), 0o755); err != nil {
		return fmt.Errorf("create account history dir: %w", err)
	}
	return nil
}

// Authenticate reports whether the email exists and the stored credential
// matches the supplied one exactly.
func (s *Store) Authenticate(email, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.load()
	if err != nil {
		return false
	}
	stored, ok := accounts[email]
	return ok && stored == password
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	accounts := map[string]string{}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return accounts, nil
}

func (s *Store) save(accounts map[string]string) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	return nil
}
