package history

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"cognify/internal/domain"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	want := []domain.Message{
		{Role: domain.RoleUser, Content: "What is X?"},
		{Role: domain.RoleAssistant, Content: "The answer."},
	}
	if err := store.Save("a@x.com", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load("a@x.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("load = %+v, want %+v", got, want)
	}
}

func TestSaveLoadEmptyTranscript(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save("a@x.com", nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	got, err := store.Load("a@x.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("load after empty save = %d messages, want 0", len(got))
	}
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	got, err := store.Load("nobody@x.com")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("load missing = %d messages, want 0", len(got))
	}
}

func TestLoadCorruptedReturnsEmptyAndSentinel(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	accountDir := filepath.Join(dir, "a@x.com")
	if err := os.MkdirAll(accountDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(accountDir, "chat.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	got, err := store.Load("a@x.com")
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("load corrupted = %v, want ErrCorrupted", err)
	}
	if len(got) != 0 {
		t.Fatalf("load corrupted = %d messages, want 0", len(got))
	}
}

func TestReportPathIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	want := filepath.Join(dir, "a@x.com", "QnA_Report.pdf")
	if got := store.ReportPath("a@x.com"); got != want {
		t.Fatalf("ReportPath = %q, want %q", got, want)
	}
}
