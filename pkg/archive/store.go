// Package archive keeps deliberation transcripts as content-addressed JSON
// objects with an append-only session index.
package archive

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zen-systems/council/pkg/council"
)

const indexFile = "sessions.jsonl"

// ErrNotFound is returned when a session or object is not archived.
var ErrNotFound = errors.New("not found in archive")

// Ref points at a stored object.
type Ref struct {
	Kind   string `json:"kind"`
	SHA256 string `json:"sha256"`
}

// IndexEntry is one line of the session index.
type IndexEntry struct {
	SessionID string    `json:"session_id"`
	Object    Ref       `json:"object"`
	Query     string    `json:"query"`
	Decision  string    `json:"decision"`
	Rounds    int       `json:"rounds"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages the content-addressed archive.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// NewStore creates a new archive store.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Join(home, ".council", "archive")
	}

	dirs := []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "indexes"),
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}

	return &Store{BasePath: basePath}, nil
}

// StoreObject stores a JSON object by its SHA256 content hash in a sharded directory structure.
func (s *Store) StoreObject(obj any, kind string) (Ref, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return Ref{}, err
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	// Shard by first 2 chars
	dir := filepath.Join(s.BasePath, "objects", hash[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Ref{}, err
	}

	path := filepath.Join(dir, hash+".json")
	if _, err := os.Stat(path); err == nil {
		return Ref{Kind: kind, SHA256: hash}, nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Ref{}, err
	}

	return Ref{Kind: kind, SHA256: hash}, nil
}

// LoadObject decodes the object at ref into out.
func (s *Store) LoadObject(ref Ref, out any) error {
	if len(ref.SHA256) < 2 {
		return fmt.Errorf("invalid object hash %q", ref.SHA256)
	}
	path := filepath.Join(s.BasePath, "objects", ref.SHA256[:2], ref.SHA256+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("object %s: %w", ref.SHA256, ErrNotFound)
	}
	if err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != ref.SHA256 {
		return fmt.Errorf("object %s is corrupt: content hash mismatch", ref.SHA256)
	}
	return json.Unmarshal(data, out)
}

// SaveSession stores the transcript and appends it to the index.
func (s *Store) SaveSession(session *council.Session) (Ref, error) {
	if session == nil || session.ID == "" {
		return Ref{}, errors.New("session with an id is required")
	}
	ref, err := s.StoreObject(session, "session")
	if err != nil {
		return Ref{}, fmt.Errorf("failed to store session %s: %w", session.ID, err)
	}

	entry := IndexEntry{
		SessionID: session.ID,
		Object:    ref,
		Query:     session.Query,
		Decision:  string(session.Decision.Type),
		Rounds:    len(session.Rounds),
		CreatedAt: session.CreatedAt,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return Ref{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.indexPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return Ref{}, err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Ref{}, fmt.Errorf("failed to index session %s: %w", session.ID, err)
	}
	return ref, nil
}

// LoadSession returns the most recently saved transcript for id.
func (s *Store) LoadSession(id string) (*council.Session, error) {
	entries, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].SessionID != id {
			continue
		}
		var session council.Session
		if err := s.LoadObject(entries[i].Object, &session); err != nil {
			return nil, err
		}
		return &session, nil
	}
	return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
}

// ListSessions returns the index in save order. Malformed lines are skipped.
func (s *Store) ListSessions() ([]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []IndexEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry IndexEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

func (s *Store) indexPath() string {
	return filepath.Join(s.BasePath, "indexes", indexFile)
}
