// Package ledger persists pending save/load intents so that an
// operation interrupted by a sign-in round-trip survives the page
// reload and can be resumed exactly once.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Intent kinds.
const (
	KindSave = "save"
	KindLoad = "load"
)

// Intent is one deferred operation keyed by user.
type Intent struct {
	Kind      string    `json:"kind"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger is a file-backed store of pending intents, at most one per
// user and kind: a save and a load intent may coexist, but writing a
// second intent of the same kind replaces the first. Writes are
// atomic (temp file then rename).
type Ledger struct {
	path string
	ttl  time.Duration

	mu      sync.Mutex
	intents map[string]Intent // "{userKey}/{kind}" -> intent
}

// New creates a ledger backed by the given file. Existing intents are
// loaded; entries older than ttl are dropped on load and on Take.
func New(path string, ttl time.Duration) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	l := &Ledger{
		path:    path,
		ttl:     ttl,
		intents: make(map[string]Intent),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l.intents); err != nil {
		// A corrupt ledger means lost intents, not a dead server.
		l.intents = make(map[string]Intent)
	}
	l.expireLocked(time.Now())

	return l, nil
}

func intentKey(userKey, kind string) string {
	return userKey + "/" + kind
}

// Put records a pending intent, replacing any existing one of the
// same kind for the same user.
func (l *Ledger) Put(userKey, kind, payload string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.intents[intentKey(userKey, kind)] = Intent{
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	return l.saveLocked()
}

// Take removes and returns the user's pending intent of the given
// kind. The second return is false when there is nothing to resume.
// An expired intent is dropped without being returned.
func (l *Ledger) Take(userKey, kind string) (Intent, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked(time.Now())

	key := intentKey(userKey, kind)
	intent, ok := l.intents[key]
	if !ok {
		return Intent{}, false, nil
	}

	delete(l.intents, key)
	if err := l.saveLocked(); err != nil {
		return Intent{}, false, err
	}
	return intent, true, nil
}

// Peek returns the user's pending intent of the given kind without
// consuming it.
func (l *Ledger) Peek(userKey, kind string) (Intent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked(time.Now())
	intent, ok := l.intents[intentKey(userKey, kind)]
	return intent, ok
}

// Clear drops the user's pending intent of the given kind, if any.
func (l *Ledger) Clear(userKey, kind string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := intentKey(userKey, kind)
	if _, ok := l.intents[key]; !ok {
		return nil
	}
	delete(l.intents, key)
	return l.saveLocked()
}

// Len returns the number of pending intents.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.intents)
}

// expireLocked drops intents older than the TTL. Must be called with
// the lock held.
func (l *Ledger) expireLocked(now time.Time) {
	if l.ttl <= 0 {
		return
	}
	for key, intent := range l.intents {
		if now.Sub(intent.CreatedAt) > l.ttl {
			delete(l.intents, key)
		}
	}
}

// saveLocked writes the ledger atomically. Must be called with the
// lock held.
func (l *Ledger) saveLocked() error {
	data, err := json.MarshalIndent(l.intents, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tempPath := l.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}
