// Package browser projects the flat object store as a navigable
// folder hierarchy. Folders are inferred from key prefixes, listings
// are fetched lazily and cached per session, and recursive deletion
// flattens a subtree into bounded, sequential delete batches.
package browser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samaffleck/Thermatix/internal/logging"
	"github.com/samaffleck/Thermatix/internal/metrics"
	"github.com/samaffleck/Thermatix/internal/storage"
)

// Entry kinds.
const (
	KindFile   = "file"
	KindFolder = "folder"
)

// Entry is one row in a folder listing.
type Entry struct {
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// Activation is the result of activating an entry: a folder expands,
// a .csv file yields its contents, anything else does nothing.
type Activation struct {
	Kind    string  `json:"kind"` // "expanded", "content", "none"
	Entries []Entry `json:"entries,omitempty"`
	Content string  `json:"content,omitempty"`
}

// Session is one user's view of the store: the root listing, a cache
// of expanded folders keyed by full path, and a breadcrumb trail.
// Cached listings are never refreshed; they live and die with the
// session.
type Session struct {
	blobs storage.BlobStore

	mu     sync.Mutex
	root   []Entry
	cache  map[string][]Entry
	crumbs []string // opened folder paths, root excluded
}

// NewSession creates a session over the given store.
func NewSession(blobs storage.BlobStore) *Session {
	return &Session{
		blobs: blobs,
		cache: make(map[string][]Entry),
	}
}

// Open lists the root and resets navigation.
func (s *Session) Open(ctx context.Context) ([]Entry, error) {
	entries, err := s.list(ctx, "")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.root = entries
	s.cache = make(map[string][]Entry)
	s.crumbs = nil
	s.mu.Unlock()

	return entries, nil
}

// Expand opens a folder: its listing is fetched on first expansion
// and cached under the folder's full path, and the folder joins the
// breadcrumb trail. Re-expanding the folder the trail already ends on
// (a refresh of the current view) leaves the trail unchanged.
func (s *Session) Expand(ctx context.Context, folderPath string) ([]Entry, error) {
	folderPath = strings.Trim(folderPath, "/")
	if folderPath == "" {
		return s.Current(), nil
	}

	s.mu.Lock()
	entries, ok := s.cache[folderPath]
	s.mu.Unlock()

	if !ok {
		var err error
		entries, err = s.list(ctx, folderPath)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.cache[folderPath] = entries
	if len(s.crumbs) == 0 || s.crumbs[len(s.crumbs)-1] != folderPath {
		s.crumbs = append(s.crumbs, folderPath)
	}
	s.mu.Unlock()

	return entries, nil
}

// Breadcrumbs returns the navigation trail. Index 0 is always the
// root, represented by "".
func (s *Session) Breadcrumbs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	trail := make([]string, 0, len(s.crumbs)+1)
	trail = append(trail, "")
	trail = append(trail, s.crumbs...)
	return trail
}

// Navigate jumps back to breadcrumb i, discarding everything after
// it. Index 0 is the root.
func (s *Session) Navigate(i int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i > len(s.crumbs) {
		return nil, fmt.Errorf("breadcrumb index %d out of range", i)
	}
	s.crumbs = s.crumbs[:i]
	return s.currentLocked(), nil
}

// Current returns the listing for the deepest breadcrumb.
func (s *Session) Current() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Session) currentLocked() []Entry {
	if len(s.crumbs) == 0 {
		return append([]Entry(nil), s.root...)
	}
	return append([]Entry(nil), s.cache[s.crumbs[len(s.crumbs)-1]]...)
}

// DeleteFile removes a single object and splices it out of whichever
// cached view holds it.
func (s *Session) DeleteFile(ctx context.Context, path string) error {
	path = strings.Trim(path, "/")
	if err := s.blobs.Remove(ctx, []string{path}); err != nil {
		return err
	}

	s.mu.Lock()
	s.root = splice(s.root, path)
	for folder, entries := range s.cache {
		s.cache[folder] = splice(entries, path)
	}
	s.mu.Unlock()

	logging.Info("file deleted", zap.String("path", path))
	return nil
}

// DeleteFolder removes a folder and everything under it. Descendant
// file keys are flattened depth first, then deleted in sequential
// batches. The first failing batch stops the operation; earlier
// batches stay deleted, nothing is rolled back or retried.
func (s *Session) DeleteFolder(ctx context.Context, folderPath string) error {
	folderPath = strings.Trim(folderPath, "/")
	if folderPath == "" {
		return fmt.Errorf("refusing to delete the root")
	}

	keys, err := s.collectKeys(ctx, folderPath)
	if err != nil {
		return fmt.Errorf("collect folder contents: %w", err)
	}

	for start := 0; start < len(keys); start += storage.MaxRemoveBatch {
		end := start + storage.MaxRemoveBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.blobs.Remove(ctx, keys[start:end]); err != nil {
			metrics.RecordDeleteBatch(false)
			logging.Error("delete batch failed",
				zap.String("folder", folderPath),
				zap.Int("deleted", start),
				zap.Int("total", len(keys)),
				zap.Error(err))
			return fmt.Errorf("delete folder %s: %w", folderPath, err)
		}
		metrics.RecordDeleteBatch(true)
	}

	s.mu.Lock()
	s.root = splice(s.root, folderPath)
	for folder := range s.cache {
		if folder == folderPath || strings.HasPrefix(folder, folderPath+"/") {
			delete(s.cache, folder)
			continue
		}
		s.cache[folder] = splice(s.cache[folder], folderPath)
	}
	// Drop breadcrumbs that walked into the deleted subtree.
	for i, crumb := range s.crumbs {
		if crumb == folderPath || strings.HasPrefix(crumb, folderPath+"/") {
			s.crumbs = s.crumbs[:i]
			break
		}
	}
	s.mu.Unlock()

	logging.Info("folder deleted",
		zap.String("folder", folderPath),
		zap.Int("files", len(keys)))
	return nil
}

// Activate handles a click on an entry: folders expand, .csv files
// return their contents, everything else is ignored.
func (s *Session) Activate(ctx context.Context, entry Entry) (*Activation, error) {
	if entry.Kind == KindFolder {
		entries, err := s.Expand(ctx, entry.Path)
		if err != nil {
			return nil, err
		}
		return &Activation{Kind: "expanded", Entries: entries}, nil
	}

	if !strings.HasSuffix(entry.Name, ".csv") {
		return &Activation{Kind: "none"}, nil
	}

	content, err := s.ReadFile(ctx, entry.Path)
	if err != nil {
		return nil, err
	}
	return &Activation{Kind: "content", Content: content}, nil
}

// ReadFile downloads an object and returns its contents.
func (s *Session) ReadFile(ctx context.Context, path string) (string, error) {
	body, _, err := s.blobs.Download(ctx, strings.Trim(path, "/"))
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// list fetches one level and converts it to entries.
func (s *Session) list(ctx context.Context, prefix string) ([]Entry, error) {
	objects, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		if obj.IsPrefix {
			entries = append(entries, Entry{
				Name: obj.Name,
				Kind: KindFolder,
				Path: strings.Trim(obj.Key, "/"),
			})
			continue
		}
		entries = append(entries, Entry{
			Name:         obj.Name,
			Kind:         KindFile,
			Path:         obj.Key,
			SizeBytes:    obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return entries, nil
}

// collectKeys gathers every descendant file key, depth first.
func (s *Session) collectKeys(ctx context.Context, folderPath string) ([]string, error) {
	objects, err := s.blobs.List(ctx, folderPath)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, obj := range objects {
		if obj.IsPrefix {
			sub, err := s.collectKeys(ctx, strings.Trim(obj.Key, "/"))
			if err != nil {
				return nil, err
			}
			keys = append(keys, sub...)
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// splice removes the entry with the given path from a listing.
func splice(entries []Entry, path string) []Entry {
	for i, e := range entries {
		if e.Path == path {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}
