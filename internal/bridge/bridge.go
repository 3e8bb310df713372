// Package bridge implements the host-side controller for the embedded
// simulation engine. The engine invokes named operations; operations
// that need user input suspend on a modal resolution, and operations
// that need an identity either proceed or record a pending intent and
// defer to the sign-in flow.
package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samaffleck/Thermatix/internal/auth"
	"github.com/samaffleck/Thermatix/internal/ledger"
	"github.com/samaffleck/Thermatix/internal/logging"
	"github.com/samaffleck/Thermatix/internal/metrics"
	"github.com/samaffleck/Thermatix/internal/simstore"
	"github.com/samaffleck/Thermatix/internal/storage"
)

// CommandOpenBrowser is published when the engine asks for the
// storage browser.
const CommandOpenBrowser = "open-storage-browser"

type clientKeyContextKey struct{}

// WithClientKey attaches the caller's browser-scoped key to the
// context. Pending intents are keyed by it so they survive the
// sign-in round-trip of a client that had no identity yet.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyContextKey{}, key)
}

// ClientKey returns the browser-scoped key from the context.
func ClientKey(ctx context.Context) string {
	if key, ok := ctx.Value(clientKeyContextKey{}).(string); ok && key != "" {
		return key
	}
	return "anonymous"
}

// AuthRedirect tells the host surface to send the user to sign-in and
// come back. It is a result, not an error.
type AuthRedirect struct {
	URL string `json:"url"`
}

// SimInserter is the slice of the simulation store the bridge needs.
type SimInserter interface {
	Insert(ctx context.Context, rec *simstore.Record) (string, error)
}

// Notifier publishes user-visible notifications and surface commands.
type Notifier interface {
	Success(message string)
	Error(message string)
	Command(message string)
}

// Controller mediates between the engine and the host's storage.
type Controller struct {
	gate     auth.Gate
	blobs    storage.BlobStore
	sims     SimInserter
	intents  *ledger.Ledger
	modals   *Registry
	notifier Notifier

	// protectedPath is where sign-in returns the user to.
	protectedPath string

	mu      sync.Mutex
	pending map[string]string // userID -> stashed simulation payload
}

// NewController creates a bridge controller.
func NewController(gate auth.Gate, blobs storage.BlobStore, sims SimInserter, intents *ledger.Ledger, modals *Registry, notifier Notifier, protectedPath string) *Controller {
	return &Controller{
		gate:          gate,
		blobs:         blobs,
		sims:          sims,
		intents:       intents,
		modals:        modals,
		notifier:      notifier,
		protectedPath: protectedPath,
		pending:       make(map[string]string),
	}
}

// Modals returns the controller's modal registry.
func (c *Controller) Modals() *Registry {
	return c.modals
}

// StoreCSVData asks the user for a folder name, then uploads each
// payload entry as {folder}/{name}.csv. An empty folder name aborts
// silently: no uploads, no error, no notification.
func (c *Controller) StoreCSVData(ctx context.Context, payload map[string]string) error {
	folder := <-c.modals.Open(ModalFolderName)
	if folder == "" {
		metrics.RecordBridgeOperation("storeCsvData", "cancelled")
		return nil
	}
	folder = strings.Trim(folder, "/")

	// Deterministic upload order for logs; the uploads themselves
	// run concurrently and fail fast.
	names := make([]string, 0, len(payload))
	for name := range payload {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		key := folder + "/" + name + ".csv"
		content := payload[name]
		g.Go(func() error {
			return c.blobs.Upload(gctx, key, strings.NewReader(content), int64(len(content)), "text/csv")
		})
	}

	if err := g.Wait(); err != nil {
		metrics.RecordBridgeOperation("storeCsvData", "error")
		logging.Error("csv upload failed", zap.String("folder", folder), zap.Error(err))
		c.notifier.Error(fmt.Sprintf("Failed to save results to %s", folder))
		return err
	}

	metrics.RecordBridgeOperation("storeCsvData", "ok")
	logging.Info("csv results stored",
		zap.String("folder", folder),
		zap.Int("files", len(payload)))
	c.notifier.Success(fmt.Sprintf("Results saved to %s", folder))
	return nil
}

// StoreTextData begins saving the engine's serialized parameters. An
// unauthenticated caller gets a pending save intent and a redirect;
// an authenticated caller gets the save-metadata modal, and the
// insert itself happens in SubmitSave.
func (c *Controller) StoreTextData(ctx context.Context, payload string) (*AuthRedirect, error) {
	identity, err := c.gate.Identity(ctx)
	if err != nil {
		if err := c.intents.Put(ClientKey(ctx), ledger.KindSave, payload); err != nil {
			metrics.RecordBridgeOperation("storeTextData", "error")
			return nil, fmt.Errorf("record save intent: %w", err)
		}
		metrics.RecordBridgeOperation("storeTextData", "redirect")
		metrics.RecordAuthRedirect()
		return &AuthRedirect{URL: c.gate.SignInURL(c.protectedPath)}, nil
	}

	c.mu.Lock()
	c.pending[identity.UserID] = payload
	c.mu.Unlock()

	c.modals.Open(ModalSaveParams)
	metrics.RecordBridgeOperation("storeTextData", "ok")
	return nil, nil
}

// SubmitSave completes the save started by StoreTextData: it inserts
// a private record with the stashed payload, clears the stash, and
// closes the modal. Backend errors are notified and returned.
func (c *Controller) SubmitSave(ctx context.Context, name, description string) error {
	identity, err := c.gate.Identity(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	payload, ok := c.pending[identity.UserID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending simulation data")
	}

	_, err = c.sims.Insert(ctx, &simstore.Record{
		UserID:         identity.UserID,
		SimName:        name,
		SimDescription: description,
		SimParams:      payload,
		IsPublic:       false,
	})
	if err != nil {
		logging.Error("simulation save failed", zap.String("name", name), zap.Error(err))
		c.notifier.Error("Failed to save simulation")
		return err
	}

	c.mu.Lock()
	delete(c.pending, identity.UserID)
	c.mu.Unlock()
	c.modals.Resolve(ModalSaveParams, name)

	logging.Info("simulation saved",
		zap.String("name", name),
		zap.String("user_id", identity.UserID))
	c.notifier.Success(fmt.Sprintf("Simulation %q saved", name))
	return nil
}

// DismissModal closes a modal without input and undoes any state the
// opening operation stashed for it.
func (c *Controller) DismissModal(ctx context.Context, kind string) {
	if kind == ModalSaveParams {
		if identity, err := c.gate.Identity(ctx); err == nil {
			c.mu.Lock()
			delete(c.pending, identity.UserID)
			c.mu.Unlock()
		}
	}
	c.modals.Dismiss(kind)
}

// ViewStorageFiles asks the host surface to open the storage browser.
// Fire and forget: the engine does not wait for anything.
func (c *Controller) ViewStorageFiles(ctx context.Context) {
	metrics.RecordBridgeOperation("viewStorageFiles", "ok")
	c.notifier.Command(CommandOpenBrowser)
}

// LoadTextData returns a previously saved parameter set. An
// unauthenticated caller gets a pending load intent, a redirect, and
// an immediate "" so the engine never hangs. An authenticated caller
// suspends on the selection modal; dismissal resolves to "".
func (c *Controller) LoadTextData(ctx context.Context) (string, *AuthRedirect, error) {
	if _, err := c.gate.Identity(ctx); err != nil {
		if err := c.intents.Put(ClientKey(ctx), ledger.KindLoad, ""); err != nil {
			metrics.RecordBridgeOperation("loadTextData", "error")
			return "", nil, fmt.Errorf("record load intent: %w", err)
		}
		metrics.RecordBridgeOperation("loadTextData", "redirect")
		metrics.RecordAuthRedirect()
		return "", &AuthRedirect{URL: c.gate.SignInURL(c.protectedPath)}, nil
	}

	params := <-c.modals.Open(ModalSelectParams)
	if params == "" {
		metrics.RecordBridgeOperation("loadTextData", "cancelled")
	} else {
		metrics.RecordBridgeOperation("loadTextData", "ok")
	}
	return params, nil, nil
}

// GetPublicSimulations suspends on the public-selection modal and
// returns the chosen parameter set, or "" on dismissal. Requires no
// identity.
func (c *Controller) GetPublicSimulations(ctx context.Context) (string, error) {
	params := <-c.modals.Open(ModalSelectPublic)
	if params == "" {
		metrics.RecordBridgeOperation("getPublicSimulations", "cancelled")
	} else {
		metrics.RecordBridgeOperation("getPublicSimulations", "ok")
	}
	return params, nil
}

// Resume consumes the caller's pending intents after an
// authentication round-trip, reopening the modals that were cut
// short. Both kinds are checked; calling with no identity or no
// intents is a no-op, so the authenticated surface can invoke it on
// every mount.
func (c *Controller) Resume(ctx context.Context) error {
	identity, err := c.gate.Identity(ctx)
	if err != nil {
		return nil
	}
	key := ClientKey(ctx)

	intent, ok, err := c.intents.Take(key, ledger.KindSave)
	if err != nil {
		return fmt.Errorf("consume save intent: %w", err)
	}
	if ok {
		c.mu.Lock()
		c.pending[identity.UserID] = intent.Payload
		c.mu.Unlock()
		c.modals.Open(ModalSaveParams)
		metrics.RecordIntentResumed(ledger.KindSave)
		logging.Info("pending intent resumed",
			zap.String("kind", ledger.KindSave),
			zap.String("user_id", identity.UserID))
	}

	if _, ok, err = c.intents.Take(key, ledger.KindLoad); err != nil {
		return fmt.Errorf("consume load intent: %w", err)
	} else if ok {
		c.modals.Open(ModalSelectParams)
		metrics.RecordIntentResumed(ledger.KindLoad)
		logging.Info("pending intent resumed",
			zap.String("kind", ledger.KindLoad),
			zap.String("user_id", identity.UserID))
	}

	return nil
}

// PendingPayload returns the stashed simulation payload for the user,
// if any.
func (c *Controller) PendingPayload(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.pending[userID]
	return payload, ok
}
