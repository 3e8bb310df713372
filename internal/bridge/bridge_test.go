package bridge

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samaffleck/Thermatix/internal/auth"
	"github.com/samaffleck/Thermatix/internal/ledger"
	"github.com/samaffleck/Thermatix/internal/simstore"
	"github.com/samaffleck/Thermatix/internal/storage"
)

// fakeGate grants or withholds a fixed identity.
type fakeGate struct {
	identity *auth.Identity
}

func (g *fakeGate) Identity(ctx context.Context) (*auth.Identity, error) {
	if g.identity == nil {
		return nil, auth.ErrNotAuthenticated
	}
	return g.identity, nil
}

func (g *fakeGate) SignInURL(returnTo string) string {
	return "/sign-in?redirect=" + returnTo
}

// fakeBlobs records uploads and can fail selected keys.
type fakeBlobs struct {
	mu       sync.Mutex
	uploads  map[string]string
	types    map[string]string
	failKeys map[string]bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		uploads:  make(map[string]string),
		types:    make(map[string]string),
		failKeys: make(map[string]bool),
	}
}

func (f *fakeBlobs) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	return nil, nil
}

func (f *fakeBlobs) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[key] {
		return errors.New("upload failed: " + key)
	}
	data, _ := io.ReadAll(body)
	f.uploads[key] = string(data)
	f.types[key] = contentType
	return nil
}

func (f *fakeBlobs) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.uploads[key]
	if !ok {
		return nil, 0, errors.New("not found: " + key)
	}
	return io.NopCloser(strings.NewReader(data)), int64(len(data)), nil
}

func (f *fakeBlobs) Remove(ctx context.Context, keys []string) error { return nil }

func (f *fakeBlobs) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeBlobs) Close() error { return nil }

// fakeSims records inserts.
type fakeSims struct {
	mu      sync.Mutex
	records []simstore.Record
	fail    bool
}

func (f *fakeSims) Insert(ctx context.Context, rec *simstore.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("insert failed")
	}
	f.records = append(f.records, *rec)
	return "sim-1", nil
}

// fakeNotifier records published messages.
type fakeNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
	commands  []string
}

func (f *fakeNotifier) Success(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, m)
}

func (f *fakeNotifier) Error(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, m)
}

func (f *fakeNotifier) Command(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, m)
}

func (f *fakeNotifier) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.successes), len(f.errors), len(f.commands)
}

type fixture struct {
	controller *Controller
	gate       *fakeGate
	blobs      *fakeBlobs
	sims       *fakeSims
	intents    *ledger.Ledger
	notifier   *fakeNotifier
}

func newFixture(t *testing.T, identity *auth.Identity) *fixture {
	t.Helper()

	intents, err := ledger.New(filepath.Join(t.TempDir(), "pending.json"), 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	gate := &fakeGate{identity: identity}
	blobs := newFakeBlobs()
	sims := &fakeSims{}
	notifier := &fakeNotifier{}
	controller := NewController(gate, blobs, sims, intents, NewRegistry(), notifier, "/protected")

	return &fixture{
		controller: controller,
		gate:       gate,
		blobs:      blobs,
		sims:       sims,
		intents:    intents,
		notifier:   notifier,
	}
}

func signedIn() *auth.Identity {
	return &auth.Identity{UserID: "user-1", Username: "alice"}
}

func waitOpen(t *testing.T, r *Registry, kind string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.IsOpen(kind) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("modal %s never opened", kind)
}

func TestStoreCSVDataUploadsUnderChosenFolder(t *testing.T) {
	f := newFixture(t, signedIn())

	done := make(chan error, 1)
	go func() {
		done <- f.controller.StoreCSVData(context.Background(), map[string]string{
			"a": "t,x\n0,1\n",
			"b": "t,y\n0,2\n",
		})
	}()

	waitOpen(t, f.controller.Modals(), ModalFolderName)
	f.controller.Modals().Resolve(ModalFolderName, "run1")

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.blobs.uploads["run1/a.csv"]; got != "t,x\n0,1\n" {
		t.Errorf("run1/a.csv content mismatch: %q", got)
	}
	if got := f.blobs.uploads["run1/b.csv"]; got != "t,y\n0,2\n" {
		t.Errorf("run1/b.csv content mismatch: %q", got)
	}
	if ct := f.blobs.types["run1/a.csv"]; ct != "text/csv" {
		t.Errorf("expected text/csv content type, got %q", ct)
	}

	successes, _, _ := f.notifier.counts()
	if successes != 1 {
		t.Errorf("expected 1 success notification, got %d", successes)
	}
}

func TestStoreCSVDataEmptyNameAbortsSilently(t *testing.T) {
	f := newFixture(t, signedIn())

	done := make(chan error, 1)
	go func() {
		done <- f.controller.StoreCSVData(context.Background(), map[string]string{"a": "x"})
	}()

	waitOpen(t, f.controller.Modals(), ModalFolderName)
	f.controller.Modals().Dismiss(ModalFolderName)

	if err := <-done; err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if len(f.blobs.uploads) != 0 {
		t.Errorf("expected no uploads, got %d", len(f.blobs.uploads))
	}
	successes, errs, _ := f.notifier.counts()
	if successes != 0 || errs != 0 {
		t.Errorf("expected no notifications, got %d successes %d errors", successes, errs)
	}
}

func TestStoreCSVDataUploadFailureNotifies(t *testing.T) {
	f := newFixture(t, signedIn())
	f.blobs.failKeys["run1/b.csv"] = true

	done := make(chan error, 1)
	go func() {
		done <- f.controller.StoreCSVData(context.Background(), map[string]string{
			"a": "x",
			"b": "y",
		})
	}()

	waitOpen(t, f.controller.Modals(), ModalFolderName)
	f.controller.Modals().Resolve(ModalFolderName, "run1")

	if err := <-done; err == nil {
		t.Fatal("expected error when an upload fails")
	}
	_, errs, _ := f.notifier.counts()
	if errs != 1 {
		t.Errorf("expected 1 failure notification, got %d", errs)
	}
}

func TestStoreTextDataUnauthenticatedDefers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := WithClientKey(context.Background(), "client-1")

	redirect, err := f.controller.StoreTextData(ctx, `{"temp":300}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirect == nil {
		t.Fatal("expected a redirect result")
	}
	if !strings.HasPrefix(redirect.URL, "/sign-in?redirect=") {
		t.Errorf("unexpected redirect URL %q", redirect.URL)
	}

	intent, ok := f.intents.Peek("client-1", ledger.KindSave)
	if !ok {
		t.Fatal("expected a pending save intent")
	}
	if intent.Payload != `{"temp":300}` {
		t.Errorf("unexpected intent %+v", intent)
	}

	if f.controller.Modals().IsOpen(ModalSaveParams) {
		t.Error("no modal should open for an unauthenticated save")
	}
}

func TestStoreTextDataAuthenticatedOpensModal(t *testing.T) {
	f := newFixture(t, signedIn())

	redirect, err := f.controller.StoreTextData(context.Background(), `{"temp":300}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirect != nil {
		t.Fatal("authenticated save must not redirect")
	}
	if !f.controller.Modals().IsOpen(ModalSaveParams) {
		t.Error("expected save modal to be open")
	}
	if f.intents.Len() != 0 {
		t.Error("authenticated save must not touch the ledger")
	}
	if payload, ok := f.controller.PendingPayload("user-1"); !ok || payload != `{"temp":300}` {
		t.Errorf("expected stashed payload, got %q ok=%v", payload, ok)
	}
}

func TestSubmitSaveInsertsPrivateRecord(t *testing.T) {
	f := newFixture(t, signedIn())

	if _, err := f.controller.StoreTextData(context.Background(), `{"temp":300}`); err != nil {
		t.Fatal(err)
	}
	if err := f.controller.SubmitSave(context.Background(), "Run 1", "first attempt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sims.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(f.sims.records))
	}
	rec := f.sims.records[0]
	if rec.SimName != "Run 1" || rec.SimDescription != "first attempt" {
		t.Errorf("unexpected metadata %+v", rec)
	}
	if rec.SimParams != `{"temp":300}` {
		t.Errorf("unexpected params %q", rec.SimParams)
	}
	if rec.IsPublic {
		t.Error("saved records must be private")
	}
	if rec.UserID != "user-1" {
		t.Errorf("unexpected owner %q", rec.UserID)
	}

	if _, ok := f.controller.PendingPayload("user-1"); ok {
		t.Error("pending payload must be cleared after save")
	}
	if f.controller.Modals().IsOpen(ModalSaveParams) {
		t.Error("save modal must close after submit")
	}
}

func TestSubmitSaveBackendFailureRethrows(t *testing.T) {
	f := newFixture(t, signedIn())
	f.sims.fail = true

	if _, err := f.controller.StoreTextData(context.Background(), "data"); err != nil {
		t.Fatal(err)
	}
	if err := f.controller.SubmitSave(context.Background(), "Run 1", ""); err == nil {
		t.Fatal("expected backend error to be returned")
	}

	_, errs, _ := f.notifier.counts()
	if errs != 1 {
		t.Errorf("expected 1 failure notification, got %d", errs)
	}
	// Payload stays so the user can retry.
	if _, ok := f.controller.PendingPayload("user-1"); !ok {
		t.Error("payload must survive a failed save")
	}
}

func TestDismissSaveModalClearsPayload(t *testing.T) {
	f := newFixture(t, signedIn())

	if _, err := f.controller.StoreTextData(context.Background(), "data"); err != nil {
		t.Fatal(err)
	}
	f.controller.DismissModal(context.Background(), ModalSaveParams)

	if _, ok := f.controller.PendingPayload("user-1"); ok {
		t.Error("dismissing the save modal must drop the stashed payload")
	}
}

func TestLoadTextDataUnauthenticatedResolvesImmediately(t *testing.T) {
	f := newFixture(t, nil)
	ctx := WithClientKey(context.Background(), "client-1")

	params, redirect, err := f.controller.LoadTextData(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params != "" {
		t.Errorf("expected empty resolution, got %q", params)
	}
	if redirect == nil {
		t.Fatal("expected a redirect result")
	}

	if _, ok := f.intents.Peek("client-1", ledger.KindLoad); !ok {
		t.Error("expected a pending load intent")
	}
	if f.controller.Modals().IsOpen(ModalSelectParams) {
		t.Error("no modal should open for an unauthenticated load")
	}
}

func TestLoadTextDataAuthenticatedSuspends(t *testing.T) {
	f := newFixture(t, signedIn())

	type result struct {
		params string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		params, _, err := f.controller.LoadTextData(context.Background())
		done <- result{params, err}
	}()

	waitOpen(t, f.controller.Modals(), ModalSelectParams)
	f.controller.Modals().Resolve(ModalSelectParams, `{"temp":300}`)

	res := <-done
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.params != `{"temp":300}` {
		t.Errorf("unexpected params %q", res.params)
	}
}

func TestLoadTextDataDismissResolvesEmpty(t *testing.T) {
	f := newFixture(t, signedIn())

	done := make(chan string, 1)
	go func() {
		params, _, _ := f.controller.LoadTextData(context.Background())
		done <- params
	}()

	waitOpen(t, f.controller.Modals(), ModalSelectParams)
	f.controller.Modals().Dismiss(ModalSelectParams)

	if params := <-done; params != "" {
		t.Errorf("dismiss must resolve to empty string, got %q", params)
	}
}

func TestGetPublicSimulationsNeedsNoIdentity(t *testing.T) {
	f := newFixture(t, nil)

	done := make(chan string, 1)
	go func() {
		params, _ := f.controller.GetPublicSimulations(context.Background())
		done <- params
	}()

	waitOpen(t, f.controller.Modals(), ModalSelectPublic)
	f.controller.Modals().Resolve(ModalSelectPublic, "public-params")

	if params := <-done; params != "public-params" {
		t.Errorf("unexpected params %q", params)
	}
}

func TestResumeConsumesSaveIntentOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := WithClientKey(context.Background(), "client-1")

	// Save attempted while signed out.
	if _, err := f.controller.StoreTextData(ctx, "deferred-data"); err != nil {
		t.Fatal(err)
	}

	// User signs in and the surface remounts.
	f.gate.identity = signedIn()
	if err := f.controller.Resume(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.controller.Modals().IsOpen(ModalSaveParams) {
		t.Error("expected save modal to reopen on resume")
	}
	if payload, ok := f.controller.PendingPayload("user-1"); !ok || payload != "deferred-data" {
		t.Errorf("expected deferred payload, got %q ok=%v", payload, ok)
	}
	if f.intents.Len() != 0 {
		t.Error("intent must be consumed by resume")
	}

	// Second mount: nothing left to do.
	f.controller.Modals().Dismiss(ModalSaveParams)
	if err := f.controller.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if f.controller.Modals().IsOpen(ModalSaveParams) {
		t.Error("second resume must not reopen the modal")
	}
}

func TestResumeConsumesLoadIntent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := WithClientKey(context.Background(), "client-1")

	if _, _, err := f.controller.LoadTextData(ctx); err != nil {
		t.Fatal(err)
	}

	f.gate.identity = signedIn()
	if err := f.controller.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if !f.controller.Modals().IsOpen(ModalSelectParams) {
		t.Error("expected selection modal to reopen on resume")
	}
}

func TestResumeConsumesBothIntentKinds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := WithClientKey(context.Background(), "client-1")

	if _, err := f.controller.StoreTextData(ctx, "deferred-data"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.controller.LoadTextData(ctx); err != nil {
		t.Fatal(err)
	}

	f.gate.identity = signedIn()
	if err := f.controller.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if !f.controller.Modals().IsOpen(ModalSaveParams) {
		t.Error("expected save modal to reopen on resume")
	}
	if !f.controller.Modals().IsOpen(ModalSelectParams) {
		t.Error("expected selection modal to reopen on resume")
	}
	if f.intents.Len() != 0 {
		t.Error("both intents must be consumed by resume")
	}
}

func TestResumeWithoutIdentityIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := WithClientKey(context.Background(), "client-1")

	if _, err := f.controller.StoreTextData(ctx, "data"); err != nil {
		t.Fatal(err)
	}
	if err := f.controller.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if f.intents.Len() != 1 {
		t.Error("resume without identity must leave the intent in place")
	}
}

func TestViewStorageFilesPublishesCommand(t *testing.T) {
	f := newFixture(t, signedIn())
	f.controller.ViewStorageFiles(context.Background())

	_, _, commands := f.notifier.counts()
	if commands != 1 {
		t.Fatalf("expected 1 command, got %d", commands)
	}
	if f.notifier.commands[0] != CommandOpenBrowser {
		t.Errorf("unexpected command %q", f.notifier.commands[0])
	}
}
