package bridge

import (
	"testing"
	"time"
)

func TestRegistryResolveDeliversValue(t *testing.T) {
	r := NewRegistry()
	ch := r.Open(ModalFolderName)

	if !r.IsOpen(ModalFolderName) {
		t.Fatal("expected modal to be open")
	}

	if !r.Resolve(ModalFolderName, "run1") {
		t.Fatal("expected resolve to succeed")
	}

	select {
	case v := <-ch:
		if v != "run1" {
			t.Errorf("expected run1, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}

	if r.IsOpen(ModalFolderName) {
		t.Error("expected modal to be closed after resolve")
	}
}

func TestRegistryDismissDeliversEmptyString(t *testing.T) {
	r := NewRegistry()
	ch := r.Open(ModalSelectParams)

	if !r.Dismiss(ModalSelectParams) {
		t.Fatal("expected dismiss to succeed")
	}

	select {
	case v := <-ch:
		if v != "" {
			t.Errorf("expected empty string on dismiss, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dismissal")
	}
}

func TestRegistryResolveClosedModalIsNoop(t *testing.T) {
	r := NewRegistry()

	if r.Resolve(ModalFolderName, "x") {
		t.Error("resolve against a never-opened modal should return false")
	}

	r.Open(ModalFolderName)
	r.Resolve(ModalFolderName, "first")
	if r.Resolve(ModalFolderName, "second") {
		t.Error("second resolve should be a no-op")
	}
	if r.Dismiss(ModalFolderName) {
		t.Error("dismiss after resolve should be a no-op")
	}
}

func TestRegistryReopenReleasesPreviousWaiter(t *testing.T) {
	r := NewRegistry()
	first := r.Open(ModalSaveParams)
	second := r.Open(ModalSaveParams)

	select {
	case v := <-first:
		if v != "" {
			t.Errorf("expected replaced waiter to get empty string, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("replaced waiter was never released")
	}

	r.Resolve(ModalSaveParams, "latest")
	select {
	case v := <-second:
		if v != "latest" {
			t.Errorf("expected latest, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second resolution")
	}
}

func TestRegistryOpenKinds(t *testing.T) {
	r := NewRegistry()
	r.Open(ModalFolderName)
	r.Open(ModalSelectPublic)

	kinds := r.OpenKinds()
	if len(kinds) != 2 {
		t.Fatalf("expected 2 open modals, got %d", len(kinds))
	}

	r.Dismiss(ModalFolderName)
	r.Dismiss(ModalSelectPublic)
	if len(r.OpenKinds()) != 0 {
		t.Error("expected no open modals after dismissing both")
	}
}
