package core

import (
	"path/filepath"
	"strings"
	"testing"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreSelectsDriver(t *testing.T) {
	store, err := OpenPersistentStore(StorageConfig{Driver: StorageMemory}, nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "kitties.db")
	store, err = OpenPersistentStore(StorageConfig{SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	sq, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store by default, got %T", store)
	}
	if sq.Path() != path {
		t.Fatalf("unexpected sqlite path %s", sq.Path())
	}
	_ = sq.Close()

	if _, err := OpenPersistentStore(StorageConfig{Driver: "etcd"}, nil); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestServiceStateSurvivesSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kitties.db")
	open := func() (*Service, *sqlite.Store) {
		store, err := sqlite.NewStore(path, NewDefaultRulesEngine())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return NewService(store, WithBlockClock(NewManualClock(1))), store
	}
	svc, store := open()
	if err := svc.Init(as(admin), 1, 5, 10); err != nil {
		t.Fatalf("init: %v", err)
	}
	id, err := svc.Create(as(alice))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.Close()

	svc, store = open()
	defer func() { _ = store.Close() }()
	ids, err := svc.OwnedKitties(as(alice), alice)
	if err != nil {
		t.Fatalf("owned: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected [%d] after reopen, got %v", id, ids)
	}
}
