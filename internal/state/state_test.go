package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type snapshot struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteTestStore(t) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			var got snapshot
			if err := s.Load(ctx, KeyPending, &got); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load on empty store: got %v, want ErrNotFound", err)
			}

			want := snapshot{Name: "queue", Items: []string{"a", "b"}}
			if err := s.Save(ctx, KeyPending, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := s.Load(ctx, KeyPending, &got); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Name != want.Name || len(got.Items) != 2 || got.Items[1] != "b" {
				t.Errorf("Load = %+v, want %+v", got, want)
			}

			// Overwrite replaces the whole value.
			if err := s.Save(ctx, KeyPending, snapshot{Name: "queue"}); err != nil {
				t.Fatalf("Save overwrite: %v", err)
			}
			got = snapshot{}
			if err := s.Load(ctx, KeyPending, &got); err != nil {
				t.Fatalf("Load after overwrite: %v", err)
			}
			if len(got.Items) != 0 {
				t.Errorf("Items = %v, want empty after overwrite", got.Items)
			}

			if err := s.Delete(ctx, KeyPending); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Load(ctx, KeyPending, &got); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load after Delete: got %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, "never-saved"); err != nil {
				t.Errorf("Delete of missing key: %v", err)
			}
			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
		})
	}
}

func TestMemoryStoreDoesNotAlias(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	items := []string{"a"}
	if err := s.Save(ctx, KeyReports, items); err != nil {
		t.Fatalf("Save: %v", err)
	}
	items[0] = "mutated"

	var got []string
	if err := s.Load(ctx, KeyReports, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got[0] != "a" {
		t.Errorf("stored value changed through caller slice: %v", got)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Save(ctx, KeySession, map[string]string{"id": "s-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var got map[string]string
	if err := s.Load(ctx, KeySession, &got); err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got["id"] != "s-1" {
		t.Errorf("id = %q, want s-1", got["id"])
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open memory returned %T", s)
	}

	s, err = Open(ctx, Options{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	s.Close()

	if _, err := Open(ctx, Options{Driver: "etcd"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := Open(ctx, Options{Driver: DriverSQLite}); err == nil {
		t.Error("expected error for empty sqlite path")
	}
}
