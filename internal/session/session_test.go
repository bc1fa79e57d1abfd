package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kestrelcli/kestrel/internal/persistence"
)

func testStores(t *testing.T) (*Store, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewStore(store, "/tmp/project", nil), store
}

func TestCreateThenContinueSameID(t *testing.T) {
	ctx := context.Background()
	sessions, _ := testStores(t)

	created, err := sessions.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := sessions.SetLast(ctx, created); err != nil {
		t.Fatalf("set last: %v", err)
	}

	for i := 0; i < 2; i++ {
		continued, err := sessions.Continue(ctx)
		if err != nil {
			t.Fatalf("continue %d: %v", i, err)
		}
		if continued == nil || continued.ID != created.ID {
			t.Fatalf("continue %d = %+v, want id %s", i, continued, created.ID)
		}
	}
}

func TestContinueWithNoHistory(t *testing.T) {
	ctx := context.Background()
	sessions, _ := testStores(t)

	sess, err := sessions.Continue(ctx)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if sess != nil {
		t.Fatalf("continue on empty directory = %+v, want nil", sess)
	}
}

func TestFindNonexistent(t *testing.T) {
	ctx := context.Background()
	sessions, _ := testStores(t)

	sess, err := sessions.Find(ctx, "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if sess != nil {
		t.Fatalf("find nonexistent = %+v, want nil", sess)
	}
}

func TestFindScopedToWorkDir(t *testing.T) {
	ctx := context.Background()
	sessions, store := testStores(t)

	created, err := sessions.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The same id from a store scoped to another directory must not resolve.
	elsewhere := NewStore(store, "/tmp/other-project", nil)
	found, err := elsewhere.Find(ctx, created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != nil {
		t.Fatalf("session from another directory resolved: %+v", found)
	}

	found, err = sessions.Find(ctx, created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != created.ID {
		t.Fatalf("find in owning directory = %+v, want id %s", found, created.ID)
	}
}

func TestListOrdersByRecency(t *testing.T) {
	ctx := context.Background()
	sessions, _ := testStores(t)

	first, err := sessions.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := sessions.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := sessions.Touch(ctx, first.ID, "hello world"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	list, err := sessions.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d sessions, want 2", len(list))
	}
	ids := map[string]bool{list[0].ID: true, list[1].ID: true}
	if !ids[first.ID] || !ids[second.ID] {
		t.Fatalf("list missing a session: %+v", list)
	}

	found, err := sessions.Find(ctx, first.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Title != "hello world" {
		t.Fatalf("title = %q, want %q", found.Title, "hello world")
	}
}

func TestTitleFromPrompt(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"fix the build", "fix the build"},
		{"  spaced   out\n", "spaced out"},
		{strings61(), strings61()[:60] + "..."},
	}
	for _, tc := range cases {
		if got := TitleFromPrompt(tc.in); got != tc.want {
			t.Errorf("TitleFromPrompt(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func strings61() string {
	s := ""
	for len(s) < 61 {
		s += "x"
	}
	return s
}
