package eventkeeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

type fakeSource struct {
	mu       sync.Mutex
	versions map[domain.EventID]int
}

func (s *fakeSource) EventIDs(context.Context) ([]domain.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.EventID, 0, len(s.versions))
	for id := range s.versions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeSource) Snapshot(_ context.Context, id domain.EventID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(fmt.Sprintf(`{"id":%q,"version":%d}`, id, s.versions[id])), nil
}

func (s *fakeSource) bump(id domain.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[id]++
}

var olga = domain.Persona{ID: "olga", Email: "olga@example.com", GivenNames: "Olga", FamilyName: "Orga"}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitForCommits(t *testing.T, k *Keeper, id string, want int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		log, err := k.Log(context.Background(), id)
		if err != nil {
			t.Fatalf("Log err=%v", err)
		}
		if len(log) >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d commits for %s, want %d", len(log), id, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWorker_CommitsOnChangeAndStopsCleanly(t *testing.T) {
	t.Parallel()

	k := newTestKeeper(t)
	src := &fakeSource{versions: map[domain.EventID]int{"ev1": 1}}
	w := NewWorker(k, src, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Changed("ev1", olga)
	waitForCommits(t, k, "ev1", 1)
	src.bump("ev1")
	w.Changed("ev1", domain.Persona{ID: "admin"})
	waitForCommits(t, k, "ev1", 2)

	log, err := k.Log(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("Log err=%v", err)
	}
	if log[1].Author != "Olga Orga <olga@example.com>" || log[0].Author != "admin <"+DefaultAuthor.Email+">" {
		t.Fatalf("authors=%q, %q", log[1].Author, log[0].Author)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestWorker_PeriodicSnapshots(t *testing.T) {
	t.Parallel()

	k := newTestKeeper(t)
	src := &fakeSource{versions: map[domain.EventID]int{"a": 1, "b": 1}}
	w := NewWorker(k, src, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitForCommits(t, k, "a", 1)
	waitForCommits(t, k, "b", 1)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run err=%v", err)
	}

	// Unchanged snapshots do not add commits.
	log, err := k.Log(context.Background(), "a")
	if err != nil || len(log) != 1 {
		t.Fatalf("log=%v err=%v", log, err)
	}
}

func TestWorker_ChangedNeverBlocks(t *testing.T) {
	t.Parallel()

	w := NewWorker(nil, &fakeSource{versions: map[domain.EventID]int{}}, 0, nil)
	finished := make(chan struct{})
	go func() {
		for i := 0; i < queueSize*2; i++ {
			w.Changed("ev", olga)
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("Changed blocked on a full queue")
	}
	if len(w.queue) != queueSize {
		t.Fatalf("queued=%d, want %d", len(w.queue), queueSize)
	}
}

func TestWorker_CreatedAndDeleted(t *testing.T) {
	t.Parallel()

	k := newTestKeeper(t)
	src := &fakeSource{versions: map[domain.EventID]int{"ev9": 1}}
	w := NewWorker(k, src, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Created("ev9", olga)
	waitForCommits(t, k, "ev9", 1)
	log, err := k.Log(context.Background(), "ev9")
	if err != nil || log[0].Message != "Initial snapshot" || log[0].Author != "Olga Orga <olga@example.com>" {
		t.Fatalf("log=%+v err=%v", log, err)
	}

	w.Deleted("ev9")
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(k.root, "ev9")); errors.Is(err, os.ErrNotExist) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("repository of deleted event still present")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run err=%v", err)
	}
}
