// Package eventkeeper keeps a git history of event snapshots. Every event
// gets its own repository under the root directory holding a single file,
// <event id>.json, with the latest partial export.
package eventkeeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

var ErrInvalidEventID = errors.New("invalid event id")

var eventIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Author identifies the committer of a snapshot.
type Author struct {
	Name  string
	Email string
}

func (a Author) String() string {
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// DefaultAuthor signs commits made by the background worker.
var DefaultAuthor = Author{Name: "CdEDB EventKeeper", Email: "eventkeeper@cdedb.invalid"}

// AuthorOf signs a commit with the persona's name and address.
func AuthorOf(p domain.Persona) Author {
	a := Author{Name: p.FullName(), Email: p.Email}
	if a.Name == "" {
		a.Name = string(p.ID)
	}
	if a.Email == "" {
		a.Email = DefaultAuthor.Email
	}
	return a
}

// Commit is one entry of an event's history, newest first in Log.
type Commit struct {
	Hash    string
	Author  string
	Time    time.Time
	Message string
}

// Keeper maintains one git repository per event. Operations on the same
// event are serialized.
type Keeper struct {
	root string
	log  *zap.Logger
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Keeper storing repositories below root.
func New(root string, log *zap.Logger) (*Keeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("eventkeeper: create root: %w", err)
	}
	return &Keeper{root: root, log: log, now: time.Now, locks: map[string]*sync.Mutex{}}, nil
}

func (k *Keeper) lock(eventID string) func() {
	k.mu.Lock()
	l, ok := k.locks[eventID]
	if !ok {
		l = &sync.Mutex{}
		k.locks[eventID] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (k *Keeper) dir(eventID string) (string, error) {
	if !eventIDPattern.MatchString(eventID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventID, eventID)
	}
	return filepath.Join(k.root, eventID), nil
}

// Init creates the repository of an event. It is a no-op if it exists.
func (k *Keeper) Init(ctx context.Context, eventID string) error {
	defer k.lock(eventID)()
	_, _, err := k.init(ctx, eventID)
	return err
}

func (k *Keeper) init(ctx context.Context, eventID string) (*git.Repository, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	dir, err := k.dir(eventID)
	if err != nil {
		return nil, "", err
	}
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, dir, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, "", fmt.Errorf("eventkeeper: open %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", fmt.Errorf("eventkeeper: create %s: %w", dir, err)
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, "", fmt.Errorf("eventkeeper: init %s: %w", dir, err)
	}
	k.log.Info("eventkeeper repository initialized", zap.String("event_id", eventID))
	return repo, dir, nil
}

// Commit writes snapshot as <event id>.json and commits it. It reports
// false without committing when the snapshot equals the last commit.
// The repository is created on first use.
func (k *Keeper) Commit(ctx context.Context, eventID string, snapshot []byte, message string, author Author) (bool, error) {
	defer k.lock(eventID)()
	repo, dir, err := k.init(ctx, eventID)
	if err != nil {
		return false, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("eventkeeper: worktree: %w", err)
	}
	name := eventID + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), snapshot, 0o640); err != nil {
		return false, fmt.Errorf("eventkeeper: write snapshot: %w", err)
	}
	if _, err := wt.Add(name); err != nil {
		return false, fmt.Errorf("eventkeeper: add: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("eventkeeper: status: %w", err)
	}
	if status.IsClean() {
		return false, nil
	}
	if message == "" {
		message = "Snapshot"
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sig := &object.Signature{Name: author.Name, Email: author.Email, When: k.now()}
	if _, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return false, fmt.Errorf("eventkeeper: commit: %w", err)
	}
	k.log.Info("eventkeeper commit",
		zap.String("event_id", eventID),
		zap.String("author", author.String()),
		zap.String("message", message),
	)
	return true, nil
}

// Log lists the commits of an event, newest first. An event without
// repository has no history.
func (k *Keeper) Log(ctx context.Context, eventID string) ([]Commit, error) {
	defer k.lock(eventID)()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := k.dir(eventID)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventkeeper: open %s: %w", dir, err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventkeeper: head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("eventkeeper: log: %w", err)
	}
	defer iter.Close()

	commits := []Commit{}
	err = iter.ForEach(func(c *object.Commit) error {
		subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Author:  Author{Name: c.Author.Name, Email: c.Author.Email}.String(),
			Time:    c.Author.When,
			Message: subject,
		})
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("eventkeeper: log: %w", err)
	}
	return commits, nil
}

// Remove deletes the repository of an event.
func (k *Keeper) Remove(ctx context.Context, eventID string) error {
	defer k.lock(eventID)()
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := k.dir(eventID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("eventkeeper: remove %s: %w", dir, err)
	}
	k.log.Info("eventkeeper repository removed", zap.String("event_id", eventID))
	return nil
}
