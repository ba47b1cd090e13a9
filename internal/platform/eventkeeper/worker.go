package eventkeeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cde-ev/cdedb2-sub001/internal/domain"
)

// Source provides the events to snapshot.
type Source interface {
	EventIDs(ctx context.Context) ([]domain.EventID, error)
	// Snapshot returns the serialized partial export of an event. Equal
	// event states must yield identical bytes.
	Snapshot(ctx context.Context, id domain.EventID) ([]byte, error)
}

// Worker commits snapshots periodically and on demand.
type Worker struct {
	keeper   *Keeper
	source   Source
	interval time.Duration
	log      *zap.Logger

	queue chan job
}

type jobKind int

const (
	jobSnapshot jobKind = iota
	jobInit
	jobRemove
)

type job struct {
	kind   jobKind
	id     domain.EventID
	author Author
}

const queueSize = 64

func NewWorker(keeper *Keeper, source Source, interval time.Duration, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		keeper:   keeper,
		source:   source,
		interval: interval,
		log:      log,
		queue:    make(chan job, queueSize),
	}
}

// Created queues the initial commit of a new event.
func (w *Worker) Created(id domain.EventID, by domain.Persona) {
	w.enqueue(job{kind: jobInit, id: id, author: AuthorOf(by)})
}

// Changed queues an on-demand snapshot signed by the acting persona. It
// never blocks; when the queue is full the change is picked up by the next
// periodic run.
func (w *Worker) Changed(id domain.EventID, by domain.Persona) {
	w.enqueue(job{kind: jobSnapshot, id: id, author: AuthorOf(by)})
}

// Deleted queues the removal of the event's repository after any pending
// snapshots of it.
func (w *Worker) Deleted(id domain.EventID) {
	w.enqueue(job{kind: jobRemove, id: id})
}

func (w *Worker) enqueue(j job) {
	select {
	case w.queue <- j:
	default:
		w.log.Warn("eventkeeper queue full, deferring snapshot", zap.String("event_id", string(j.id)))
	}
}

// Run processes the queue and the periodic snapshots until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case j := <-w.queue:
				w.process(ctx, j)
			}
		}
	})

	if w.interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(w.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					w.SnapshotAll(ctx)
				}
			}
		})
	}

	return g.Wait()
}

func (w *Worker) process(ctx context.Context, j job) {
	switch j.kind {
	case jobInit:
		if err := w.keeper.Init(ctx, string(j.id)); err != nil && ctx.Err() == nil {
			w.log.Error("eventkeeper: init", zap.String("event_id", string(j.id)), zap.Error(err))
			return
		}
		w.snapshot(ctx, j.id, "Initial snapshot", j.author)
	case jobRemove:
		if err := w.keeper.Remove(ctx, string(j.id)); err != nil && ctx.Err() == nil {
			w.log.Error("eventkeeper: remove", zap.String("event_id", string(j.id)), zap.Error(err))
		}
	default:
		w.snapshot(ctx, j.id, "Snapshot after change", j.author)
	}
}

// SnapshotAll commits the current state of every event.
func (w *Worker) SnapshotAll(ctx context.Context) {
	ids, err := w.source.EventIDs(ctx)
	if err != nil {
		w.log.Error("eventkeeper: list events", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		w.snapshot(ctx, id, "Periodic snapshot", DefaultAuthor)
	}
}

func (w *Worker) snapshot(ctx context.Context, id domain.EventID, message string, author Author) {
	data, err := w.source.Snapshot(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.log.Error("eventkeeper: snapshot", zap.String("event_id", string(id)), zap.Error(err))
		}
		return
	}
	if _, err := w.keeper.Commit(ctx, string(id), data, message, author); err != nil && ctx.Err() == nil {
		w.log.Error("eventkeeper: commit", zap.String("event_id", string(id)), zap.Error(err))
	}
}
