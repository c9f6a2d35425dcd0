package fitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/fitsync/internal/auth"
	"github.com/hyperengineering/fitsync/internal/metrics"
)

// idempotencyNamespace seeds the per-item Idempotency-Key.
var idempotencyNamespace = uuid.MustParse("6f1c8d3e-2b47-4e0a-9c55-7d2e8a4b1f90")

// ProcessorConfig tunes a Processor.
type ProcessorConfig struct {
	// BatchSize is the page size used to walk the queue. Defaults to 50.
	BatchSize int

	// Tokens supplies the bearer token. When it returns an expired JWT the
	// pass is skipped instead of replaying into certain 401s.
	Tokens TokenSource

	Logger *slog.Logger
}

// Processor drains the mutation queue against the remote API. At most one
// pass runs at a time.
type Processor struct {
	store   *Store
	remote  Remote
	monitor *Monitor
	hub     *StateHub
	tokens  TokenSource
	logger  *slog.Logger
	batch   int

	running atomic.Bool
	rerun   atomic.Bool
	now     func() time.Time
}

// NewProcessor creates a processor.
func NewProcessor(store *Store, remote Remote, monitor *Monitor, hub *StateHub, cfg ProcessorConfig) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		store:   store,
		remote:  remote,
		monitor: monitor,
		hub:     hub,
		tokens:  cfg.Tokens,
		logger:  cfg.Logger,
		batch:   cfg.BatchSize,
		now:     time.Now,
	}
}

// Running reports whether a pass is in progress.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// Drain runs one pass over the queue. A call made while another pass runs,
// or while offline, returns a skipped result immediately. The returned error
// is non-nil only for whole-pass failures, which also set status=error.
//
// A call skipped because a pass is running marks the running pass for a
// rerun, so writes that land after the walk reached the queue tail are still
// replayed before the owner releases the processor.
func (p *Processor) Drain(ctx context.Context) (*PassResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.rerun.Store(true)
		// The owner may have released between the two checks.
		if !p.running.CompareAndSwap(false, true) {
			return &PassResult{Skipped: true}, nil
		}
	}
	p.rerun.Store(false)

	total := &PassResult{Skipped: true}
	for {
		res, err := p.drainOnce(ctx)
		total.add(res)
		if err != nil || res.Skipped || ctx.Err() != nil {
			p.running.Store(false)
			return total, err
		}
		if p.rerun.Swap(false) {
			continue
		}
		p.running.Store(false)
		// A caller that lost the race after the Swap above left rerun set.
		if !p.rerun.Load() || !p.running.CompareAndSwap(false, true) {
			return total, nil
		}
		p.rerun.Store(false)
	}
}

// add folds one pass into an accumulated result. Replay outcomes are summed;
// Blocked and Interrupted describe the last pass.
func (r *PassResult) add(pass *PassResult) {
	if pass == nil {
		return
	}
	r.Skipped = r.Skipped && pass.Skipped
	r.Replayed += pass.Replayed
	r.Transient += pass.Transient
	r.Discarded += pass.Discarded
	r.Blocked = pass.Blocked
	r.Interrupted = pass.Interrupted
	r.Duration += pass.Duration
}

// drainOnce runs a single pass. The caller owns running.
func (p *Processor) drainOnce(ctx context.Context) (*PassResult, error) {
	if !p.monitor.Online() {
		metrics.PassFinished("skipped", 0)
		return &PassResult{Skipped: true}, nil
	}

	if err := p.checkToken(ctx); err != nil {
		p.hub.Update(func(s *SyncState) { s.LastError = err.Error() })
		p.logger.Warn("sync pass skipped", "error", err)
		metrics.PassFinished("skipped", 0)
		return &PassResult{Skipped: true}, err
	}

	start := p.now()
	p.hub.Update(func(s *SyncState) {
		if p.monitor.Online() {
			s.Status = StatusSyncing
		}
	})

	res, err := p.pass(ctx)
	res.Duration = p.now().Sub(start)

	if err != nil {
		p.hub.Update(func(s *SyncState) {
			s.Status = StatusError
			s.LastError = err.Error()
		})
		p.logger.Error("sync pass failed", "error", err)
		metrics.PassFinished("error", res.Duration.Seconds())
		return res, err
	}

	finished := p.now()
	p.hub.Update(func(s *SyncState) {
		s.Status = StatusIdle
		if !p.monitor.Online() {
			s.Status = StatusOffline
		}
		if !res.Interrupted {
			s.LastSyncAt = finished
			s.LastError = ""
		}
	})
	if !res.Interrupted {
		if err := p.store.SetMetadata("last_sync", formatTime(finished)); err != nil {
			p.logger.Warn("record last sync time", "error", err)
		}
	}

	p.logger.Debug("sync pass finished",
		"replayed", res.Replayed,
		"transient", res.Transient,
		"discarded", res.Discarded,
		"blocked", res.Blocked,
		"interrupted", res.Interrupted,
		"duration", res.Duration,
	)
	metrics.PassFinished("ok", res.Duration.Seconds())
	return res, nil
}

func (p *Processor) checkToken(ctx context.Context) error {
	if p.tokens == nil {
		return nil
	}
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch auth token: %w", err)
	}
	if auth.Expired(token, p.now()) {
		return ErrTokenExpired
	}
	return nil
}

func blockKey(entity EntityType, localID string) string {
	return string(entity) + "/" + localID
}

// pass walks the queue in id order. Items appended while the pass runs have
// higher ids and are reached by the same walk.
func (p *Processor) pass(ctx context.Context) (*PassResult, error) {
	res := &PassResult{}
	blocked := make(map[string]bool)

	var after int64
	for {
		items, err := p.store.NextBatch(after, p.batch)
		if err != nil {
			return res, fmt.Errorf("read mutation queue: %w", err)
		}
		if len(items) == 0 {
			return res, nil
		}

		for _, item := range items {
			after = item.ID

			if !p.monitor.Online() || ctx.Err() != nil {
				res.Interrupted = true
				return res, nil
			}

			key := blockKey(item.EntityType, item.EntityID)
			if blocked[key] {
				res.Blocked++
				continue
			}

			if err := p.replay(ctx, item, key, blocked, res); err != nil {
				return res, err
			}
		}
	}
}

// replay handles one item. Only local store failures are returned.
func (p *Processor) replay(ctx context.Context, item *QueueItem, key string, blocked map[string]bool, res *PassResult) error {
	log := p.logger.With("queue_id", item.ID, "entity", item.EntityType, "entity_id", item.EntityID, "action", item.Action)

	if err := item.Decode(); err != nil {
		return p.discard(log, item, err, "bad_payload", res)
	}
	if item.Payload.Kind() != item.EntityType {
		err := fmt.Errorf("%s payload on %s item: %w", item.Payload.Kind(), item.EntityType, ErrUnknownPayload)
		return p.discard(log, item, err, "bad_payload", res)
	}
	if !HasRoute(item.EntityType, item.Action) {
		return p.discard(log, item, fmt.Errorf("%s %s: %w", item.EntityType, item.Action, ErrUnknownRoute), "unknown_route", res)
	}

	call := Call{
		Entity:         item.EntityType,
		Action:         item.Action,
		LocalID:        item.EntityID,
		Payload:        item.Payload,
		IdempotencyKey: idempotencyKey(item),
	}

	// Non-CREATE items address the record by its server id.
	if item.Action != ActionCreate {
		remoteID, err := p.remoteIDOf(item.EntityType, item.EntityID)
		if err != nil {
			return err
		}
		if remoteID == "" {
			waiting, err := p.store.HasPendingCreate(item.EntityType, item.EntityID)
			if err != nil {
				return fmt.Errorf("check pending create: %w", err)
			}
			switch {
			case waiting:
				blocked[key] = true
				res.Blocked++
				log.Debug("waiting for create")
				return nil
			case item.Action == ActionDelete:
				// Never reached the server; nothing to delete remotely.
				if err := p.store.CompleteMutation(item, ""); err != nil {
					return fmt.Errorf("complete local delete: %w", err)
				}
				res.Replayed++
				log.Debug("delete completed locally")
				return p.publishPending()
			default:
				return p.discard(log, item, fmt.Errorf("%s %s: %w", item.EntityType, item.EntityID, ErrUnresolvedDependency), "orphan", res)
			}
		}
		call.RemoteID = remoteID
	}

	// Child CREATEs address their parent by its server id.
	if item.Action == ActionCreate && NeedsParent(item.EntityType, item.Action) {
		parentType, parentID := parentLocalID(item.Payload)
		parentRemote, err := p.remoteIDOf(parentType, parentID)
		if err != nil {
			return err
		}
		if parentRemote == "" {
			waiting, err := p.store.HasPendingCreate(parentType, parentID)
			if err != nil {
				return fmt.Errorf("check pending create: %w", err)
			}
			if waiting {
				blocked[key] = true
				res.Blocked++
				log.Debug("waiting for parent create", "parent", parentType, "parent_id", parentID)
				return nil
			}
			return p.discard(log, item, fmt.Errorf("parent %s %s: %w", parentType, parentID, ErrUnresolvedDependency), "orphan", res)
		}
		call.ParentRemoteID = parentRemote
	}

	ack, err := p.remote.Send(ctx, call)
	if err != nil {
		if Classify(err) == FailurePermanent {
			return p.discard(log, item, err, "rejected", res)
		}
		if markErr := p.store.MarkMutationError(item.ID, err.Error()); markErr != nil && !errors.Is(markErr, ErrNotFound) {
			return fmt.Errorf("record replay failure: %w", markErr)
		}
		blocked[key] = true
		res.Transient++
		metrics.Transient(string(item.EntityType), string(item.Action))
		log.Info("replay failed, will retry", "attempts", item.Attempts+1, "error", err)
		return nil
	}

	remoteID := ""
	if item.Action == ActionCreate && ack != nil {
		remoteID = ack.RemoteID
	}
	if err := p.store.CompleteMutation(item, remoteID); err != nil {
		return fmt.Errorf("complete mutation: %w", err)
	}
	res.Replayed++
	metrics.Replayed(string(item.EntityType), string(item.Action))
	log.Debug("replayed", "remote_id", remoteID)
	return p.publishPending()
}

func (p *Processor) remoteIDOf(entity EntityType, localID string) (string, error) {
	id, err := p.store.RemoteIDOf(entity, localID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve remote id: %w", err)
	}
	return id, nil
}

// discard drops an item permanently. The divergence is logged and kept in
// the dead-letter table.
func (p *Processor) discard(log *slog.Logger, item *QueueItem, cause error, reason string, res *PassResult) error {
	status := statusCodeOf(cause)
	if err := p.store.DiscardMutation(item, cause.Error(), status); err != nil {
		return fmt.Errorf("discard mutation: %w", err)
	}
	res.Discarded++
	metrics.Discarded(string(item.EntityType), reason)
	log.Warn("mutation discarded", "reason", reason, "status", status, "error", cause)
	return p.publishPending()
}

// publishPending pushes the current queue depth to subscribers.
func (p *Processor) publishPending() error {
	n, err := p.store.PendingCount()
	if err != nil {
		return fmt.Errorf("count pending mutations: %w", err)
	}
	p.hub.SetPending(n)
	metrics.SetPending(n)
	return nil
}

func idempotencyKey(item *QueueItem) string {
	name := string(item.EntityType) + "/" + item.EntityID + "/" + strconv.FormatInt(item.ID, 10)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}
