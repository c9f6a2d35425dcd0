package fitsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/fitsync/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// Client is the app-facing engine: every write lands in the local cache
// first and is replayed against the API when connectivity allows.
type Client struct {
	store     *Store
	monitor   *Monitor
	hub       *StateHub
	processor *Processor
	scheduler *Scheduler
	config    Config
	logger    *slog.Logger

	// writeMu serializes read-modify-write operations on local records.
	writeMu sync.Mutex

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
	now         func() time.Time
}

// New creates a client. remote may be nil, in which case mutations are
// queued but never replayed. cfg.OfflineMode has the same effect.
func New(cfg Config, remote Remote) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewStore(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	pending, err := store.PendingCount()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("client: %w", err)
	}

	online := remote != nil && !cfg.OfflineMode
	initial := SyncState{Status: StatusOffline, PendingCount: pending}
	if online {
		initial.Status = StatusIdle
	}
	if v, _ := store.GetMetadata("last_sync"); v != "" {
		initial.LastSyncAt = parseTime(v)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		store:   store,
		monitor: NewMonitor(online),
		hub:     NewStateHub(initial),
		config:  cfg,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		now:     func() time.Time { return time.Now().UTC() },
	}
	metrics.SetPending(pending)
	metrics.SetOnline(online)

	if online {
		c.processor = NewProcessor(store, remote, c.monitor, c.hub, ProcessorConfig{
			BatchSize: cfg.BatchSize,
			Tokens:    cfg.Tokens(),
			Logger:    cfg.Logger,
		})
		c.scheduler = NewScheduler(c.processor.Drain, SchedulerConfig{
			Schedule:  cfg.SyncSchedule,
			RetryBase: cfg.RetryBase,
			RetryMax:  cfg.RetryMax,
		}, cfg.Logger)
	}

	c.unsubscribe = c.monitor.OnConnectivityChange(c.connectivityChanged)

	if c.scheduler != nil && cfg.AutoSync {
		if err := c.scheduler.Start(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("client: %w", err)
		}
		// Replay whatever a previous run left behind.
		if pending > 0 {
			c.scheduler.Kick(ctx)
		}
	}

	return c, nil
}

func (c *Client) connectivityChanged(online bool) {
	metrics.SetOnline(online)
	if !online {
		c.hub.SetStatus(StatusOffline)
		return
	}
	c.hub.Update(func(s *SyncState) {
		if s.Status == StatusOffline {
			s.Status = StatusIdle
		}
	})
	if c.scheduler != nil {
		c.scheduler.Kick(c.ctx)
	}
}

// SetOnline forwards a device connectivity signal to the network monitor.
func (c *Client) SetOnline(online bool) {
	c.monitor.Report(online)
}

// Online reports the monitor's current view of connectivity.
func (c *Client) Online() bool {
	return c.monitor.Online()
}

// Monitor returns the client's network monitor.
func (c *Client) Monitor() *Monitor {
	return c.monitor
}

// Subscribe registers fn for sync state changes. fn is called immediately
// with the current state and synchronously on every change. fn must not
// call back into methods that change the state.
func (c *Client) Subscribe(fn func(SyncState)) (unsubscribe func()) {
	return c.hub.Subscribe(fn)
}

// State returns the current sync state.
func (c *Client) State() SyncState {
	return c.hub.State()
}

// ForceSync runs a drain pass now. It fails with ErrOffline while
// disconnected; a call made while a pass is running returns a skipped result.
func (c *Client) ForceSync(ctx context.Context) (*PassResult, error) {
	if c.processor == nil {
		return nil, ErrNoRemote
	}
	if !c.monitor.Online() {
		return nil, ErrOffline
	}
	return c.processor.Drain(ctx)
}

// afterWrite publishes the new queue depth and schedules a drain.
func (c *Client) afterWrite() {
	if n, err := c.store.PendingCount(); err == nil {
		c.hub.SetPending(n)
		metrics.SetPending(n)
	} else {
		c.logger.Warn("count pending mutations", "error", err)
	}

	if c.scheduler != nil && c.config.AutoSync && c.monitor.Online() {
		c.scheduler.Kick(c.ctx)
	}
}

// write persists rec together with its mutation.
func (c *Client) write(rec Record, action Action, payload Payload) error {
	item := &QueueItem{
		EntityType: rec.Kind(),
		EntityID:   rec.Meta().LocalID,
		Action:     action,
		Payload:    payload,
	}
	rec.Meta().UpdatedAt = c.now()
	if err := c.store.RecordWrite(rec, item); err != nil {
		return err
	}
	c.afterWrite()
	return nil
}

func newLocalID() string {
	return ulid.Make().String()
}

// StartWorkoutParams describes a new workout.
type StartWorkoutParams struct {
	Name      string
	Notes     string
	RoutineID string
	// StartedAt defaults to now.
	StartedAt time.Time
}

// StartWorkout records a new workout.
func (c *Client) StartWorkout(ctx context.Context, params StartWorkoutParams) (*Workout, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w := &Workout{
		RecordMeta: RecordMeta{LocalID: newLocalID()},
		Name:       params.Name,
		Notes:      params.Notes,
		RoutineID:  params.RoutineID,
		StartedAt:  params.StartedAt,
	}
	if w.StartedAt.IsZero() {
		w.StartedAt = c.now()
	}

	if err := c.write(w, ActionCreate, workoutPayload(w)); err != nil {
		return nil, err
	}
	return w, nil
}

// WorkoutUpdate holds the fields to change; nil fields are left as they are.
type WorkoutUpdate struct {
	Name  *string
	Notes *string
}

// UpdateWorkout changes a workout's name or notes.
func (c *Client) UpdateWorkout(ctx context.Context, localID string, update WorkoutUpdate) (*Workout, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w, err := c.store.GetWorkout(localID)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		w.Name = *update.Name
	}
	if update.Notes != nil {
		w.Notes = *update.Notes
	}

	if err := c.write(w, ActionUpdate, workoutPayload(w)); err != nil {
		return nil, err
	}
	return w, nil
}

// FinishWorkout stamps the workout's end time.
func (c *Client) FinishWorkout(ctx context.Context, localID string) (*Workout, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w, err := c.store.GetWorkout(localID)
	if err != nil {
		return nil, err
	}
	ended := c.now()
	w.EndedAt = &ended

	if err := c.write(w, ActionUpdate, workoutPayload(w)); err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWorkout tombstones a workout. Its exercises and sets go with it
// once the server acknowledges the delete.
func (c *Client) DeleteWorkout(ctx context.Context, localID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w, err := c.store.GetWorkout(localID)
	if err != nil {
		return err
	}
	return c.tombstone(w)
}

func (c *Client) tombstone(rec Record) error {
	deleted := c.now()
	rec.Meta().DeletedAt = &deleted
	return c.write(rec, ActionDelete, DeletePayload{Entity: rec.Kind()})
}

func workoutPayload(w *Workout) WorkoutPayload {
	return WorkoutPayload{
		Name:      w.Name,
		Notes:     w.Notes,
		RoutineID: w.RoutineID,
		StartedAt: w.StartedAt,
		EndedAt:   w.EndedAt,
	}
}

// AddExercise appends an exercise to a workout.
func (c *Client) AddExercise(ctx context.Context, workoutID, exerciseID string) (*WorkoutExercise, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.store.GetWorkout(workoutID); err != nil {
		return nil, fmt.Errorf("workout %s: %w", workoutID, err)
	}
	existing, err := c.store.ListWorkoutExercises(workoutID)
	if err != nil {
		return nil, err
	}

	we := &WorkoutExercise{
		RecordMeta: RecordMeta{LocalID: newLocalID()},
		WorkoutID:  workoutID,
		ExerciseID: exerciseID,
		Position:   len(existing),
	}
	payload := WorkoutExercisePayload{WorkoutID: workoutID, ExerciseID: exerciseID, Position: we.Position}
	if err := c.write(we, ActionCreate, payload); err != nil {
		return nil, err
	}
	return we, nil
}

// RemoveExercise deletes an exercise slot from its workout.
func (c *Client) RemoveExercise(ctx context.Context, workoutExerciseID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	we, err := c.liveWorkoutExercise(workoutExerciseID)
	if err != nil {
		return err
	}
	return c.tombstone(we)
}

func (c *Client) liveWorkoutExercise(localID string) (*WorkoutExercise, error) {
	rec, err := c.store.Get(EntityWorkoutExercise, localID)
	if err != nil {
		return nil, err
	}
	we := rec.(*WorkoutExercise)
	if we.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return we, nil
}

func (c *Client) liveSet(localID string) (*Set, error) {
	rec, err := c.store.Get(EntitySet, localID)
	if err != nil {
		return nil, err
	}
	s := rec.(*Set)
	if s.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// AddSetParams describes a performed set.
type AddSetParams struct {
	WorkoutExerciseID string
	Weight            float64
	Reps              int
	RPE               *float64
	// CompletedAt defaults to now.
	CompletedAt time.Time
}

// SetResult is a logged set and, when it beat the previous best for its
// exercise, the new personal record.
type SetResult struct {
	Set            *Set            `json:"set"`
	PersonalRecord *PersonalRecord `json:"personal_record,omitempty"`
}

// AddSet logs a set under a workout exercise.
func (c *Client) AddSet(ctx context.Context, params AddSetParams) (*SetResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	we, err := c.liveWorkoutExercise(params.WorkoutExerciseID)
	if err != nil {
		return nil, fmt.Errorf("workout exercise %s: %w", params.WorkoutExerciseID, err)
	}

	s := &Set{
		RecordMeta:        RecordMeta{LocalID: newLocalID()},
		WorkoutExerciseID: params.WorkoutExerciseID,
		Weight:            params.Weight,
		Reps:              params.Reps,
		RPE:               params.RPE,
		CompletedAt:       params.CompletedAt,
	}
	if s.CompletedAt.IsZero() {
		s.CompletedAt = c.now()
	}

	if err := c.write(s, ActionCreate, setPayload(s)); err != nil {
		return nil, err
	}
	return &SetResult{Set: s, PersonalRecord: c.detectPersonalRecord(we.ExerciseID, s)}, nil
}

// SetUpdate holds the fields to change; nil fields are left as they are.
type SetUpdate struct {
	Weight *float64
	Reps   *int
	RPE    *float64
}

// UpdateSet corrects a logged set.
func (c *Client) UpdateSet(ctx context.Context, localID string, update SetUpdate) (*SetResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	s, err := c.liveSet(localID)
	if err != nil {
		return nil, err
	}
	if update.Weight != nil {
		s.Weight = *update.Weight
	}
	if update.Reps != nil {
		s.Reps = *update.Reps
	}
	if update.RPE != nil {
		s.RPE = update.RPE
	}

	if err := c.write(s, ActionUpdate, setPayload(s)); err != nil {
		return nil, err
	}

	res := &SetResult{Set: s}
	if we, err := c.liveWorkoutExercise(s.WorkoutExerciseID); err == nil {
		res.PersonalRecord = c.detectPersonalRecord(we.ExerciseID, s)
	}
	return res, nil
}

// DeleteSet removes a logged set.
func (c *Client) DeleteSet(ctx context.Context, localID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	s, err := c.liveSet(localID)
	if err != nil {
		return err
	}
	return c.tombstone(s)
}

func setPayload(s *Set) SetPayload {
	return SetPayload{
		WorkoutExerciseID: s.WorkoutExerciseID,
		Weight:            s.Weight,
		Reps:              s.Reps,
		RPE:               s.RPE,
		CompletedAt:       s.CompletedAt,
	}
}

// detectPersonalRecord stores s as the exercise's personal record when it is
// heavier than the current one, or equally heavy with more reps. Records are
// derived locally and never queued.
func (c *Client) detectPersonalRecord(exerciseID string, s *Set) *PersonalRecord {
	if exerciseID == "" || s.Weight <= 0 || s.Reps <= 0 {
		return nil
	}

	current, err := c.store.PersonalRecordFor(exerciseID)
	if err == nil && !beats(s, current) {
		return nil
	}

	pr := &PersonalRecord{
		RecordMeta: RecordMeta{LocalID: exerciseID, SyncState: SyncSynced},
		ExerciseID: exerciseID,
		Weight:     s.Weight,
		Reps:       s.Reps,
		SetID:      s.LocalID,
		AchievedAt: s.CompletedAt,
	}
	if err := c.store.Upsert(pr); err != nil {
		c.logger.Warn("store personal record", "exercise_id", exerciseID, "error", err)
		return nil
	}
	return pr
}

func beats(s *Set, pr *PersonalRecord) bool {
	if s.Weight != pr.Weight {
		return s.Weight > pr.Weight
	}
	return s.Reps > pr.Reps
}

// SaveRoutineParams describes a routine. An empty LocalID creates one.
type SaveRoutineParams struct {
	LocalID     string
	Name        string
	Description string
	ExerciseIDs []string
}

// SaveRoutine creates or updates a routine.
func (c *Client) SaveRoutine(ctx context.Context, params SaveRoutineParams) (*Routine, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	action := ActionCreate
	r := &Routine{RecordMeta: RecordMeta{LocalID: newLocalID()}}
	if params.LocalID != "" {
		rec, err := c.store.Get(EntityRoutine, params.LocalID)
		if err != nil {
			return nil, err
		}
		r = rec.(*Routine)
		if r.DeletedAt != nil {
			return nil, ErrNotFound
		}
		action = ActionUpdate
	}
	r.Name = params.Name
	r.Description = params.Description
	r.ExerciseIDs = params.ExerciseIDs

	payload := RoutinePayload{Name: r.Name, Description: r.Description, ExerciseIDs: r.ExerciseIDs}
	if err := c.write(r, action, payload); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRoutine removes a routine.
func (c *Client) DeleteRoutine(ctx context.Context, localID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rec, err := c.store.Get(EntityRoutine, localID)
	if err != nil {
		return err
	}
	if rec.Meta().DeletedAt != nil {
		return ErrNotFound
	}
	return c.tombstone(rec)
}

// CacheExercises stores server-owned catalog entries for offline lookup.
// Entries are keyed by their server id and never queued.
func (c *Client) CacheExercises(ctx context.Context, exercises []Exercise) error {
	for i := range exercises {
		e := exercises[i]
		if e.LocalID == "" {
			e.LocalID = e.RemoteID
		}
		if e.RemoteID == "" {
			e.RemoteID = e.LocalID
		}
		e.SyncState = SyncSynced
		e.UpdatedAt = c.now()
		if err := c.store.Upsert(&e); err != nil {
			return fmt.Errorf("cache exercise %s: %w", e.LocalID, err)
		}
	}
	return nil
}

// Workout returns a live workout.
func (c *Client) Workout(localID string) (*Workout, error) {
	return c.store.GetWorkout(localID)
}

// Workouts returns all live workouts.
func (c *Client) Workouts() ([]*Workout, error) {
	return c.store.ListWorkouts()
}

// WorkoutExercises returns the exercises of a workout.
func (c *Client) WorkoutExercises(workoutID string) ([]*WorkoutExercise, error) {
	return c.store.ListWorkoutExercises(workoutID)
}

// Sets returns the sets of a workout exercise.
func (c *Client) Sets(workoutExerciseID string) ([]*Set, error) {
	return c.store.ListSets(workoutExerciseID)
}

// Routines returns all live routines.
func (c *Client) Routines() ([]*Routine, error) {
	return c.store.ListRoutines()
}

// Exercises returns the cached exercise catalog.
func (c *Client) Exercises() ([]*Exercise, error) {
	return c.store.ListExercises()
}

// PersonalRecord returns the best set logged for an exercise.
func (c *Client) PersonalRecord(exerciseID string) (*PersonalRecord, error) {
	return c.store.PersonalRecordFor(exerciseID)
}

// PendingMutations returns up to limit queued mutations in replay order.
func (c *Client) PendingMutations(limit int) ([]*QueueItem, error) {
	return c.store.DequeueBatch(limit)
}

// DeadLetters returns recently discarded mutations, newest first.
func (c *Client) DeadLetters(limit int) ([]DeadLetter, error) {
	return c.store.DeadLetters(limit)
}

// Stats returns store statistics.
func (c *Client) Stats() (*StoreStats, error) {
	return c.store.Stats()
}

// HealthCheck returns the health status of the client.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		StoreOK: true,
	}

	// Check store
	if _, err := c.store.Stats(); err != nil {
		status.StoreOK = false
		status.Healthy = false
		status.Error = err.Error()
		return status
	}

	// Check API connectivity
	if c.processor != nil {
		err := c.processor.remote.Ping(ctx)
		status.RemoteReachable = err == nil
		if err != nil {
			status.Error = err.Error()
		}
	}

	return status
}

// Close stops background work, waits for a running pass to return and
// closes the store. Queued mutations stay on disk for the next run.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.cancel()
		if c.scheduler != nil {
			c.scheduler.Stop()
		}
		err = c.store.Close()
	})
	return err
}
