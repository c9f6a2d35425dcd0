package fitsync

import "time"

// EntityType names a locally cached domain entity.
type EntityType string

const (
	EntityWorkout         EntityType = "workout"
	EntityWorkoutExercise EntityType = "workout_exercise"
	EntitySet             EntityType = "set"
	EntityRoutine         EntityType = "routine"
	EntityExercise        EntityType = "exercise"
	EntityPersonalRecord  EntityType = "personal_record"
)

// ValidEntityTypes returns every entity type the local store knows about.
func ValidEntityTypes() []EntityType {
	return []EntityType{
		EntityWorkout,
		EntityWorkoutExercise,
		EntitySet,
		EntityRoutine,
		EntityExercise,
		EntityPersonalRecord,
	}
}

// IsValid checks if the entity type is known.
func (e EntityType) IsValid() bool {
	for _, valid := range ValidEntityTypes() {
		if e == valid {
			return true
		}
	}
	return false
}

// Action is the kind of mutation a queue item replays.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// IsValid checks if the action is one of CREATE, UPDATE or DELETE.
func (a Action) IsValid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// SyncFlag records whether a local record has unacknowledged mutations.
type SyncFlag string

const (
	SyncPending SyncFlag = "pending"
	SyncSynced  SyncFlag = "synced"
)

// RecordMeta holds the bookkeeping fields shared by every local record.
type RecordMeta struct {
	LocalID   string     `json:"local_id"`
	RemoteID  string     `json:"remote_id,omitempty"`
	SyncState SyncFlag   `json:"sync_state"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Meta returns the record's bookkeeping fields.
func (m *RecordMeta) Meta() *RecordMeta { return m }

// Workout is a single training session.
type Workout struct {
	RecordMeta
	Name      string     `json:"name"`
	Notes     string     `json:"notes,omitempty"`
	RoutineID string     `json:"routine_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// WorkoutExercise is an exercise slot inside a workout.
type WorkoutExercise struct {
	RecordMeta
	WorkoutID  string `json:"workout_id"`
	ExerciseID string `json:"exercise_id"`
	Position   int    `json:"position"`
}

// Set is one performed set of a workout exercise.
type Set struct {
	RecordMeta
	WorkoutExerciseID string    `json:"workout_exercise_id"`
	Weight            float64   `json:"weight"`
	Reps              int       `json:"reps"`
	RPE               *float64  `json:"rpe,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}

// Routine is a premade list of exercises.
type Routine struct {
	RecordMeta
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ExerciseIDs []string `json:"exercise_ids,omitempty"`
}

// Exercise is a server-owned catalog entry cached for offline lookup.
type Exercise struct {
	RecordMeta
	Name        string `json:"name"`
	MuscleGroup string `json:"muscle_group,omitempty"`
	Equipment   string `json:"equipment,omitempty"`
}

// PersonalRecord is the heaviest set logged for an exercise on this device.
type PersonalRecord struct {
	RecordMeta
	ExerciseID string    `json:"exercise_id"`
	Weight     float64   `json:"weight"`
	Reps       int       `json:"reps"`
	SetID      string    `json:"set_id"`
	AchievedAt time.Time `json:"achieved_at"`
}

// QueueItem is one durable, not yet acknowledged mutation.
type QueueItem struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Action     Action     `json:"action"`
	Payload    Payload    `json:"payload"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	// RawPayload is the persisted envelope, kept for dead-lettering.
	RawPayload string `json:"-"`
	decodeErr  error
}

// DeadLetter is a mutation dropped after a permanent failure.
type DeadLetter struct {
	ID          int64      `json:"id"`
	QueueID     int64      `json:"queue_id"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	Action      Action     `json:"action"`
	Payload     string     `json:"payload"`
	Attempts    int        `json:"attempts"`
	Reason      string     `json:"reason"`
	StatusCode  int        `json:"status_code,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	DiscardedAt time.Time  `json:"discarded_at"`
}

// SyncStatus is the coarse engine state shown by sync indicators.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusError   SyncStatus = "error"
	StatusOffline SyncStatus = "offline"
)

// SyncState is the published, derived view of the sync engine.
type SyncState struct {
	Status       SyncStatus `json:"status"`
	PendingCount int        `json:"pending_count"`
	LastSyncAt   time.Time  `json:"last_sync_at"`
	LastError    string     `json:"last_error,omitempty"`
}

// PassResult summarizes one drain pass.
type PassResult struct {
	Skipped   bool `json:"skipped"`
	Replayed  int  `json:"replayed"`
	Transient int  `json:"transient"`
	Discarded int  `json:"discarded"`
	Blocked   int  `json:"blocked"`
	// Interrupted is set when connectivity dropped before the walk finished.
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// StoreStats contains statistics about the local store.
type StoreStats struct {
	Workouts      int       `json:"workouts"`
	Sets          int       `json:"sets"`
	PendingSync   int       `json:"pending_sync"`
	DeadLetters   int       `json:"dead_letters"`
	LastSync      time.Time `json:"last_sync"`
	SchemaVersion string    `json:"schema_version"`
}

// HealthStatus represents the health of the client.
type HealthStatus struct {
	Healthy         bool   `json:"healthy"`
	StoreOK         bool   `json:"store_ok"`
	RemoteReachable bool   `json:"remote_reachable"`
	Error           string `json:"error,omitempty"`
}

// Filter narrows a Query.
type Filter struct {
	// LocalID matches a single record.
	LocalID string
	// ParentID matches the parent local id (workout for exercises, workout
	// exercise for sets, exercise for personal records).
	ParentID string
	// PendingOnly keeps records that still have queued mutations.
	PendingOnly bool
	// IncludeDeleted keeps tombstoned rows.
	IncludeDeleted bool
	// Limit caps the result size when positive.
	Limit int
}
