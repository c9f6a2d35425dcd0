package fitsync

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/fitsync/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// Store manages the local SQLite cache and mutation queue.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewStore opens or creates a local store.
func NewStore(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, schemaVersion)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Upsert writes a record keyed by its local id. Writing the same local id
// twice leaves one row holding the latest values.
func (s *Store) Upsert(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	return upsertRecord(s.db, rec)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertRecord(ex execer, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	spec, err := specFor(rec.Kind())
	if err != nil {
		return err
	}

	meta := rec.Meta()
	if meta.SyncState == "" {
		meta.SyncState = SyncPending
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}

	if _, err := ex.Exec(spec.upsertSQL(), spec.args(rec)...); err != nil {
		return fmt.Errorf("store: upsert %s: %w", spec.entity, err)
	}
	return nil
}

func validateRecord(rec Record) error {
	if rec == nil || rec.Meta() == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.Meta().LocalID) == "" {
		return fmt.Errorf("%w: %s has no local id", ErrInvalidRecord, rec.Kind())
	}
	switch r := rec.(type) {
	case *Workout:
		if r.Name == "" {
			return fmt.Errorf("%w: workout name is required", ErrInvalidRecord)
		}
	case *WorkoutExercise:
		if r.WorkoutID == "" || r.ExerciseID == "" {
			return fmt.Errorf("%w: workout exercise needs a workout and an exercise", ErrInvalidRecord)
		}
	case *Set:
		if r.WorkoutExerciseID == "" {
			return fmt.Errorf("%w: set needs a workout exercise", ErrInvalidRecord)
		}
		if r.Reps < 0 || r.Weight < 0 {
			return fmt.Errorf("%w: set weight and reps must be non-negative", ErrInvalidRecord)
		}
	case *Routine:
		if r.Name == "" {
			return fmt.Errorf("%w: routine name is required", ErrInvalidRecord)
		}
	}
	return nil
}

// Query returns the records of one entity type matching filter, in insertion
// order. Every write made so far is visible.
func (s *Store) Query(entity EntityType, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	spec, err := specFor(entity)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", strings.Join(spec.allColumns(), ", "), spec.table)
	args := []any{}

	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if filter.LocalID != "" {
		query += " AND local_id = ?"
		args = append(args, filter.LocalID)
	}
	if filter.ParentID != "" {
		if spec.parent == "" {
			return nil, fmt.Errorf("%w: %s has no parent", ErrInvalidRecord, entity)
		}
		query += fmt.Sprintf(" AND %s = ?", spec.parent)
		args = append(args, filter.ParentID)
	}
	if filter.PendingOnly {
		query += " AND synced = 0"
	}
	query += " ORDER BY rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := spec.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", entity, err)
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

// Get retrieves one record by local id, including tombstoned rows.
func (s *Store) Get(entity EntityType, localID string) (Record, error) {
	recs, err := s.Query(entity, Filter{LocalID: localID, IncludeDeleted: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// GetWorkout retrieves a live workout by local id.
func (s *Store) GetWorkout(localID string) (*Workout, error) {
	rec, err := s.Get(EntityWorkout, localID)
	if err != nil {
		return nil, err
	}
	w := rec.(*Workout)
	if w.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return w, nil
}

// ListWorkouts returns all live workouts.
func (s *Store) ListWorkouts() ([]*Workout, error) {
	return queryTyped[*Workout](s, EntityWorkout, Filter{})
}

// ListWorkoutExercises returns the exercises of a workout.
func (s *Store) ListWorkoutExercises(workoutID string) ([]*WorkoutExercise, error) {
	return queryTyped[*WorkoutExercise](s, EntityWorkoutExercise, Filter{ParentID: workoutID})
}

// ListSets returns the sets of a workout exercise.
func (s *Store) ListSets(workoutExerciseID string) ([]*Set, error) {
	return queryTyped[*Set](s, EntitySet, Filter{ParentID: workoutExerciseID})
}

// ListRoutines returns all live routines.
func (s *Store) ListRoutines() ([]*Routine, error) {
	return queryTyped[*Routine](s, EntityRoutine, Filter{})
}

// ListExercises returns the cached exercise catalog.
func (s *Store) ListExercises() ([]*Exercise, error) {
	return queryTyped[*Exercise](s, EntityExercise, Filter{})
}

// PersonalRecordFor returns the personal record of an exercise.
func (s *Store) PersonalRecordFor(exerciseID string) (*PersonalRecord, error) {
	prs, err := queryTyped[*PersonalRecord](s, EntityPersonalRecord, Filter{ParentID: exerciseID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, ErrNotFound
	}
	return prs[0], nil
}

func queryTyped[T Record](s *Store, entity EntityType, filter Filter) ([]T, error) {
	recs, err := s.Query(entity, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.(T))
	}
	return out, nil
}

// RemoteIDOf returns the remote id of a record, or "" when the server has not
// acknowledged its CREATE yet. Tombstoned rows still resolve.
func (s *Store) RemoteIDOf(entity EntityType, localID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	spec, err := specFor(entity)
	if err != nil {
		return "", err
	}

	var remoteID sql.NullString
	err = s.db.QueryRow(fmt.Sprintf("SELECT remote_id FROM %s WHERE local_id = ?", spec.table), localID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup remote id: %w", err)
	}
	return remoteID.String, nil
}

// GetMetadata returns a metadata value, or "" when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores a metadata value.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats() (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var stats StoreStats
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM workouts WHERE deleted_at IS NULL", &stats.Workouts},
		{"SELECT COUNT(*) FROM sets WHERE deleted_at IS NULL", &stats.Sets},
		{"SELECT COUNT(*) FROM mutation_queue", &stats.PendingSync},
		{"SELECT COUNT(*) FROM mutation_dead_letters", &stats.DeadLetters},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	var lastSync sql.NullString
	_ = s.db.QueryRow("SELECT value FROM metadata WHERE key = 'last_sync'").Scan(&lastSync)
	if lastSync.Valid {
		stats.LastSync = parseTime(lastSync.String)
	}
	stats.SchemaVersion = schemaVersion

	return &stats, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
