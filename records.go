package fitsync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is a locally cached domain entity. *Workout, *WorkoutExercise, *Set,
// *Routine, *Exercise and *PersonalRecord implement it.
type Record interface {
	Kind() EntityType
	Meta() *RecordMeta
}

func (*Workout) Kind() EntityType         { return EntityWorkout }
func (*WorkoutExercise) Kind() EntityType { return EntityWorkoutExercise }
func (*Set) Kind() EntityType             { return EntitySet }
func (*Routine) Kind() EntityType         { return EntityRoutine }
func (*Exercise) Kind() EntityType        { return EntityExercise }
func (*PersonalRecord) Kind() EntityType  { return EntityPersonalRecord }

// tableSpec maps an entity type onto its SQLite table.
type tableSpec struct {
	entity  EntityType
	table   string
	parent  string
	columns []string
	values  func(Record) []any
	scan    func(scanner) (Record, error)
}

// metaColumns are shared by every entity table and always come first.
var metaColumns = []string{"local_id", "remote_id", "synced", "updated_at", "deleted_at"}

var tableSpecs = map[EntityType]tableSpec{
	EntityWorkout: {
		entity:  EntityWorkout,
		table:   "workouts",
		columns: []string{"name", "notes", "routine_id", "started_at", "ended_at"},
		values: func(r Record) []any {
			w := r.(*Workout)
			return []any{w.Name, nullString(w.Notes), nullString(w.RoutineID), formatTime(w.StartedAt), formatTimePtr(w.EndedAt)}
		},
		scan: scanWorkout,
	},
	EntityWorkoutExercise: {
		entity:  EntityWorkoutExercise,
		table:   "workout_exercises",
		parent:  "workout_id",
		columns: []string{"workout_id", "exercise_id", "position"},
		values: func(r Record) []any {
			we := r.(*WorkoutExercise)
			return []any{we.WorkoutID, we.ExerciseID, we.Position}
		},
		scan: scanWorkoutExercise,
	},
	EntitySet: {
		entity:  EntitySet,
		table:   "sets",
		parent:  "workout_exercise_id",
		columns: []string{"workout_exercise_id", "weight", "reps", "rpe", "completed_at"},
		values: func(r Record) []any {
			s := r.(*Set)
			var rpe any
			if s.RPE != nil {
				rpe = *s.RPE
			}
			return []any{s.WorkoutExerciseID, s.Weight, s.Reps, rpe, formatTime(s.CompletedAt)}
		},
		scan: scanSet,
	},
	EntityRoutine: {
		entity:  EntityRoutine,
		table:   "routines",
		columns: []string{"name", "description", "exercise_ids"},
		values: func(r Record) []any {
			rt := r.(*Routine)
			var ids any
			if len(rt.ExerciseIDs) > 0 {
				b, _ := json.Marshal(rt.ExerciseIDs)
				ids = string(b)
			}
			return []any{rt.Name, nullString(rt.Description), ids}
		},
		scan: scanRoutine,
	},
	EntityExercise: {
		entity:  EntityExercise,
		table:   "exercises",
		columns: []string{"name", "muscle_group", "equipment"},
		values: func(r Record) []any {
			e := r.(*Exercise)
			return []any{e.Name, nullString(e.MuscleGroup), nullString(e.Equipment)}
		},
		scan: scanExercise,
	},
	EntityPersonalRecord: {
		entity:  EntityPersonalRecord,
		table:   "personal_records",
		parent:  "exercise_id",
		columns: []string{"exercise_id", "weight", "reps", "set_id", "achieved_at"},
		values: func(r Record) []any {
			pr := r.(*PersonalRecord)
			return []any{pr.ExerciseID, pr.Weight, pr.Reps, pr.SetID, formatTime(pr.AchievedAt)}
		},
		scan: scanPersonalRecord,
	},
}

func specFor(entity EntityType) (tableSpec, error) {
	spec, ok := tableSpecs[entity]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidRecord, entity)
	}
	return spec, nil
}

func (t tableSpec) allColumns() []string {
	cols := make([]string, 0, len(metaColumns)+len(t.columns))
	cols = append(cols, metaColumns...)
	return append(cols, t.columns...)
}

// upsertSQL builds an idempotent insert keyed on local_id. A NULL remote_id
// never overwrites a known one.
func (t tableSpec) upsertSQL() string {
	cols := t.allColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")

	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		if c == "remote_id" {
			sets = append(sets, fmt.Sprintf("remote_id = COALESCE(excluded.remote_id, %s.remote_id)", t.table))
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(local_id) DO UPDATE SET %s",
		t.table, strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "),
	)
}

func (t tableSpec) args(rec Record) []any {
	m := rec.Meta()
	synced := 0
	if m.SyncState == SyncSynced {
		synced = 1
	}
	args := []any{m.LocalID, nullString(m.RemoteID), synced, formatTime(m.UpdatedAt), formatTimePtr(m.DeletedAt)}
	return append(args, t.values(rec)...)
}

// metaCols receives the shared leading columns of a row.
type metaCols struct {
	localID   string
	remoteID  sql.NullString
	synced    int
	updatedAt string
	deletedAt sql.NullString
}

func (m *metaCols) dest(rest ...any) []any {
	return append([]any{&m.localID, &m.remoteID, &m.synced, &m.updatedAt, &m.deletedAt}, rest...)
}

func (m *metaCols) apply(meta *RecordMeta) {
	meta.LocalID = m.localID
	meta.RemoteID = m.remoteID.String
	meta.SyncState = SyncPending
	if m.synced == 1 {
		meta.SyncState = SyncSynced
	}
	meta.UpdatedAt = parseTime(m.updatedAt)
	meta.DeletedAt = parseTimePtr(m.deletedAt)
}

func scanWorkout(sc scanner) (Record, error) {
	var (
		w         Workout
		meta      metaCols
		notes     sql.NullString
		routineID sql.NullString
		startedAt string
		endedAt   sql.NullString
	)
	if err := sc.Scan(meta.dest(&w.Name, &notes, &routineID, &startedAt, &endedAt)...); err != nil {
		return nil, err
	}
	meta.apply(&w.RecordMeta)
	w.Notes = notes.String
	w.RoutineID = routineID.String
	w.StartedAt = parseTime(startedAt)
	w.EndedAt = parseTimePtr(endedAt)
	return &w, nil
}

func scanWorkoutExercise(sc scanner) (Record, error) {
	var (
		we   WorkoutExercise
		meta metaCols
	)
	if err := sc.Scan(meta.dest(&we.WorkoutID, &we.ExerciseID, &we.Position)...); err != nil {
		return nil, err
	}
	meta.apply(&we.RecordMeta)
	return &we, nil
}

func scanSet(sc scanner) (Record, error) {
	var (
		s           Set
		meta        metaCols
		rpe         sql.NullFloat64
		completedAt string
	)
	if err := sc.Scan(meta.dest(&s.WorkoutExerciseID, &s.Weight, &s.Reps, &rpe, &completedAt)...); err != nil {
		return nil, err
	}
	meta.apply(&s.RecordMeta)
	if rpe.Valid {
		v := rpe.Float64
		s.RPE = &v
	}
	s.CompletedAt = parseTime(completedAt)
	return &s, nil
}

func scanRoutine(sc scanner) (Record, error) {
	var (
		r           Routine
		meta        metaCols
		description sql.NullString
		exerciseIDs sql.NullString
	)
	if err := sc.Scan(meta.dest(&r.Name, &description, &exerciseIDs)...); err != nil {
		return nil, err
	}
	meta.apply(&r.RecordMeta)
	r.Description = description.String
	if exerciseIDs.Valid && exerciseIDs.String != "" {
		if err := json.Unmarshal([]byte(exerciseIDs.String), &r.ExerciseIDs); err != nil {
			return nil, fmt.Errorf("decode routine exercise ids: %w", err)
		}
	}
	return &r, nil
}

func scanExercise(sc scanner) (Record, error) {
	var (
		e           Exercise
		meta        metaCols
		muscleGroup sql.NullString
		equipment   sql.NullString
	)
	if err := sc.Scan(meta.dest(&e.Name, &muscleGroup, &equipment)...); err != nil {
		return nil, err
	}
	meta.apply(&e.RecordMeta)
	e.MuscleGroup = muscleGroup.String
	e.Equipment = equipment.String
	return &e, nil
}

func scanPersonalRecord(sc scanner) (Record, error) {
	var (
		pr         PersonalRecord
		meta       metaCols
		achievedAt string
	)
	if err := sc.Scan(meta.dest(&pr.ExerciseID, &pr.Weight, &pr.Reps, &pr.SetID, &achievedAt)...); err != nil {
		return nil, err
	}
	meta.apply(&pr.RecordMeta)
	pr.AchievedAt = parseTime(achievedAt)
	return &pr, nil
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
