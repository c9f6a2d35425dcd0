package fitsync

import (
	"errors"
	"path/filepath"
	"testing"
)

func workoutCreate(id, name string) (*Workout, *QueueItem) {
	w := &Workout{RecordMeta: RecordMeta{LocalID: id}, Name: name}
	return w, &QueueItem{EntityType: EntityWorkout, EntityID: id, Action: ActionCreate, Payload: WorkoutPayload{Name: name}}
}

func TestRecordWrite_EnqueuesAndMarksPending(t *testing.T) {
	store := newTestStore(t)

	w, item := workoutCreate("W1", "Legs")
	if err := store.RecordWrite(w, item); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}
	if item.ID == 0 {
		t.Error("item.ID not assigned")
	}
	if item.CreatedAt.IsZero() {
		t.Error("item.CreatedAt not assigned")
	}

	got, err := store.GetWorkout("W1")
	if err != nil {
		t.Fatalf("GetWorkout failed: %v", err)
	}
	if got.SyncState != SyncPending {
		t.Errorf("SyncState = %q, want pending", got.SyncState)
	}

	count, err := store.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("PendingCount = %d, want 1", count)
	}
}

func TestRecordWrite_RejectsMismatchedTarget(t *testing.T) {
	store := newTestStore(t)

	w, item := workoutCreate("W1", "Legs")
	item.EntityID = "W2"
	if err := store.RecordWrite(w, item); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}

	if count, _ := store.PendingCount(); count != 0 {
		t.Errorf("PendingCount = %d, want 0", count)
	}
	if _, err := store.Get(EntityWorkout, "W1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record written despite rejected mutation: %v", err)
	}
}

func TestRecordWrite_InvalidMutationRollsBackRecord(t *testing.T) {
	store := newTestStore(t)

	w, item := workoutCreate("W1", "Legs")
	item.Action = Action("PATCH")
	if err := store.RecordWrite(w, item); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if _, err := store.Get(EntityWorkout, "W1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record should be rolled back, got %v", err)
	}
}

func TestEnqueueMutation_Validation(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		item *QueueItem
		want error
	}{
		{"unknown entity", &QueueItem{EntityType: "cardio", EntityID: "x", Action: ActionCreate, Payload: WorkoutPayload{}}, ErrInvalidRecord},
		{"bad action", &QueueItem{EntityType: EntityWorkout, EntityID: "x", Action: "PATCH", Payload: WorkoutPayload{}}, ErrInvalidRecord},
		{"no entity id", &QueueItem{EntityType: EntityWorkout, Action: ActionCreate, Payload: WorkoutPayload{}}, ErrInvalidRecord},
		{"no payload", &QueueItem{EntityType: EntityWorkout, EntityID: "x", Action: ActionCreate}, ErrUnknownPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.EnqueueMutation(tt.item); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDequeueBatch_FIFOAndNonDestructive(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"A", "B", "C"} {
		w, item := workoutCreate(id, "w"+id)
		if err := store.RecordWrite(w, item); err != nil {
			t.Fatalf("RecordWrite failed: %v", err)
		}
	}

	items, err := store.DequeueBatch(2)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 2 || items[0].EntityID != "A" || items[1].EntityID != "B" {
		t.Fatalf("DequeueBatch(2) = %v, want A, B", items)
	}

	// Reading does not consume.
	again, err := store.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(again) != 3 {
		t.Fatalf("expected 3 items still queued, got %d", len(again))
	}

	rest, err := store.NextBatch(items[1].ID, 10)
	if err != nil {
		t.Fatalf("NextBatch failed: %v", err)
	}
	if len(rest) != 1 || rest[0].EntityID != "C" {
		t.Errorf("NextBatch after B = %v, want C", rest)
	}
}

func TestDequeueBatch_DecodesPayload(t *testing.T) {
	store := newTestStore(t)

	rpe := 7.0
	item := &QueueItem{
		EntityType: EntitySet, EntityID: "S1", Action: ActionCreate,
		Payload: SetPayload{WorkoutExerciseID: "WE1", Weight: 82.5, Reps: 5, RPE: &rpe},
	}
	if err := store.EnqueueMutation(item); err != nil {
		t.Fatalf("EnqueueMutation failed: %v", err)
	}

	items, err := store.DequeueBatch(1)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if err := items[0].Decode(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	p, ok := items[0].Payload.(SetPayload)
	if !ok {
		t.Fatalf("payload type = %T, want SetPayload", items[0].Payload)
	}
	if p.Weight != 82.5 || p.Reps != 5 || p.RPE == nil || *p.RPE != 7 {
		t.Errorf("payload = %+v", p)
	}
}

func TestDequeueBatch_SurfacesCorruptPayload(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.db.Exec(`
		INSERT INTO mutation_queue (entity_type, entity_id, action, payload, created_at, attempts)
		VALUES ('workout', 'W1', 'CREATE', '{"type":"cardio","data":{}}', '2026-01-01T00:00:00Z', 0)
	`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	items, err := store.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if err := items[0].Decode(); !errors.Is(err, ErrUnknownPayload) {
		t.Errorf("Decode = %v, want ErrUnknownPayload", err)
	}
}

func TestRemoveMutation_Idempotent(t *testing.T) {
	store := newTestStore(t)

	w, item := workoutCreate("W1", "Legs")
	if err := store.RecordWrite(w, item); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}

	if err := store.RemoveMutation(item.ID); err != nil {
		t.Fatalf("RemoveMutation failed: %v", err)
	}
	if err := store.RemoveMutation(item.ID); err != nil {
		t.Errorf("second RemoveMutation should be a no-op, got %v", err)
	}
	if count, _ := store.PendingCount(); count != 0 {
		t.Errorf("PendingCount = %d, want 0", count)
	}
}

func TestMarkMutationError(t *testing.T) {
	store := newTestStore(t)

	w, item := workoutCreate("W1", "Legs")
	if err := store.RecordWrite(w, item); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.MarkMutationError(item.ID, "HTTP 503"); err != nil {
			t.Fatalf("MarkMutationError failed: %v", err)
		}
	}

	items, _ := store.DequeueBatch(1)
	if items[0].Attempts != 2 || items[0].LastError != "HTTP 503" {
		t.Errorf("item = attempts %d, last error %q", items[0].Attempts, items[0].LastError)
	}

	if err := store.MarkMutationError(9999, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestCompleteMutation_MergesRemoteIDAndSyncs(t *testing.T) {
	store := newTestStore(t)

	w, create := workoutCreate("W1", "Legs")
	if err := store.RecordWrite(w, create); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}
	w.Name = "Legs day"
	update := &QueueItem{EntityType: EntityWorkout, EntityID: "W1", Action: ActionUpdate, Payload: WorkoutPayload{Name: "Legs day"}}
	if err := store.RecordWrite(w, update); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}

	if err := store.CompleteMutation(create, "77"); err != nil {
		t.Fatalf("CompleteMutation failed: %v", err)
	}

	got, _ := store.GetWorkout("W1")
	if got.RemoteID != "77" {
		t.Errorf("RemoteID = %q, want 77", got.RemoteID)
	}
	if got.SyncState != SyncPending {
		t.Errorf("SyncState = %q, want pending while the update is queued", got.SyncState)
	}

	if err := store.CompleteMutation(update, ""); err != nil {
		t.Fatalf("CompleteMutation failed: %v", err)
	}
	got, _ = store.GetWorkout("W1")
	if got.SyncState != SyncSynced {
		t.Errorf("SyncState = %q, want synced", got.SyncState)
	}
	if got.RemoteID != "77" {
		t.Errorf("RemoteID = %q, an update must not clear it", got.RemoteID)
	}
}

func TestCompleteMutation_DeletePurgesChildren(t *testing.T) {
	store := newTestStore(t)

	records := []Record{
		&Workout{RecordMeta: RecordMeta{LocalID: "W1", RemoteID: "1"}, Name: "Legs"},
		&WorkoutExercise{RecordMeta: RecordMeta{LocalID: "WE1", RemoteID: "2"}, WorkoutID: "W1", ExerciseID: "squat"},
		&Set{RecordMeta: RecordMeta{LocalID: "S1", RemoteID: "3"}, WorkoutExerciseID: "WE1", Weight: 100, Reps: 5},
		&Workout{RecordMeta: RecordMeta{LocalID: "W2"}, Name: "Arms"},
	}
	for _, r := range records {
		if err := store.Upsert(r); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	item := &QueueItem{EntityType: EntityWorkout, EntityID: "W1", Action: ActionDelete, Payload: DeletePayload{Entity: EntityWorkout}}
	if err := store.EnqueueMutation(item); err != nil {
		t.Fatalf("EnqueueMutation failed: %v", err)
	}
	if err := store.CompleteMutation(item, ""); err != nil {
		t.Fatalf("CompleteMutation failed: %v", err)
	}

	for _, c := range []struct {
		entity EntityType
		id     string
	}{{EntityWorkout, "W1"}, {EntityWorkoutExercise, "WE1"}, {EntitySet, "S1"}} {
		if _, err := store.Get(c.entity, c.id); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s/%s should be purged, got %v", c.entity, c.id, err)
		}
	}
	if _, err := store.GetWorkout("W2"); err != nil {
		t.Errorf("unrelated workout removed: %v", err)
	}
}

func TestDiscardMutation_DeadLetters(t *testing.T) {
	store := newTestStore(t)

	w, item := workoutCreate("W1", "Legs")
	if err := store.RecordWrite(w, item); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}
	if err := store.MarkMutationError(item.ID, "HTTP 503"); err != nil {
		t.Fatalf("MarkMutationError failed: %v", err)
	}
	item.Attempts = 1

	if err := store.DiscardMutation(item, "rejected", 422); err != nil {
		t.Fatalf("DiscardMutation failed: %v", err)
	}

	if count, _ := store.PendingCount(); count != 0 {
		t.Errorf("PendingCount = %d, want 0", count)
	}

	letters, err := store.DeadLetters(10)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	dl := letters[0]
	if dl.QueueID != item.ID || dl.EntityID != "W1" || dl.Action != ActionCreate {
		t.Errorf("dead letter = %+v", dl)
	}
	if dl.Reason != "rejected" || dl.StatusCode != 422 || dl.Attempts != 2 {
		t.Errorf("dead letter reason/status/attempts = %q/%d/%d", dl.Reason, dl.StatusCode, dl.Attempts)
	}
	if _, err := DecodePayload([]byte(dl.Payload)); err != nil {
		t.Errorf("dead-lettered payload not decodable: %v", err)
	}

	// The record stays local but is no longer waiting on the queue.
	got, err := store.GetWorkout("W1")
	if err != nil {
		t.Fatalf("GetWorkout failed: %v", err)
	}
	if got.SyncState != SyncSynced {
		t.Errorf("SyncState = %q, want synced after discard", got.SyncState)
	}
}

func TestDiscardMutation_DeleteStillPurges(t *testing.T) {
	store := newTestStore(t)

	if err := store.Upsert(&Routine{RecordMeta: RecordMeta{LocalID: "R1", RemoteID: "5"}, Name: "PPL"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	item := &QueueItem{EntityType: EntityRoutine, EntityID: "R1", Action: ActionDelete, Payload: DeletePayload{Entity: EntityRoutine}}
	if err := store.EnqueueMutation(item); err != nil {
		t.Fatalf("EnqueueMutation failed: %v", err)
	}

	if err := store.DiscardMutation(item, "rejected", 404); err != nil {
		t.Fatalf("DiscardMutation failed: %v", err)
	}
	if _, err := store.Get(EntityRoutine, "R1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tombstone should be purged, got %v", err)
	}
}

func TestPendingForAndHasPendingCreate(t *testing.T) {
	store := newTestStore(t)

	w, create := workoutCreate("W1", "Legs")
	if err := store.RecordWrite(w, create); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}
	update := &QueueItem{EntityType: EntityWorkout, EntityID: "W1", Action: ActionUpdate, Payload: WorkoutPayload{Name: "Legs"}}
	if err := store.RecordWrite(w, update); err != nil {
		t.Fatalf("RecordWrite failed: %v", err)
	}

	items, err := store.PendingFor(EntityWorkout, "W1")
	if err != nil {
		t.Fatalf("PendingFor failed: %v", err)
	}
	if len(items) != 2 || items[0].Action != ActionCreate || items[1].Action != ActionUpdate {
		t.Errorf("PendingFor = %v", items)
	}

	ok, err := store.HasPendingCreate(EntityWorkout, "W1")
	if err != nil || !ok {
		t.Errorf("HasPendingCreate = %v, %v; want true", ok, err)
	}

	if err := store.CompleteMutation(create, "9"); err != nil {
		t.Fatalf("CompleteMutation failed: %v", err)
	}
	ok, err = store.HasPendingCreate(EntityWorkout, "W1")
	if err != nil || ok {
		t.Errorf("HasPendingCreate after ack = %v, %v; want false", ok, err)
	}
}

func TestQueue_SurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	for _, id := range []string{"A", "B"} {
		w, item := workoutCreate(id, "w"+id)
		if err := store.RecordWrite(w, item); err != nil {
			t.Fatalf("RecordWrite failed: %v", err)
		}
	}
	store.Close()

	store, err = NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	items, err := store.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 2 || items[0].EntityID != "A" || items[1].EntityID != "B" {
		t.Errorf("items after restart = %v", items)
	}
}

func TestDeadLetters_NewestFirst(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"A", "B"} {
		w, item := workoutCreate(id, "w"+id)
		if err := store.RecordWrite(w, item); err != nil {
			t.Fatalf("RecordWrite failed: %v", err)
		}
		if err := store.DiscardMutation(item, "rejected", 400); err != nil {
			t.Fatalf("DiscardMutation failed: %v", err)
		}
	}

	letters, err := store.DeadLetters(0)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 2 || letters[0].EntityID != "B" {
		t.Errorf("DeadLetters = %v, want B first", letters)
	}
}
