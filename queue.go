package fitsync

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const queueColumns = "id, entity_type, entity_id, action, payload, created_at, attempts, last_error"

// EnqueueMutation appends a mutation to the durable queue and marks its
// record pending. The item is persisted before this returns; item.ID and
// item.CreatedAt are filled in.
func (s *Store) EnqueueMutation(item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueue(tx, item); err != nil {
		return err
	}
	if err := markPending(tx, item.EntityType, item.EntityID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit enqueue: %w", err)
	}
	return nil
}

// RecordWrite applies an optimistic local write and enqueues its mutation in
// one transaction. Either both are durable or neither is.
func (s *Store) RecordWrite(rec Record, item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if rec == nil || item == nil {
		return fmt.Errorf("%w: nil record or mutation", ErrInvalidRecord)
	}
	if rec.Kind() != item.EntityType || rec.Meta().LocalID != item.EntityID {
		return fmt.Errorf("%w: mutation %s/%s does not target record %s/%s",
			ErrInvalidRecord, item.EntityType, item.EntityID, rec.Kind(), rec.Meta().LocalID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec.Meta().SyncState = SyncPending
	if err := upsertRecord(tx, rec); err != nil {
		return err
	}
	if err := enqueue(tx, item); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit write: %w", err)
	}
	return nil
}

func enqueue(tx *sql.Tx, item *QueueItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil mutation", ErrInvalidRecord)
	}
	if _, err := specFor(item.EntityType); err != nil {
		return err
	}
	if !item.Action.IsValid() {
		return fmt.Errorf("%w: action %q", ErrInvalidRecord, item.Action)
	}
	if item.EntityID == "" {
		return fmt.Errorf("%w: mutation has no entity id", ErrInvalidRecord)
	}

	payload, err := EncodePayload(item.Payload)
	if err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	res, err := tx.Exec(`
		INSERT INTO mutation_queue (entity_type, entity_id, action, payload, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, 0)
	`, item.EntityType, item.EntityID, item.Action, string(payload), formatTime(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: enqueue mutation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: enqueue mutation id: %w", err)
	}
	item.ID = id
	item.RawPayload = string(payload)
	return nil
}

func markPending(tx *sql.Tx, entity EntityType, localID string) error {
	spec, err := specFor(entity)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET synced = 0 WHERE local_id = ?", spec.table), localID); err != nil {
		return fmt.Errorf("store: mark %s pending: %w", entity, err)
	}
	return nil
}

// refreshSynced recomputes a record's sync flag from the queue.
func refreshSynced(tx *sql.Tx, entity EntityType, localID string) error {
	spec, err := specFor(entity)
	if err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf(`
		UPDATE %s SET synced = CASE WHEN EXISTS (
			SELECT 1 FROM mutation_queue WHERE entity_type = ? AND entity_id = ?
		) THEN 0 ELSE 1 END
		WHERE local_id = ?
	`, spec.table), entity, localID, localID)
	if err != nil {
		return fmt.Errorf("store: refresh %s sync flag: %w", entity, err)
	}
	return nil
}

// DequeueBatch returns up to limit queued mutations in FIFO order without
// removing them.
func (s *Store) DequeueBatch(limit int) ([]*QueueItem, error) {
	return s.NextBatch(0, limit)
}

// NextBatch returns up to limit queued mutations with id greater than
// afterID, in FIFO order. Items whose payload cannot be decoded are still
// returned; Decode reports the failure.
func (s *Store) NextBatch(afterID int64, limit int) ([]*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT `+queueColumns+`
		FROM mutation_queue
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: read queue: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(sc scanner) (*QueueItem, error) {
	var (
		item      QueueItem
		payload   string
		createdAt string
		lastError sql.NullString
	)
	if err := sc.Scan(&item.ID, &item.EntityType, &item.EntityID, &item.Action, &payload, &createdAt, &item.Attempts, &lastError); err != nil {
		return nil, fmt.Errorf("store: scan queue item: %w", err)
	}
	item.CreatedAt = parseTime(createdAt)
	item.LastError = lastError.String
	item.RawPayload = payload
	item.Payload, item.decodeErr = DecodePayload([]byte(payload))
	return &item, nil
}

// Decode reports whether the item's persisted payload could be restored.
func (q *QueueItem) Decode() error {
	if q.decodeErr != nil {
		return q.decodeErr
	}
	if q.Payload == nil {
		return fmt.Errorf("queue item %d: %w", q.ID, ErrUnknownPayload)
	}
	return nil
}

// RemoveMutation deletes a queued mutation. Removing a missing id is not an error.
func (s *Store) RemoveMutation(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec("DELETE FROM mutation_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: remove mutation %d: %w", id, err)
	}
	return nil
}

// MarkMutationError records a failed attempt on a queued mutation.
func (s *Store) MarkMutationError(id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE mutation_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, reason, id)
	if err != nil {
		return fmt.Errorf("store: mark mutation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteMutation applies a successful replay: the server id is merged into
// the record, the queue item is removed and the record's sync flag is
// recomputed. An acknowledged DELETE purges the tombstone and its children.
func (s *Store) CompleteMutation(item *QueueItem, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	spec, err := specFor(item.EntityType)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM mutation_queue WHERE id = ?", item.ID); err != nil {
		return fmt.Errorf("store: remove mutation %d: %w", item.ID, err)
	}

	if item.Action == ActionDelete {
		if err := purge(tx, item.EntityType, item.EntityID); err != nil {
			return err
		}
	} else {
		if remoteID != "" {
			_, err := tx.Exec(fmt.Sprintf("UPDATE %s SET remote_id = ? WHERE local_id = ?", spec.table), remoteID, item.EntityID)
			if err != nil {
				return fmt.Errorf("store: merge remote id: %w", err)
			}
		}
		if err := refreshSynced(tx, item.EntityType, item.EntityID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit completion: %w", err)
	}
	return nil
}

// purge removes a record and the child rows that hang off it.
func purge(tx *sql.Tx, entity EntityType, localID string) error {
	var stmts []string
	switch entity {
	case EntityWorkout:
		stmts = []string{
			"DELETE FROM sets WHERE workout_exercise_id IN (SELECT local_id FROM workout_exercises WHERE workout_id = ?)",
			"DELETE FROM workout_exercises WHERE workout_id = ?",
		}
	case EntityWorkoutExercise:
		stmts = []string{"DELETE FROM sets WHERE workout_exercise_id = ?"}
	}

	spec, err := specFor(entity)
	if err != nil {
		return err
	}
	stmts = append(stmts, fmt.Sprintf("DELETE FROM %s WHERE local_id = ?", spec.table))

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, localID); err != nil {
			return fmt.Errorf("store: purge %s: %w", entity, err)
		}
	}
	return nil
}

// DiscardMutation drops a mutation that can never succeed. The item is moved
// to the dead-letter table so the divergence stays observable. A discarded
// DELETE still purges the local tombstone.
func (s *Store) DiscardMutation(item *QueueItem, reason string, statusCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	payload := item.RawPayload
	if payload == "" && item.Payload != nil {
		raw, err := EncodePayload(item.Payload)
		if err == nil {
			payload = string(raw)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status any
	if statusCode > 0 {
		status = statusCode
	}
	_, err = tx.Exec(`
		INSERT INTO mutation_dead_letters
			(queue_id, entity_type, entity_id, action, payload, attempts, reason, status_code, enqueued_at, discarded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.EntityType, item.EntityID, item.Action, payload, item.Attempts+1, reason, status,
		formatTime(item.CreatedAt), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("store: dead-letter mutation %d: %w", item.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM mutation_queue WHERE id = ?", item.ID); err != nil {
		return fmt.Errorf("store: remove mutation %d: %w", item.ID, err)
	}

	if _, specErr := specFor(item.EntityType); specErr == nil {
		if item.Action == ActionDelete {
			err = purge(tx, item.EntityType, item.EntityID)
		} else {
			err = refreshSynced(tx, item.EntityType, item.EntityID)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit discard: %w", err)
	}
	return nil
}

// PendingCount returns the number of queued mutations.
func (s *Store) PendingCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM mutation_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count queue: %w", err)
	}
	return count, nil
}

// PendingFor returns the queued mutations of one record in FIFO order.
func (s *Store) PendingFor(entity EntityType, localID string) ([]*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+queueColumns+`
		FROM mutation_queue
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC
	`, entity, localID)
	if err != nil {
		return nil, fmt.Errorf("store: read queue: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// HasPendingCreate reports whether a CREATE for the record is still queued.
func (s *Store) HasPendingCreate(entity EntityType, localID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM mutation_queue
		WHERE entity_type = ? AND entity_id = ? AND action = ?
		LIMIT 1
	`, entity, localID, ActionCreate).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: lookup pending create: %w", err)
	}
	return true, nil
}

// DeadLetters returns the most recently discarded mutations, newest first.
func (s *Store) DeadLetters(limit int) ([]DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, queue_id, entity_type, entity_id, action, payload, attempts, reason,
		       status_code, enqueued_at, discarded_at
		FROM mutation_dead_letters
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: read dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			dl          DeadLetter
			status      sql.NullInt64
			enqueuedAt  string
			discardedAt string
		)
		if err := rows.Scan(&dl.ID, &dl.QueueID, &dl.EntityType, &dl.EntityID, &dl.Action, &dl.Payload,
			&dl.Attempts, &dl.Reason, &status, &enqueuedAt, &discardedAt); err != nil {
			return nil, fmt.Errorf("store: scan dead letter: %w", err)
		}
		dl.StatusCode = int(status.Int64)
		dl.EnqueuedAt = parseTime(enqueuedAt)
		dl.DiscardedAt = parseTime(discardedAt)
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
