package fitsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the data needed to replay a mutation remotely. The set of
// implementations is closed: WorkoutPayload, WorkoutExercisePayload,
// SetPayload, RoutinePayload and DeletePayload.
type Payload interface {
	Kind() EntityType
	isPayload()
}

// WorkoutPayload carries workout fields for CREATE and UPDATE.
type WorkoutPayload struct {
	Name      string     `json:"name"`
	Notes     string     `json:"notes,omitempty"`
	RoutineID string     `json:"routine_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// WorkoutExercisePayload carries a workout exercise. WorkoutID is the parent
// workout's local id.
type WorkoutExercisePayload struct {
	WorkoutID  string `json:"workout_id"`
	ExerciseID string `json:"exercise_id"`
	Position   int    `json:"position"`
}

// SetPayload carries a set. WorkoutExerciseID is the parent's local id.
type SetPayload struct {
	WorkoutExerciseID string    `json:"workout_exercise_id"`
	Weight            float64   `json:"weight"`
	Reps              int       `json:"reps"`
	RPE               *float64  `json:"rpe,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}

// RoutinePayload carries routine fields.
type RoutinePayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ExerciseIDs []string `json:"exercise_ids,omitempty"`
}

// DeletePayload is the payload of every DELETE; the target is identified by
// the queue item alone.
type DeletePayload struct {
	Entity EntityType `json:"entity"`
}

func (WorkoutPayload) Kind() EntityType         { return EntityWorkout }
func (WorkoutExercisePayload) Kind() EntityType { return EntityWorkoutExercise }
func (SetPayload) Kind() EntityType             { return EntitySet }
func (RoutinePayload) Kind() EntityType         { return EntityRoutine }
func (p DeletePayload) Kind() EntityType        { return p.Entity }

func (WorkoutPayload) isPayload()         {}
func (WorkoutExercisePayload) isPayload() {}
func (SetPayload) isPayload()             {}
func (RoutinePayload) isPayload()         {}
func (DeletePayload) isPayload()          {}

// payloadEnvelope is the persisted form of a Payload.
type payloadEnvelope struct {
	Type   string          `json:"type"`
	Delete bool            `json:"delete,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// EncodePayload serializes a payload into its tagged JSON envelope.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: %w", ErrUnknownPayload)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	_, isDelete := p.(DeletePayload)
	return json.Marshal(payloadEnvelope{Type: string(p.Kind()), Delete: isDelete, Data: data})
}

// DecodePayload restores a payload from its tagged JSON envelope.
func DecodePayload(raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if env.Delete {
		var p DeletePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode delete payload: %w", err)
		}
		if p.Entity != EntityType(env.Type) {
			return nil, fmt.Errorf("decode delete payload: tag %q does not match entity %q: %w", env.Type, p.Entity, ErrUnknownPayload)
		}
		return p, nil
	}

	switch EntityType(env.Type) {
	case EntityWorkout:
		return decodeAs[WorkoutPayload](env.Data)
	case EntityWorkoutExercise:
		return decodeAs[WorkoutExercisePayload](env.Data)
	case EntitySet:
		return decodeAs[SetPayload](env.Data)
	case EntityRoutine:
		return decodeAs[RoutinePayload](env.Data)
	default:
		return nil, fmt.Errorf("decode payload: type %q: %w", env.Type, ErrUnknownPayload)
	}
}

func decodeAs[T Payload](data json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %T: %w", p, err)
	}
	return p, nil
}

// parentLocalID returns the local id of the record a CREATE depends on, if any.
func parentLocalID(p Payload) (EntityType, string) {
	switch v := p.(type) {
	case WorkoutExercisePayload:
		return EntityWorkout, v.WorkoutID
	case SetPayload:
		return EntityWorkoutExercise, v.WorkoutExerciseID
	default:
		return "", ""
	}
}
