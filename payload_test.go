package fitsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_EnvelopeIsTagged(t *testing.T) {
	raw, err := EncodePayload(SetPayload{WorkoutExerciseID: "WE1", Weight: 60, Reps: 10})
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.JSONEq(t, `"set"`, string(env["type"]))
	_, hasDelete := env["delete"]
	assert.False(t, hasDelete)
}

func TestPayload_EveryVariantDecodesToItsType(t *testing.T) {
	ended := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payloads := []Payload{
		WorkoutPayload{Name: "Legs", StartedAt: ended.Add(-time.Hour), EndedAt: &ended},
		WorkoutExercisePayload{WorkoutID: "W1", ExerciseID: "squat", Position: 2},
		SetPayload{WorkoutExerciseID: "WE1", Weight: 100, Reps: 5},
		RoutinePayload{Name: "PPL", ExerciseIDs: []string{"bench"}},
		DeletePayload{Entity: EntitySet},
	}

	for _, p := range payloads {
		raw, err := EncodePayload(p)
		require.NoError(t, err)
		got, err := DecodePayload(raw)
		require.NoError(t, err)
		assert.IsType(t, p, got)
		assert.Equal(t, p.Kind(), got.Kind())
	}
}

func TestDecodePayload_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":         `nope`,
		"unknown tag":      `{"type":"cardio","data":{}}`,
		"delete tag clash": `{"type":"set","delete":true,"data":{"entity":"workout"}}`,
		"bad variant data": `{"type":"set","data":{"reps":"many"}}`,
		"personal record":  `{"type":"personal_record","data":{}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayload([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestEncodePayload_Nil(t *testing.T) {
	_, err := EncodePayload(nil)
	assert.ErrorIs(t, err, ErrUnknownPayload)
}

func TestParentLocalID(t *testing.T) {
	entity, id := parentLocalID(SetPayload{WorkoutExerciseID: "WE1"})
	assert.Equal(t, EntityWorkoutExercise, entity)
	assert.Equal(t, "WE1", id)

	entity, id = parentLocalID(WorkoutExercisePayload{WorkoutID: "W1"})
	assert.Equal(t, EntityWorkout, entity)
	assert.Equal(t, "W1", id)

	entity, id = parentLocalID(RoutinePayload{})
	assert.Empty(t, entity)
	assert.Empty(t, id)
}
