package mcp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hyperengineering/fitsync"
)

// EntityRef is a record's location in the local cache.
type EntityRef struct {
	Entity  fitsync.EntityType
	LocalID string
}

// refPrefixes gives each entity kind a short, readable session prefix.
var refPrefixes = map[fitsync.EntityType]string{
	fitsync.EntityWorkout:         "W",
	fitsync.EntityWorkoutExercise: "E",
	fitsync.EntitySet:             "S",
	fitsync.EntityRoutine:         "R",
}

// Session hands out short refs (W1, E1, S1, ...) for records created or
// listed during one MCP session, so agents do not have to echo ULIDs back.
// Counters are per prefix.
type Session struct {
	mu       sync.Mutex
	refs     map[string]EntityRef
	reverse  map[EntityRef]string
	counters map[string]int
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		refs:     make(map[string]EntityRef),
		reverse:  make(map[EntityRef]string),
		counters: make(map[string]int),
	}
}

// Track returns the session ref of a record, assigning the next one for its
// prefix on first sight.
func (s *Session) Track(entity fitsync.EntityType, localID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := EntityRef{Entity: entity, LocalID: localID}
	if ref, ok := s.reverse[key]; ok {
		return ref
	}

	prefix, ok := refPrefixes[entity]
	if !ok {
		prefix = "X"
	}
	s.counters[prefix]++
	ref := fmt.Sprintf("%s%d", prefix, s.counters[prefix])
	s.refs[ref] = key
	s.reverse[key] = ref
	return ref
}

// Resolve converts a session ref into its record. Refs are case-insensitive.
func (s *Session) Resolve(ref string) (EntityRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refs[strings.ToUpper(ref)]
	return r, ok
}

// LocalID resolves ref when it is a session ref of the given kind and
// otherwise returns it unchanged, treating it as a local id.
func (s *Session) LocalID(entity fitsync.EntityType, ref string) string {
	if r, ok := s.Resolve(ref); ok && r.Entity == entity {
		return r.LocalID
	}
	return ref
}

// Clear forgets every ref and resets the counters.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs = make(map[string]EntityRef)
	s.reverse = make(map[EntityRef]string)
	s.counters = make(map[string]int)
}
