// Package mcp exposes the fitsync client as MCP tools so an agent can log
// workouts and inspect sync state over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/fitsync"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server with fitsync tools.
type Server struct {
	client    *fitsync.Client
	mcpServer *server.MCPServer
	session   *Session
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{Name: "fitsync_start_workout", Description: "Start a new workout. Works offline; the workout is synced when connectivity allows."},
	{Name: "fitsync_add_exercise", Description: "Add an exercise to a workout."},
	{Name: "fitsync_add_set", Description: "Log a set for a workout exercise and report new personal records."},
	{Name: "fitsync_finish_workout", Description: "Mark a workout as finished."},
	{Name: "fitsync_status", Description: "Show connectivity, sync status and the number of queued mutations."},
	{Name: "fitsync_sync", Description: "Replay queued mutations against the API now."},
	{Name: "fitsync_pending", Description: "List queued mutations in replay order."},
}

// NewServer creates a new MCP server with fitsync tools registered.
func NewServer(client *fitsync.Client) *Server {
	s := &Server{
		client:  client,
		session: NewSession(),
	}

	s.mcpServer = server.NewMCPServer(
		"fitsync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// Run starts the MCP server, reading from stdin and writing to stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
// This is primarily for testing the MCP protocol layer.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), toolInfos...)
}

// CallTool executes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "fitsync_start_workout":
		return s.handleStartWorkout(ctx, args)
	case "fitsync_add_exercise":
		return s.handleAddExercise(ctx, args)
	case "fitsync_add_set":
		return s.handleAddSet(ctx, args)
	case "fitsync_finish_workout":
		return s.handleFinishWorkout(ctx, args)
	case "fitsync_status":
		return s.handleStatus(ctx, args)
	case "fitsync_sync":
		return s.handleSync(ctx, args)
	case "fitsync_pending":
		return s.handlePending(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("fitsync_start_workout",
		mcp.WithDescription(toolInfos[0].Description+" Returns a session ref (W1, W2, ...) usable in later calls."),
		mcp.WithString("name",
			mcp.Description("Workout name, e.g. 'Leg day'"),
			mcp.Required(),
		),
		mcp.WithString("notes",
			mcp.Description("Free-form notes"),
		),
		mcp.WithString("routine",
			mcp.Description("Routine session ref or local id the workout follows"),
		),
	), s.wrap(s.handleStartWorkout))

	s.mcpServer.AddTool(mcp.NewTool("fitsync_add_exercise",
		mcp.WithDescription(toolInfos[1].Description+" Returns a session ref (E1, E2, ...)."),
		mcp.WithString("workout",
			mcp.Description("Workout session ref (W1) or local id"),
			mcp.Required(),
		),
		mcp.WithString("exercise_id",
			mcp.Description("Catalog exercise id"),
			mcp.Required(),
		),
	), s.wrap(s.handleAddExercise))

	s.mcpServer.AddTool(mcp.NewTool("fitsync_add_set",
		mcp.WithDescription(toolInfos[2].Description),
		mcp.WithString("workout_exercise",
			mcp.Description("Workout exercise session ref (E1) or local id"),
			mcp.Required(),
		),
		mcp.WithNumber("weight",
			mcp.Description("Weight lifted"),
			mcp.Required(),
		),
		mcp.WithNumber("reps",
			mcp.Description("Repetitions performed"),
			mcp.Required(),
		),
		mcp.WithNumber("rpe",
			mcp.Description("Rate of perceived exertion, 1-10"),
		),
	), s.wrap(s.handleAddSet))

	s.mcpServer.AddTool(mcp.NewTool("fitsync_finish_workout",
		mcp.WithDescription(toolInfos[3].Description),
		mcp.WithString("workout",
			mcp.Description("Workout session ref (W1) or local id"),
			mcp.Required(),
		),
	), s.wrap(s.handleFinishWorkout))

	s.mcpServer.AddTool(mcp.NewTool("fitsync_status",
		mcp.WithDescription(toolInfos[4].Description),
	), s.wrap(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("fitsync_sync",
		mcp.WithDescription(toolInfos[5].Description+" Fails while offline."),
	), s.wrap(s.handleSync))

	s.mcpServer.AddTool(mcp.NewTool("fitsync_pending",
		mcp.WithDescription(toolInfos[6].Description),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of mutations to list (default: 20)"),
		),
	), s.wrap(s.handlePending))
}

type handlerFunc func(ctx context.Context, args map[string]any) (*ToolResult, error)

// wrap adapts an internal handler to the mcp-go handler signature.
func (s *Server) wrap(h handlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

func errorResult(format string, args ...any) (*ToolResult, error) {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}

// Internal handlers

func (s *Server) handleStartWorkout(ctx context.Context, args map[string]any) (*ToolResult, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return errorResult("name is required")
	}

	params := fitsync.StartWorkoutParams{Name: name}
	params.Notes, _ = args["notes"].(string)
	if routine, ok := args["routine"].(string); ok && routine != "" {
		params.RoutineID = s.session.LocalID(fitsync.EntityRoutine, routine)
	}

	w, err := s.client.StartWorkout(ctx, params)
	if err != nil {
		return errorResult("start workout failed: %v", err)
	}

	ref := s.session.Track(fitsync.EntityWorkout, w.LocalID)
	return &ToolResult{Content: fmt.Sprintf("Started workout [%s] %q (id %s)", ref, w.Name, w.LocalID)}, nil
}

func (s *Server) handleAddExercise(ctx context.Context, args map[string]any) (*ToolResult, error) {
	workout, _ := args["workout"].(string)
	exerciseID, _ := args["exercise_id"].(string)
	if workout == "" || exerciseID == "" {
		return errorResult("workout and exercise_id are required")
	}

	we, err := s.client.AddExercise(ctx, s.session.LocalID(fitsync.EntityWorkout, workout), exerciseID)
	if err != nil {
		return errorResult("add exercise failed: %v", err)
	}

	ref := s.session.Track(fitsync.EntityWorkoutExercise, we.LocalID)
	return &ToolResult{Content: fmt.Sprintf("Added %s to %s as [%s] (position %d)", exerciseID, workout, ref, we.Position+1)}, nil
}

func (s *Server) handleAddSet(ctx context.Context, args map[string]any) (*ToolResult, error) {
	weRef, _ := args["workout_exercise"].(string)
	if weRef == "" {
		return errorResult("workout_exercise is required")
	}
	weight, ok := args["weight"].(float64)
	if !ok {
		return errorResult("weight is required")
	}
	reps, ok := args["reps"].(float64)
	if !ok {
		return errorResult("reps is required")
	}

	params := fitsync.AddSetParams{
		WorkoutExerciseID: s.session.LocalID(fitsync.EntityWorkoutExercise, weRef),
		Weight:            weight,
		Reps:              int(reps),
	}
	if rpe, ok := args["rpe"].(float64); ok {
		params.RPE = &rpe
	}

	res, err := s.client.AddSet(ctx, params)
	if err != nil {
		return errorResult("add set failed: %v", err)
	}

	ref := s.session.Track(fitsync.EntitySet, res.Set.LocalID)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Logged set [%s]: %g x %d", ref, res.Set.Weight, res.Set.Reps)
	if res.PersonalRecord != nil {
		fmt.Fprintf(&sb, "\nNew personal record for %s: %g x %d", res.PersonalRecord.ExerciseID, res.PersonalRecord.Weight, res.PersonalRecord.Reps)
	}
	return &ToolResult{Content: sb.String()}, nil
}

func (s *Server) handleFinishWorkout(ctx context.Context, args map[string]any) (*ToolResult, error) {
	workout, _ := args["workout"].(string)
	if workout == "" {
		return errorResult("workout is required")
	}

	w, err := s.client.FinishWorkout(ctx, s.session.LocalID(fitsync.EntityWorkout, workout))
	if err != nil {
		return errorResult("finish workout failed: %v", err)
	}
	return &ToolResult{Content: fmt.Sprintf("Finished workout %q after %s", w.Name, w.EndedAt.Sub(w.StartedAt).Round(time.Second))}, nil
}

func (s *Server) handleStatus(ctx context.Context, args map[string]any) (*ToolResult, error) {
	state := s.client.State()

	var sb strings.Builder
	connectivity := "offline"
	if s.client.Online() {
		connectivity = "online"
	}
	fmt.Fprintf(&sb, "Connectivity: %s\n", connectivity)
	fmt.Fprintf(&sb, "Status: %s\n", state.Status)
	fmt.Fprintf(&sb, "Pending mutations: %d\n", state.PendingCount)
	if state.LastSyncAt.IsZero() {
		sb.WriteString("Last sync: never\n")
	} else {
		fmt.Fprintf(&sb, "Last sync: %s\n", state.LastSyncAt.Format("2006-01-02 15:04:05"))
	}
	if state.LastError != "" {
		fmt.Fprintf(&sb, "Last error: %s\n", state.LastError)
	}
	if stats, err := s.client.Stats(); err == nil && stats.DeadLetters > 0 {
		fmt.Fprintf(&sb, "Discarded mutations: %d\n", stats.DeadLetters)
	}
	return &ToolResult{Content: sb.String()}, nil
}

func (s *Server) handleSync(ctx context.Context, args map[string]any) (*ToolResult, error) {
	res, err := s.client.ForceSync(ctx)
	switch {
	case errors.Is(err, fitsync.ErrNoRemote):
		return errorResult("sync unavailable: no API configured")
	case errors.Is(err, fitsync.ErrOffline):
		return errorResult("sync unavailable: device is offline")
	case err != nil:
		return errorResult("sync failed: %v", err)
	}

	if res.Skipped {
		return &ToolResult{Content: "A sync pass is already running"}, nil
	}
	return &ToolResult{Content: fmt.Sprintf("Sync completed: %d replayed, %d retrying, %d discarded, %d waiting",
		res.Replayed, res.Transient, res.Discarded, res.Blocked)}, nil
}

func (s *Server) handlePending(ctx context.Context, args map[string]any) (*ToolResult, error) {
	limit := 20
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	items, err := s.client.PendingMutations(limit)
	if err != nil {
		return errorResult("list pending failed: %v", err)
	}
	if len(items) == 0 {
		return &ToolResult{Content: "No pending mutations."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pending mutations:\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&sb, "  #%d %s %s %s", item.ID, item.Action, item.EntityType, s.displayRef(item.EntityType, item.EntityID))
		if item.Attempts > 0 {
			fmt.Fprintf(&sb, " (attempts %d, last error: %s)", item.Attempts, truncate(item.LastError, 80))
		}
		sb.WriteString("\n")
	}
	return &ToolResult{Content: sb.String()}, nil
}

// displayRef prefers a session ref the agent already knows.
func (s *Server) displayRef(entity fitsync.EntityType, localID string) string {
	ref := s.session.Track(entity, localID)
	return fmt.Sprintf("[%s] %s", ref, localID)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
