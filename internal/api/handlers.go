package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/shobu13/kindly-kappa/internal/db"
	"github.com/shobu13/kindly-kappa/internal/protocol"
	"github.com/shobu13/kindly-kappa/internal/room"
)

// Reads the last mirrored sync of a room
type StateReader interface {
	State(ctx context.Context, code string) ([]byte, error)
}

type API struct {
	registry *room.Registry
	database *db.Database
	mirror   StateReader
}

// database and mirror may be nil; the endpoints that need them answer 503
func New(registry *room.Registry, database *db.Database, mirror StateReader) *API {
	return &API{
		registry: registry,
		database: database,
		mirror:   mirror,
	}
}

func (a *API) Routes(r *mux.Router) {
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", a.StatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms", a.ListRoomsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}", a.GetRoomHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/state", a.MirroredStateHandler).Methods(http.MethodGet)
	api.HandleFunc("/history/rooms", a.ListRoomHistoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/rounds", a.ListRoundsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rounds/{id}", a.GetRoundHandler).Methods(http.MethodGet)
	api.HandleFunc("/evaluations", a.ListEvaluationsHandler).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusNotFound, "Not found")
	})
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		glog.Errorf("[api] encode response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}

	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) requireDatabase(w http.ResponseWriter) bool {
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "History store disabled")
		return false
	}
	return true
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":    a.registry.RoomCount(),
		"active_sessions": a.registry.SessionCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err != nil {
			glog.Errorf("[api] history stats: %v", err)
		} else {
			for k, v := range dbStats {
				stats[k] = v
			}
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Live rooms

type CursorResponse struct {
	UserID   string            `json:"user_id"`
	Position protocol.Position `json:"position"`
}

type RoomResponse struct {
	room.Summary
	Collaborators []protocol.Collaborator `json:"collaborators"`
	Cursors       []CursorResponse        `json:"cursors"`
	Buffer        string                  `json:"buffer"`
	Elapsed       protocol.Time           `json:"elapsed"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.registry.Rooms()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"total": len(rooms),
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	rm, ok := a.registry.Get(code)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	state := rm.Sync("")
	cursors := make([]CursorResponse, 0)
	for id, pos := range rm.Cursors() {
		cursors = append(cursors, CursorResponse{UserID: string(id), Position: pos})
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].UserID < cursors[j].UserID })

	jsonResponse(w, http.StatusOK, RoomResponse{
		Summary: room.Summary{
			Code:       rm.Code,
			OwnerID:    state.OwnerID,
			Difficulty: rm.Difficulty,
			Members:    len(state.Collaborators),
			CreatedAt:  rm.CreatedAt,
		},
		Collaborators: state.Collaborators,
		Cursors:       cursors,
		Buffer:        state.Code,
		Elapsed:       state.Time,
	})
}

// Serves the sync last mirrored to redis, which may come from another instance
func (a *API) MirroredStateHandler(w http.ResponseWriter, r *http.Request) {
	if a.mirror == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Mirror disabled")
		return
	}

	code := mux.Vars(r)["code"]
	state, err := a.mirror.State(r.Context(), code)
	if err != nil {
		glog.Errorf("[api] mirrored state of room %s: %v", code, err)
		errorResponse(w, http.StatusBadGateway, "Failed to read mirrored state")
		return
	}
	if state == nil {
		errorResponse(w, http.StatusNotFound, "No mirrored state")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(state)
}

// History

func (a *API) ListRoomHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireDatabase(w) {
		return
	}
	limit, offset := pagination(r, 20)

	sessions, err := a.database.ListRoomSessions(limit, offset)
	if err != nil {
		glog.Errorf("[api] list room sessions: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}
	if sessions == nil {
		sessions = []db.RoomSession{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  sessions,
		"limit":  limit,
		"offset": offset,
	})
}

type RoundResponse struct {
	ID          string     `json:"id"`
	RoomCode    string     `json:"room_code"`
	RequestedBy string     `json:"requested_by"`
	Difficulty  int        `json:"difficulty"`
	Strategies  []string   `json:"strategies"`
	OpCount     int        `json:"op_count"`
	CreatedAt   time.Time  `json:"created_at"`
	Before      string     `json:"before,omitempty"` // omitted in list view
	After       string     `json:"after,omitempty"`
	Diff        []DiffLine `json:"diff,omitempty"`
}

func roundResponse(r db.BugRound) RoundResponse {
	strategies := r.Strategies
	if strategies == nil {
		strategies = []string{}
	}
	return RoundResponse{
		ID:          r.ID,
		RoomCode:    r.RoomCode,
		RequestedBy: r.RequestedBy,
		Difficulty:  r.Difficulty,
		Strategies:  strategies,
		OpCount:     r.OpCount,
		CreatedAt:   r.CreatedAt,
	}
}

func (a *API) ListRoundsHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireDatabase(w) {
		return
	}

	code := r.URL.Query().Get("room")
	if code == "" {
		errorResponse(w, http.StatusBadRequest, "room is required")
		return
	}
	limit, offset := pagination(r, 50)

	rounds, err := a.database.ListRounds(code, limit, offset)
	if err != nil {
		glog.Errorf("[api] list rounds of room %s: %v", code, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rounds")
		return
	}

	response := make([]RoundResponse, len(rounds))
	for i, round := range rounds {
		response[i] = roundResponse(round)
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rounds": response,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRoundHandler returns a round with its full text and a line diff
func (a *API) GetRoundHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireDatabase(w) {
		return
	}

	id := mux.Vars(r)["id"]
	round, err := a.database.GetRound(id)
	if err != nil {
		glog.Errorf("[api] get round %s: %v", id, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get round")
		return
	}
	if round == nil {
		errorResponse(w, http.StatusNotFound, "Round not found")
		return
	}

	response := roundResponse(*round)
	response.Before = round.Before
	response.After = round.After
	response.Diff = computeDiff(round.Before, round.After)
	jsonResponse(w, http.StatusOK, response)
}

func (a *API) ListEvaluationsHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireDatabase(w) {
		return
	}

	code := r.URL.Query().Get("room")
	if code == "" {
		errorResponse(w, http.StatusBadRequest, "room is required")
		return
	}
	limit, offset := pagination(r, 50)

	evaluations, err := a.database.ListEvaluations(code, limit, offset)
	if err != nil {
		glog.Errorf("[api] list evaluations of room %s: %v", code, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list evaluations")
		return
	}
	if evaluations == nil {
		evaluations = []db.Evaluation{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"evaluations": evaluations,
		"limit":       limit,
		"offset":      offset,
	})
}

// DiffLine represents a single line in a diff
type DiffLine struct {
	Type    string `json:"type"` // "added", "removed", "unchanged"
	Content string `json:"content"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// computeDiff performs a line-by-line diff using LCS
func computeDiff(oldContent, newContent string) []DiffLine {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	lcs := lcsMatrix(oldLines, newLines)
	return backtrackDiff(oldLines, newLines, lcs)
}

func lcsMatrix(a, b []string) [][]int {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}
	return dp
}

func backtrackDiff(oldLines, newLines []string, lcs [][]int) []DiffLine {
	i, j := len(oldLines), len(newLines)

	// walks from the end, so the lines come out reversed
	var stack []DiffLine
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && oldLines[i-1] == newLines[j-1]:
			stack = append(stack, DiffLine{Type: "unchanged", Content: oldLines[i-1], OldLine: i, NewLine: j})
			i--
			j--
		case j > 0 && (i == 0 || lcs[i][j-1] >= lcs[i-1][j]):
			stack = append(stack, DiffLine{Type: "added", Content: newLines[j-1], NewLine: j})
			j--
		default:
			stack = append(stack, DiffLine{Type: "removed", Content: oldLines[i-1], OldLine: i})
			i--
		}
	}

	result := make([]DiffLine, 0, len(stack))
	for k := len(stack) - 1; k >= 0; k-- {
		result = append(result, stack[k])
	}
	return result
}
