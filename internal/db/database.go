package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	_ "modernc.org/sqlite"
)

type Database struct {
	db  *sql.DB
	now func() time.Time
}

// One lifetime of a live room, from creation until its last member left
type RoomSession struct {
	ID         int        `json:"id"`
	Code       string     `json:"code"`
	OwnerID    string     `json:"owner_id"`
	OwnerName  string     `json:"owner_name"`
	Difficulty int        `json:"difficulty"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

type BugRound struct {
	ID          string    `json:"id"`
	RoomCode    string    `json:"room_code"`
	RequestedBy string    `json:"requested_by"`
	Difficulty  int       `json:"difficulty"`
	Strategies  []string  `json:"strategies"`
	OpCount     int       `json:"op_count"`
	Before      string    `json:"before"`
	After       string    `json:"after"`
	CreatedAt   time.Time `json:"created_at"`
}

type Evaluation struct {
	ID          int       `json:"id"`
	RoomCode    string    `json:"room_code"`
	RequestedBy string    `json:"requested_by"`
	Code        string    `json:"code"`
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	glog.Infof("[db] history store at %s", dbPath)
	return &Database{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		owner_name TEXT NOT NULL DEFAULT '',
		difficulty INTEGER NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_room_sessions_code ON room_sessions(code);

	CREATE TABLE IF NOT EXISTS bug_rounds (
		id TEXT PRIMARY KEY,
		room_code TEXT NOT NULL,
		requested_by TEXT NOT NULL DEFAULT '',
		difficulty INTEGER NOT NULL,
		strategies TEXT NOT NULL DEFAULT '',
		op_count INTEGER NOT NULL DEFAULT 0,
		before_code TEXT NOT NULL,
		after_code TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bug_rounds_room_code ON bug_rounds(room_code, id DESC);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_code TEXT NOT NULL,
		requested_by TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evaluations_room_code ON evaluations(room_code, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room sessions

// Records a newly created room
func (d *Database) RoomOpened(code, ownerID, ownerName string, difficulty int) error {
	_, err := d.db.Exec(
		"INSERT INTO room_sessions (code, owner_id, owner_name, difficulty, opened_at) VALUES (?, ?, ?, ?, ?)",
		code, ownerID, ownerName, difficulty, d.now().UTC(),
	)
	return err
}

// Marks the open session of the room as closed
func (d *Database) RoomClosed(code string) error {
	_, err := d.db.Exec(
		"UPDATE room_sessions SET closed_at = ? WHERE code = ? AND closed_at IS NULL",
		d.now().UTC(), code,
	)
	return err
}

// Lists room sessions, newest first
func (d *Database) ListRoomSessions(limit, offset int) ([]RoomSession, error) {
	rows, err := d.db.Query(`
		SELECT id, code, owner_id, owner_name, difficulty, opened_at, closed_at
		FROM room_sessions
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []RoomSession
	for rows.Next() {
		var s RoomSession
		var closed sql.NullTime
		if err := rows.Scan(&s.ID, &s.Code, &s.OwnerID, &s.OwnerName, &s.Difficulty, &s.OpenedAt, &closed); err != nil {
			return nil, err
		}
		if closed.Valid {
			s.ClosedAt = &closed.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Bug rounds

func (d *Database) SaveRound(r BugRound) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = d.now()
	}
	_, err := d.db.Exec(`
		INSERT INTO bug_rounds (id, room_code, requested_by, difficulty, strategies, op_count, before_code, after_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.RoomCode, r.RequestedBy, r.Difficulty, strings.Join(r.Strategies, ","), r.OpCount, r.Before, r.After, r.CreatedAt.UTC())
	return err
}

const roundColumns = "id, room_code, requested_by, difficulty, strategies, op_count, before_code, after_code, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(s scanner) (BugRound, error) {
	var r BugRound
	var strategies string
	err := s.Scan(&r.ID, &r.RoomCode, &r.RequestedBy, &r.Difficulty, &strategies, &r.OpCount, &r.Before, &r.After, &r.CreatedAt)
	if strategies != "" {
		r.Strategies = strings.Split(strategies, ",")
	}
	return r, err
}

// GetRound returns nil when the round does not exist
func (d *Database) GetRound(id string) (*BugRound, error) {
	row := d.db.QueryRow("SELECT "+roundColumns+" FROM bug_rounds WHERE id = ?", id)

	r, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Lists a room's rounds, newest first. Round ids sort by creation time.
func (d *Database) ListRounds(roomCode string, limit, offset int) ([]BugRound, error) {
	rows, err := d.db.Query(
		"SELECT "+roundColumns+" FROM bug_rounds WHERE room_code = ? ORDER BY id DESC LIMIT ? OFFSET ?",
		roomCode, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []BugRound
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// Room codes that have at least keepCount+1 rounds stored
func (d *Database) RoomsWithRoundsOver(keepCount int) ([]string, error) {
	rows, err := d.db.Query(
		"SELECT room_code FROM bug_rounds GROUP BY room_code HAVING COUNT(*) > ?",
		keepCount,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Deletes all but the newest keepCount rounds of a room
func (d *Database) DeleteOldRounds(roomCode string, keepCount int) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM bug_rounds
		WHERE room_code = ? AND id NOT IN (
			SELECT id FROM bug_rounds
			WHERE room_code = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomCode, roomCode, keepCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Evaluations

func (d *Database) SaveEvaluation(e Evaluation) (*Evaluation, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = d.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	result, err := d.db.Exec(`
		INSERT INTO evaluations (room_code, requested_by, code, result, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.RoomCode, e.RequestedBy, e.Code, e.Result, e.Error, e.CreatedAt)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	e.ID = int(id)
	return &e, nil
}

// Lists a room's evaluations, newest first
func (d *Database) ListEvaluations(roomCode string, limit, offset int) ([]Evaluation, error) {
	rows, err := d.db.Query(`
		SELECT id, room_code, requested_by, code, result, error, created_at
		FROM evaluations
		WHERE room_code = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, roomCode, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluations []Evaluation
	for rows.Next() {
		var e Evaluation
		if err := rows.Scan(&e.ID, &e.RoomCode, &e.RequestedBy, &e.Code, &e.Result, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		evaluations = append(evaluations, e)
	}
	return evaluations, rows.Err()
}

func (d *Database) DeleteEvaluationsBefore(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM evaluations WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"room_session_count", "SELECT COUNT(*) FROM room_sessions"},
		{"bug_round_count", "SELECT COUNT(*) FROM bug_rounds"},
		{"evaluation_count", "SELECT COUNT(*) FROM evaluations"},
	}
	for _, c := range counts {
		var n int
		if err := d.db.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("%s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}
