package retention

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shobu13/kindly-kappa/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func saveRounds(t *testing.T, database *db.Database, code string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, database.SaveRound(db.BugRound{
			ID:         fmt.Sprintf("01HQZ%s%s%02d", code, "00000000000000000", i),
			RoomCode:   code,
			Difficulty: 1,
			Strategies: []string{"remove_end_colon"},
			OpCount:    1,
		}))
	}
}

func TestRunNowPrunesRounds(t *testing.T) {
	database := setupTestDB(t)
	saveRounds(t, database, "aa", 5)
	saveRounds(t, database, "bb", 2)

	s := New(database, Config{Interval: time.Hour, KeepRounds: 3})
	result := s.RunNow()
	assert.Equal(t, int64(2), result.Rounds)
	assert.Zero(t, result.Evaluations)

	rounds, err := database.ListRounds("aa", 10, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 3)
	assert.Equal(t, "01HQZaa0000000000000000004", rounds[0].ID, "newest rounds survive")
	assert.Equal(t, "01HQZaa0000000000000000002", rounds[2].ID)

	rounds, err = database.ListRounds("bb", 10, 0)
	require.NoError(t, err)
	assert.Len(t, rounds, 2)

	assert.Equal(t, Result{}, s.RunNow(), "second pass has nothing to do")
}

func TestRunNowPrunesEvaluations(t *testing.T) {
	database := setupTestDB(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := database.SaveEvaluation(db.Evaluation{RoomCode: "aa", Code: "old", CreatedAt: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = database.SaveEvaluation(db.Evaluation{RoomCode: "aa", Code: "new", CreatedAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	s := New(database, Config{Interval: time.Hour, KeepRounds: 10, EvaluationMaxAge: 24 * time.Hour})
	s.now = func() time.Time { return now }

	result := s.RunNow()
	assert.Equal(t, int64(1), result.Evaluations)

	evaluations, err := database.ListEvaluations("aa", 10, 0)
	require.NoError(t, err)
	require.Len(t, evaluations, 1)
	assert.Equal(t, "new", evaluations[0].Code)
}

func TestNoEvaluationMaxAgeKeepsAll(t *testing.T) {
	database := setupTestDB(t)
	_, err := database.SaveEvaluation(db.Evaluation{RoomCode: "aa", Code: "old", CreatedAt: time.Now().Add(-10000 * time.Hour)})
	require.NoError(t, err)

	s := New(database, Config{Interval: time.Hour, KeepRounds: 10})
	assert.Zero(t, s.RunNow().Evaluations)
}

func TestStartStop(t *testing.T) {
	database := setupTestDB(t)
	saveRounds(t, database, "aa", 4)

	s := New(database, Config{Interval: 10 * time.Millisecond, KeepRounds: 1})
	s.Start()

	assert.Eventually(t, func() bool {
		rounds, err := database.ListRounds("aa", 10, 0)
		return err == nil && len(rounds) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}
