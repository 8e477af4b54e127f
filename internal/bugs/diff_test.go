package bugs

import (
	"runtime"
	"strings"
	"testing"

	"github.com/shobu13/kindly-kappa/internal/edit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Bytes allocated on the heap while f runs
func allocated(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

// Edit distance counting single-rune inserts and removes
func editDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur := make([]int, len(b)+1)
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1]
			} else {
				cur[j] = min(prev[j], cur[j-1]) + 1
			}
		}
		prev = cur
	}
	return prev[len(b)]
}

func TestDiffLongLineSingleBracket(t *testing.T) {
	body := strings.Repeat("x + ", 25_000)
	original := []string{"total = (" + body + "1)\n"}
	mutated := []string{"total = " + body + "1)\n"}

	var ops []edit.Replacement
	bytes := allocated(func() { ops = Diff(original, mutated) })

	require.Len(t, ops, 1)
	assert.Equal(t, edit.Replacement{From: 8, To: 9, Value: ""}, ops[0])
	assert.Less(t, bytes, uint64(10<<20), "diff of a %d rune line allocated %d bytes", len(original[0]), bytes)

	text, err := edit.Apply(original[0], ops)
	require.NoError(t, err)
	assert.Equal(t, mutated[0], text)
}

func TestDiffLongLineScatteredEdits(t *testing.T) {
	rng := newRand(3)
	runes := make([]rune, 20_000)
	for i := range runes {
		runes[i] = rune('a' + rng.IntN(4))
	}
	changed := append([]rune(nil), runes...)
	for i := 1000; i < len(changed); i += 2000 {
		changed[i] = '('
	}
	original, mutated := []string{string(runes)}, []string{string(changed)}

	var ops []edit.Replacement
	bytes := allocated(func() { ops = Diff(original, mutated) })

	assert.LessOrEqual(t, len(ops), 20)
	assert.Less(t, bytes, uint64(10<<20))

	text, err := edit.Apply(original[0], ops)
	require.NoError(t, err)
	assert.Equal(t, mutated[0], text)
}

func TestDiffIsMinimal(t *testing.T) {
	rng := newRand(9)
	word := func() []rune {
		out := make([]rune, rng.IntN(12))
		for i := range out {
			out[i] = []rune("ab(é")[rng.IntN(4)]
		}
		return out
	}

	for i := 0; i < 500; i++ {
		a, b := word(), word()
		ops := Diff([]string{string(a)}, []string{string(b)})
		require.Len(t, ops, editDistance(a, b), "%q -> %q", string(a), string(b))

		text, err := edit.Apply(string(a), ops)
		require.NoError(t, err)
		require.Equal(t, string(b), text, "%q -> %q", string(a), string(b))
	}
}
