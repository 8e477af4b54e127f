package bugs

import (
	"slices"
	"unicode/utf8"

	"github.com/shobu13/kindly-kappa/internal/edit"
)

type stepKind int

const (
	keep stepKind = iota
	remove
	insert
)

// A run of the edit script: n kept runes, or one removed or inserted rune
type step struct {
	kind stepKind
	r    rune
	n    int
}

// Diff turns paired lines into single-character replace ops. Ops are ordered
// left to right and each addresses the text produced by the ops before it, so
// edit.Apply(original, ops) yields the mutated text.
func Diff(original, mutated []string) []edit.Replacement {
	var ops []edit.Replacement
	position, deletes := 0, 0

	for i := range max(len(original), len(mutated)) {
		var a, b string
		if i < len(original) {
			a = original[i]
		}
		if i < len(mutated) {
			b = mutated[i]
		}

		if a == b {
			position += utf8.RuneCountInString(a)
			continue
		}

		for _, s := range diffRunes([]rune(a), []rune(b)) {
			switch s.kind {
			case keep:
				position += s.n
				continue
			case remove:
				ops = append(ops, edit.Replacement{From: position - deletes, To: position - deletes + 1, Value: ""})
				deletes++
			case insert:
				ops = append(ops, edit.Replacement{From: position - deletes, To: position - deletes, Value: string(s.r)})
			}
			position++
		}
	}

	return ops
}

// Shortest edit script between two lines. Inside each changed stretch the
// removals come before the insertions. Runs in linear space: the common
// prefix and suffix are cut off and the rest is split at the middle snake
// of Myers' O(ND) algorithm.
func diffRunes(a, b []rune) []step {
	return normalize(script(a, b, nil))
}

func script(a, b []rune, steps []step) []step {
	tail := 0
	for tail < len(a) && tail < len(b) && a[len(a)-1-tail] == b[len(b)-1-tail] {
		tail++
	}
	a, b = a[:len(a)-tail], b[:len(b)-tail]

	head := 0
	for head < len(a) && head < len(b) && a[head] == b[head] {
		head++
	}
	steps = keepRun(steps, head)
	a, b = a[head:], b[head:]

	switch {
	case len(a) == 0:
		steps = insertAll(steps, b)
	case len(b) == 0:
		steps = removeAll(steps, a)
	case len(a) == 1 || len(b) == 1:
		steps = single(a, b, steps)
	default:
		if x, y, ok := middleSnake(a, b); ok {
			steps = script(a[:x], b[:y], steps)
			steps = script(a[x:], b[y:], steps)
		} else {
			steps = removeAll(steps, a)
			steps = insertAll(steps, b)
		}
	}

	return keepRun(steps, tail)
}

// One side is a single rune with nothing in common at either end
func single(a, b []rune, steps []step) []step {
	if len(a) == 1 {
		if i := slices.Index(b, a[0]); i >= 0 {
			steps = insertAll(steps, b[:i])
			steps = keepRun(steps, 1)
			return insertAll(steps, b[i+1:])
		}
	} else if i := slices.Index(a, b[0]); i >= 0 {
		steps = removeAll(steps, a[:i])
		steps = keepRun(steps, 1)
		return removeAll(steps, a[i+1:])
	}
	steps = removeAll(steps, a)
	return insertAll(steps, b)
}

// Finds where the forward and reverse D-paths overlap and returns that point
// as a split of both inputs. ok is false when the inputs share nothing.
func middleSnake(a, b []rune) (x, y int, ok bool) {
	n, m := len(a), len(b)
	maxD := (n + m + 1) / 2
	offset := maxD
	size := 2*maxD + 2

	forward := make([]int, size)
	backward := make([]int, size)
	for i := range forward {
		forward[i] = -1
		backward[i] = -1
	}
	forward[offset+1] = 0
	backward[offset+1] = 0

	delta := n - m
	front := delta%2 != 0
	k1start, k1end, k2start, k2end := 0, 0, 0, 0

	for d := 0; d < maxD; d++ {
		for k1 := -d + k1start; k1 <= d-k1end; k1 += 2 {
			i := offset + k1
			var x1 int
			if k1 == -d || (k1 != d && forward[i-1] < forward[i+1]) {
				x1 = forward[i+1]
			} else {
				x1 = forward[i-1] + 1
			}
			y1 := x1 - k1
			for x1 < n && y1 < m && a[x1] == b[y1] {
				x1++
				y1++
			}
			forward[i] = x1

			switch {
			case x1 > n:
				k1end += 2
			case y1 > m:
				k1start += 2
			case front:
				j := offset + delta - k1
				if j >= 0 && j < size && backward[j] != -1 && x1 >= n-backward[j] {
					return x1, y1, true
				}
			}
		}

		for k2 := -d + k2start; k2 <= d-k2end; k2 += 2 {
			i := offset + k2
			var x2 int
			if k2 == -d || (k2 != d && backward[i-1] < backward[i+1]) {
				x2 = backward[i+1]
			} else {
				x2 = backward[i-1] + 1
			}
			y2 := x2 - k2
			for x2 < n && y2 < m && a[n-x2-1] == b[m-y2-1] {
				x2++
				y2++
			}
			backward[i] = x2

			switch {
			case x2 > n:
				k2end += 2
			case y2 > m:
				k2start += 2
			case !front:
				j := offset + delta - k2
				if j >= 0 && j < size && forward[j] != -1 {
					x1 := forward[j]
					y1 := offset + x1 - j
					if x1 >= n-x2 {
						return x1, y1, true
					}
				}
			}
		}
	}
	return 0, 0, false
}

func keepRun(steps []step, n int) []step {
	if n == 0 {
		return steps
	}
	if last := len(steps) - 1; last >= 0 && steps[last].kind == keep {
		steps[last].n += n
		return steps
	}
	return append(steps, step{kind: keep, n: n})
}

func removeAll(steps []step, runes []rune) []step {
	for _, r := range runes {
		steps = append(steps, step{kind: remove, r: r})
	}
	return steps
}

func insertAll(steps []step, runes []rune) []step {
	for _, r := range runes {
		steps = append(steps, step{kind: insert, r: r})
	}
	return steps
}

// Moves the removals of every changed stretch ahead of its insertions
func normalize(steps []step) []step {
	out := make([]step, 0, len(steps))
	for i := 0; i < len(steps); {
		if steps[i].kind == keep {
			out = keepRun(out, steps[i].n)
			i++
			continue
		}
		j := i
		for j < len(steps) && steps[j].kind != keep {
			j++
		}
		for _, s := range steps[i:j] {
			if s.kind == remove {
				out = append(out, s)
			}
		}
		for _, s := range steps[i:j] {
			if s.kind == insert {
				out = append(out, s)
			}
		}
		i = j
	}
	return out
}
