package edit

import (
	"errors"
	"fmt"
	"strings"
)

// One indentation level as the editor inserts it
const IndentUnit = "    "

var ErrOutOfRange = errors.New("replacement out of range")

// A positional splice: delete [From, To) then insert Value at From.
// Offsets count code points, not bytes.
type Replacement struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Value string `json:"value"`
}

// Applies a batch left to right, each op against the text produced by the
// previous one. The batch is all or nothing.
func Apply(text string, ops []Replacement) (string, error) {
	if len(ops) == 0 {
		return text, nil
	}

	buf := []rune(text)
	for i, op := range ops {
		if op.From < 0 || op.From > op.To || op.To > len(buf) {
			return text, fmt.Errorf("op %d [%d, %d) on length %d: %w", i, op.From, op.To, len(buf), ErrOutOfRange)
		}

		value := []rune(op.Value)
		next := make([]rune, 0, len(buf)-(op.To-op.From)+len(value))
		next = append(next, buf[:op.From]...)
		next = append(next, value...)
		next = append(next, buf[op.To:]...)
		buf = next
	}

	return string(buf), nil
}

// Restores the newline and indent the editor drops when a line is de-indented.
// The editor sends exactly two ops in that case and the second one arrives with
// bare (or no) whitespace. This only holds for the bundled front-end.
func FixDedent(ops []Replacement) []Replacement {
	if len(ops) != 2 {
		return ops
	}

	second := ops[1]
	if strings.Contains(second.Value, "\n") || strings.TrimSpace(second.Value) != "" {
		return ops
	}

	fixed := make([]Replacement, 2)
	copy(fixed, ops)
	fixed[1].Value = "\n" + IndentUnit
	return fixed
}
