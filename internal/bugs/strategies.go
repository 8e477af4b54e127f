package bugs

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// Shrinks a leading four-space indent to two spaces
type Dedent struct{}

func (Dedent) Name() string { return "remove_indentation" }

func (Dedent) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	idx := eligible(original, func(l string) bool { return strings.HasPrefix(l, fourSpaces) })
	for _, s := range sample(rng, len(idx), difficulty) {
		n := idx[s]
		working[n] = strings.Replace(working[n], fourSpaces, twoSpaces, 1)
	}
	return working
}

// Removes the colon closing a block header
type DropColon struct{}

func (DropColon) Name() string { return "remove_end_colon" }

func (DropColon) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	idx := eligible(original, func(l string) bool {
		return strings.HasSuffix(l, ":\n") || strings.HasSuffix(l, ":")
	})
	for _, s := range sample(rng, len(idx), difficulty) {
		n := idx[s]
		switch {
		case strings.HasSuffix(working[n], ":\n"):
			working[n] = strings.TrimSuffix(working[n], ":\n") + "\n"
		case strings.HasSuffix(working[n], ":"):
			working[n] = strings.TrimSuffix(working[n], ":")
		}
	}
	return working
}

// Replaces a reserved word with a decoy
type SwapKeyword struct{}

func (SwapKeyword) Name() string { return "change_keyword" }

func (SwapKeyword) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	matches := wordMatches(original, Keywords, keywordRe)
	for _, s := range sample(rng, len(matches), difficulty) {
		m := matches[s]
		working[m.line] = replaceFirst(working[m.line], keywordRe[m.word], choice(rng, Decoys))
	}
	return working
}

// Comments out non-blank lines
type CommentOut struct{}

func (CommentOut) Name() string { return "comment" }

func (CommentOut) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	idx := eligible(original, func(l string) bool { return strings.TrimSpace(l) != "" })
	for _, s := range sample(rng, len(idx), difficulty) {
		n := idx[s]
		working[n] = "# " + working[n]
	}
	return working
}

// Renames the call sites of functions defined in the buffer. Dunder methods
// and properties are never picked.
type RenameCalls struct{}

func (RenameCalls) Name() string { return "change_function_call_name" }

func (RenameCalls) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	type definition struct {
		line int
		name string
	}

	var defs []definition
	for i, line := range original {
		m := defHeader.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(strings.SplitN(m[2], "(", 2)[0])
		if name == "" || strings.HasPrefix(name, "__") {
			continue
		}
		if i > 0 && strings.TrimSpace(original[i-1]) == "@property" {
			continue
		}
		defs = append(defs, definition{line: i, name: name})
	}

	for _, s := range sample(rng, len(defs), difficulty) {
		def := defs[s]
		call := regexp.MustCompile(`\b` + regexp.QuoteMeta(def.name) + `\(`)
		for i, line := range original {
			if i == def.line || !call.MatchString(line) {
				continue
			}
			working[i] = call.ReplaceAllString(working[i], choice(rng, Decoys)+"(")
		}
	}
	return working
}

// Inserts an unfinished if statement after a random line
type InsertDeadIf struct{}

func (InsertDeadIf) Name() string { return "insert_empty_statements" }

func (InsertDeadIf) Apply(_, working []string, _ int, rng *rand.Rand) []string {
	if len(working) == 0 {
		return working
	}
	n := rng.IntN(len(working))
	line := working[n]
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	working[n] = line + "if " + choice(rng, Decoys) + "\n"
	return working
}

// Turns True into False and back
type FlipBoolean struct{}

func (FlipBoolean) Name() string { return "reverse_booleans" }

func (FlipBoolean) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	matches := wordMatches(original, []string{"True", "False"}, booleanRe)
	for _, s := range sample(rng, len(matches), difficulty) {
		m := matches[s]
		working[m.line] = replaceFirst(working[m.line], booleanRe[m.word], booleanFlip[m.word])
	}
	return working
}

// Turns a comparison into an assignment
type BreakEquality struct{}

func (BreakEquality) Name() string { return "break_equals_statement" }

func (BreakEquality) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	idx := eligible(original, func(l string) bool { return strings.Contains(l, "==") })
	for _, s := range sample(rng, len(idx), difficulty) {
		n := idx[s]
		working[n] = strings.Replace(working[n], "==", "=", 1)
	}
	return working
}

// Swaps a builtin type name for another one
type MixTypes struct{}

func (MixTypes) Name() string { return "mix_type_keywords" }

func (MixTypes) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	matches := wordMatches(original, Types, typeRe)
	for _, s := range sample(rng, len(matches), difficulty) {
		m := matches[s]
		others := make([]string, 0, len(Types)-1)
		for _, t := range Types {
			if t != m.word {
				others = append(others, t)
			}
		}
		working[m.line] = replaceFirst(working[m.line], typeRe[m.word], choice(rng, others))
	}
	return working
}

// Drops or doubles a bracket. Lines with more brackets are picked more often.
type Brackets struct{}

func (Brackets) Name() string { return "add_or_remove_brackets" }

func (Brackets) Apply(original, working []string, difficulty int, rng *rand.Rand) []string {
	type candidate struct {
		line   int
		weight int
	}

	var pool []candidate
	total := 0
	for i, line := range original {
		if w := len(bracketPositions(line)); w > 0 {
			pool = append(pool, candidate{line: i, weight: w})
			total += w
		}
	}

	for range min(difficulty, len(pool)) {
		r := rng.IntN(total)
		pick := 0
		for r >= pool[pick].weight {
			r -= pool[pick].weight
			pick++
		}
		chosen := pool[pick]
		pool = append(pool[:pick], pool[pick+1:]...)
		total -= chosen.weight

		runes := []rune(working[chosen.line])
		positions := bracketPositions(working[chosen.line])
		if len(positions) == 0 {
			continue
		}
		p := positions[rng.IntN(len(positions))]

		var out []rune
		out = append(out, runes[:p]...)
		if rng.IntN(2) == 1 {
			out = append(out, runes[p], runes[p])
		}
		out = append(out, runes[p+1:]...)
		working[chosen.line] = string(out)
	}
	return working
}

func bracketPositions(line string) []int {
	var positions []int
	for i, r := range []rune(line) {
		switch r {
		case '(', ')', '[', ']':
			positions = append(positions, i)
		}
	}
	return positions
}
