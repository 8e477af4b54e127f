package bugs

import (
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
)

// A way of corrupting source lines. Targets are picked among the original
// lines and edited in working, which earlier strategies may already have
// changed; original is never written to. Implementations must return exactly
// as many lines as they receive so the diff can pair them up.
type Strategy interface {
	Name() string
	Apply(original, working []string, difficulty int, rng *rand.Rand) []string
}

// Runs one strategy on its own over lines
func ApplyOne(s Strategy, lines []string, difficulty int, rng *rand.Rand) []string {
	return s.Apply(lines, slices.Clone(lines), difficulty, rng)
}

const (
	fourSpaces = "    "
	twoSpaces  = "  "
)

// Tokens that replace real identifiers and keywords
var Decoys = []string{"cj9_kappa", "kindly_kappas", "buggy_feature", "jammers"}

var Types = []string{"bool", "int", "float", "bin", "str", "list", "tuple"}

var Keywords = []string{
	"False", "None", "True", "and", "as", "assert", "async", "await", "break",
	"class", "continue", "def", "del", "elif", "else", "except", "finally",
	"for", "from", "global", "if", "import", "in", "is", "lambda", "nonlocal",
	"not", "or", "pass", "raise", "return", "try", "while", "with", "yield",
}

var (
	defHeader   = regexp.MustCompile(`^\s*(async\s+def|def)\s(.*):`)
	keywordRe   = wordPatterns(Keywords)
	typeRe      = wordPatterns(Types)
	booleanRe   = wordPatterns([]string{"True", "False"})
	booleanFlip = map[string]string{"True": "False", "False": "True"}
)

// Highest difficulty a room may be created with: one strategy per level
const MaxDifficulty = 10

// The fixed strategy set, in selection order
func Registry() []Strategy {
	return []Strategy{
		Dedent{},
		DropColon{},
		SwapKeyword{},
		CommentOut{},
		RenameCalls{},
		InsertDeadIf{},
		FlipBoolean{},
		BreakEquality{},
		MixTypes{},
		Brackets{},
	}
}

func wordPatterns(words []string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(words))
	for _, w := range words {
		patterns[w] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return patterns
}

// Picks min(k, n) distinct indices out of [0, n)
func sample(rng *rand.Rand, n, k int) []int {
	k = min(k, n)
	if k <= 0 {
		return nil
	}
	return rng.Perm(n)[:k]
}

func choice(rng *rand.Rand, items []string) string {
	return items[rng.IntN(len(items))]
}

func replaceFirst(line string, re *regexp.Regexp, repl string) string {
	loc := re.FindStringIndex(line)
	if loc == nil {
		return line
	}
	return line[:loc[0]] + repl + line[loc[1]:]
}

type match struct {
	line int
	word string
}

// Every (line, word) pair where word occurs on line, in line then word order
func wordMatches(lines []string, words []string, patterns map[string]*regexp.Regexp) []match {
	var matches []match
	for i, line := range lines {
		for _, w := range words {
			if patterns[w].MatchString(line) {
				matches = append(matches, match{line: i, word: w})
			}
		}
	}
	return matches
}

func eligible(lines []string, keep func(string) bool) []int {
	var idx []int
	for i, line := range lines {
		if keep(line) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Splits text after every newline. The final line keeps no newline if the
// text did not end with one.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
