package classify

import (
	"regexp"
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/lazypower/mnemos/internal/store"
)

// Keyword cues per gate. Matched on lowercased text at word boundaries.
var cues = map[store.Gate][]string{
	store.GateCorrection: {
		"actually", "correction", "i was wrong", "that's wrong", "that is wrong", "not anymore",
		"no longer", "scratch that", "i meant", "turns out", "changed to", "update:", "not true",
	},
	store.GatePromissory: {
		"i'll", "i will", "i'm going to", "i am going to", "going to", "plan to", "planning to",
		"promise", "promised", "might", "maybe i", "thinking about", "want to try", "will try",
		"remind me", "follow up", "by tomorrow", "next week", "deadline", "commit to",
	},
	store.GateRelational: {
		"my manager", "my boss", "my wife", "my husband", "my partner", "my friend", "my colleague",
		"my coworker", "my teammate", "my mom", "my dad", "my mother", "my father", "my sister",
		"my brother", "my son", "my daughter", "reports to", "works with", "is married to",
	},
	store.GateBehavioral: {
		"prefer", "prefers", "preferred", "always", "never", "usually", "tend to", "tends to",
		"likes to", "like to", "habit", "every morning", "every day", "favorite", "favourite",
		"hates", "dislikes", "rather than",
	},
}

// Gate precedence when several gates have cues: corrections and commitments
// carry the most downstream weight, so they win.
var precedence = []store.Gate{
	store.GateCorrection, store.GatePromissory, store.GateRelational, store.GateBehavioral,
}

type matcher struct {
	ac      *ahocorasick.Automaton
	gateOf  []store.Gate
	pattern []string
}

var cueMatcher = mustBuildMatcher()

func mustBuildMatcher() *matcher {
	m := &matcher{}
	for _, g := range precedence {
		for _, p := range cues[g] {
			m.pattern = append(m.pattern, p)
			m.gateOf = append(m.gateOf, g)
		}
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(m.pattern).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		panic("classify: build cue automaton: " + err.Error())
	}
	m.ac = ac
	return m
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// hits counts boundary-respecting cue matches per gate.
func (m *matcher) hits(text string) map[store.Gate]int {
	hay := []byte(normalizeQuotes(strings.ToLower(text)))
	out := make(map[store.Gate]int)
	for _, hit := range m.ac.FindAllOverlapping(hay) {
		if hit.Start > 0 && isWordByte(hay[hit.Start-1]) {
			continue
		}
		if hit.End < len(hay) && isWordByte(hay[hit.End]) && isWordByte(hay[hit.End-1]) {
			continue
		}
		out[m.gateOf[hit.PatternID]]++
	}
	return out
}

func normalizeQuotes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}

var (
	// "Dana is my manager", "Sam said ...", "Alex prefers ..."
	personSubject = regexp.MustCompile(`\b([A-Z][a-z]{1,20})\s+(?:is|was|works|said|says|told|thinks|likes|prefers|wants|asked|has|will)\b`)
	// "my manager Dana", "with Dana", "to Dana"
	personObject = regexp.MustCompile(`\b(?:my\s+(?:manager|boss|wife|husband|partner|friend|colleague|coworker|teammate|mom|dad|mother|father|sister|brother|son|daughter)|with|to|from|for|call|email|ask|tell)\s+([A-Z][a-z]{1,20})\b`)
	projectRef   = regexp.MustCompile(`(?i)\b(?:project|repo|repository|codebase|service)\s+["'\x60]?([A-Za-z0-9][A-Za-z0-9_.\-/]{1,40})`)
)

// Capitalized words that start sentences or are not names.
var notNames = map[string]bool{
	"I": true, "The": true, "This": true, "That": true, "It": true, "We": true, "They": true,
	"He": true, "She": true, "You": true, "My": true, "Our": true, "There": true, "Actually": true,
	"Maybe": true, "Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
	"Friday": true, "Saturday": true, "Sunday": true, "Today": true, "Tomorrow": true,
	"User": true, "Claude": true, "Project": true, "Team": true, "Everyone": true,
}

// ExtractPerson returns the first name-like mention in text, lowercased.
func ExtractPerson(text string) string {
	for _, re := range []*regexp.Regexp{personObject, personSubject} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if !notNames[m[1]] {
				return strings.ToLower(m[1])
			}
		}
	}
	return ""
}

// ExtractProject returns the first explicitly named project, lowercased.
func ExtractProject(text string) string {
	if m := projectRef.FindStringSubmatch(text); m != nil {
		return strings.ToLower(strings.TrimRight(m[1], ".,;:"))
	}
	return ""
}

// Heuristic labels text with keyword and regex rules only. It never
// reports safe sensitivity and its confidence never exceeds ceiling.
func Heuristic(text string, ceiling float64) Result {
	hits := cueMatcher.hits(text)
	person := ExtractPerson(text)

	gate := store.GateEpistemic
	conf := 0.35
	for _, g := range precedence {
		if hits[g] > 0 {
			gate = g
			conf = 0.5 + 0.1*float64(hits[g]-1)
			break
		}
	}
	// A stated fact about a named person with no stronger cue is relational.
	if gate == store.GateEpistemic && person != "" && personSubject.MatchString(text) {
		gate = store.GateRelational
		conf = 0.45
	}
	if conf > ceiling {
		conf = ceiling
	}

	return Result{
		Gate:        gate,
		Confidence:  conf,
		Sensitivity: store.SensitivitySensitive,
		Person:      person,
		Project:     ExtractProject(text),
		Source:      SourceHeuristic,
	}
}
