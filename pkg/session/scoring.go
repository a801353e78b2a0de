package session

import (
	"regexp"
	"sort"
	"strings"

	"github.com/charlievoice/charlie/pkg/memory"
)

var (
	explicitCueRegex = regexp.MustCompile(`(?i)\b(?:remember|don't forget|dont forget|keep in mind|note that|make a note)\b`)
	favoriteRegex    = regexp.MustCompile(`(?i)\bmy favou?rite ([a-z][a-z ]{0,40}?) is ([^.!?\n]+)`)
	prefVerbRegex    = regexp.MustCompile(`(?i)\bi (?:really )?(?:like|love|prefer|hate|dislike|enjoy)\b[^.!?\n]*`)
	identityRegex    = regexp.MustCompile(`(?i)\b(?:my name is|call me|i am|i'm)\s+([A-Za-z][A-Za-z0-9 _\-]{1,50})`)
	goalRegex        = regexp.MustCompile(`(?i)\b(?:i want to|i plan to|i'm planning to|my goal is|i need to|i hope to)\b[^.!?\n]*`)
	skillRegex       = regexp.MustCompile(`(?i)\b(?:i can|i know how to|i'm good at|i am good at|i work (?:as|with|on))\b[^.!?\n]*`)
	relationRegex    = regexp.MustCompile(`(?i)\bmy (?:wife|husband|partner|mom|mother|dad|father|sister|brother|son|daughter|friend|boss|colleague|dog|cat)\b`)
	habitRegex       = regexp.MustCompile(`(?i)\b(?:every (?:day|week|month|morning|evening|night)|usually|always|each (?:day|week|morning))\b`)
	temporalRegex    = regexp.MustCompile(`(?i)\b(?:remind me|tomorrow|tonight|next (?:week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|at \d{1,2}(?::\d{2})?\s*(?:am|pm)?|on (?:monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	taskCueRegex     = regexp.MustCompile(`(?i)\b(?:todo|task|deadline|schedule|appointment|meeting)\b`)
	decisionRegex    = regexp.MustCompile(`(?i)\b(?:i (?:decided|chose|will go with|settled on))\b[^.!?\n]*`)
	questionLead     = regexp.MustCompile(`(?i)^\s*(?:what|why|how|when|where|who|which|can|could|would|do|does|did|is|are|am)\b`)
	favoriteWord     = regexp.MustCompile(`(?i)\bfavou?rite\b`)
	identityAsk      = regexp.MustCompile(`(?i)\b(?:my name|who am i)\b`)
)

// Signals is the rule-based reading of one turn: the promotion score, the
// matched cue categories (which become the record tags), the derived
// record type, and the content to store if promoted.
type Signals struct {
	Score   int
	Tags    []string
	Type    memory.RecordType
	Content string
	// Key identifies the underlying fact so the same content is not
	// promoted twice within a session.
	Key string
}

// DeriveSignals scores text for long-term memory promotion. Explicit
// memory cues carry the base score, preference/identity patterns boost
// it, and question-shaped turns are dampened.
func DeriveSignals(text string) Signals {
	trimmed := strings.TrimSpace(text)
	sig := Signals{
		Type:    memory.TypeFact,
		Content: trimmed,
		Key:     normalizeKey(trimmed),
	}
	if trimmed == "" {
		return sig
	}

	tags := map[string]struct{}{}
	addTag := func(tag string) {
		tags[tag] = struct{}{}
	}

	if explicitCueRegex.MatchString(trimmed) {
		sig.Score += 2
	}

	if m := favoriteRegex.FindStringSubmatch(trimmed); len(m) == 3 {
		sig.Score += 2
		addTag("preference")
		sig.Type = memory.TypePreference
		subject := strings.TrimSpace(strings.ToLower(m[1]))
		value := normalizePhrase(m[2])
		sig.Content = "favorite " + subject + ": " + value
		sig.Key = normalizeKey("favorite " + subject)
	} else if prefVerbRegex.MatchString(trimmed) {
		sig.Score += 2
		addTag("preference")
		sig.Type = memory.TypePreference
	}

	if m := identityRegex.FindStringSubmatch(trimmed); len(m) == 2 {
		sig.Score += 2
		addTag("identity")
		addTag("personal")
		if sig.Type == memory.TypeFact {
			sig.Type = memory.TypePersonal
		}
	}

	if goalRegex.MatchString(trimmed) {
		sig.Score++
		addTag("goal")
	}
	if skillRegex.MatchString(trimmed) {
		sig.Score++
		addTag("skill")
	}
	if relationRegex.MatchString(trimmed) {
		sig.Score++
		addTag("relationship")
		addTag("personal")
		if sig.Type == memory.TypeFact {
			sig.Type = memory.TypePersonal
		}
	}
	if habitRegex.MatchString(trimmed) {
		sig.Score++
		addTag("habit")
	}
	if temporalRegex.MatchString(trimmed) {
		sig.Score++
		addTag("temporal")
		if sig.Type == memory.TypeFact {
			sig.Type = memory.TypeTemporal
		}
	}
	if taskCueRegex.MatchString(trimmed) {
		sig.Score++
		addTag("task")
		if sig.Type == memory.TypeFact {
			sig.Type = memory.TypeTask
		}
	}
	if decisionRegex.MatchString(trimmed) {
		sig.Score++
		addTag("decision")
	}

	// Questions ask about memories instead of stating them. An explicit
	// cue still wins ("remember: ...?" is rare but deliberate).
	if isLikelyQuestion(trimmed) && !explicitCueRegex.MatchString(trimmed) {
		sig.Score -= 2
		if sig.Score < 0 {
			sig.Score = 0
		}
	}

	if len(tags) == 0 {
		addTag("knowledge")
	}
	sig.Tags = sortedTags(tags)
	return sig
}

// QueryTags derives the tag set used to retrieve memories relevant to a
// turn. Unlike promotion scoring, questions are first-class here.
func QueryTags(text string) []string {
	tags := map[string]struct{}{}
	if favoriteWord.MatchString(text) || prefVerbRegex.MatchString(text) {
		tags["preference"] = struct{}{}
	}
	if identityRegex.MatchString(text) || identityAsk.MatchString(text) {
		tags["identity"] = struct{}{}
	}
	if goalRegex.MatchString(text) {
		tags["goal"] = struct{}{}
	}
	if relationRegex.MatchString(text) {
		tags["relationship"] = struct{}{}
		tags["personal"] = struct{}{}
	}
	if habitRegex.MatchString(text) {
		tags["habit"] = struct{}{}
	}
	if temporalRegex.MatchString(text) {
		tags["temporal"] = struct{}{}
	}
	if taskCueRegex.MatchString(text) {
		tags["task"] = struct{}{}
	}
	if len(tags) == 0 {
		tags["knowledge"] = struct{}{}
	}
	return sortedTags(tags)
}

func isLikelyQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	return questionLead.MatchString(text)
}

func normalizePhrase(in string) string {
	in = strings.TrimSpace(in)
	in = strings.Trim(in, " .,!?:;\"'")
	if len(in) > 180 {
		in = strings.TrimSpace(in[:180])
	}
	return in
}

func normalizeKey(in string) string {
	return strings.ToLower(normalizePhrase(in))
}

func sortedTags(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	// map iteration order is random; retrieval must be deterministic
	sort.Strings(out)
	return out
}

func clampImportance(score int) int {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}
