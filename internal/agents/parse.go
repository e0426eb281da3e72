package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pmetrics "github.com/dumplingcafe/research/internal/metrics"
)

// Parsed is the outcome of reading semi-structured model output. Value is
// always usable; Fallback reports that some or all of it is a default.
type Parsed[T any] struct {
	Value    T
	Fallback bool
	Raw      string
	Reason   string
}

// Ok wraps a cleanly parsed value.
func Ok[T any](v T, raw string) Parsed[T] {
	return Parsed[T]{Value: v, Raw: raw}
}

// Fallback wraps a default used in place of unparseable output.
func Fallback[T any](def T, raw, reason string) Parsed[T] {
	return Parsed[T]{Value: def, Fallback: true, Raw: raw, Reason: reason}
}

// DefaultSubtopics is the report structure used when the planner output cannot be read.
var DefaultSubtopics = []string{"Overview", "Key Findings", "Conclusion"}

// SubtopicPolicy decides what happens to plans that are not exactly the requested length.
type SubtopicPolicy string

const (
	// SubtopicTruncate cuts long plans and keeps short ones as they are.
	SubtopicTruncate SubtopicPolicy = "truncate"
	// SubtopicPad cuts long plans and fills short ones from DefaultSubtopics.
	SubtopicPad SubtopicPolicy = "pad"
)

// Valid reports whether p is a known policy. The empty policy means truncate.
func (p SubtopicPolicy) Valid() bool {
	return p == "" || p == SubtopicTruncate || p == SubtopicPad
}

// ParseSubtopics extracts the JSON array of section titles from planner output.
func ParseSubtopics(raw string, n int, policy SubtopicPolicy) Parsed[[]string] {
	if n <= 0 {
		n = len(DefaultSubtopics)
	}
	titles, reason := extractTitles(raw)
	if reason != "" {
		pmetrics.ParseFallbacks.WithLabelValues("subtopics").Inc()
		return Fallback(fitSubtopics(DefaultSubtopics, n, SubtopicPad), raw, reason)
	}
	return Ok(fitSubtopics(titles, n, policy), raw)
}

func extractTitles(raw string) ([]string, string) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, "no JSON array in planner output"
	}
	var decoded []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return nil, "invalid JSON array: " + err.Error()
	}
	titles := make([]string, 0, len(decoded))
	for _, t := range decoded {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return nil, "planner returned no sections"
	}
	return titles, ""
}

func fitSubtopics(titles []string, n int, policy SubtopicPolicy) []string {
	out := make([]string, 0, n)
	for _, t := range titles {
		if len(out) == n {
			break
		}
		out = append(out, t)
	}
	if policy != SubtopicPad {
		return out
	}

	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[strings.ToLower(t)] = true
	}
	for _, d := range DefaultSubtopics {
		if len(out) == n {
			return out
		}
		if !seen[strings.ToLower(d)] {
			out = append(out, d)
		}
	}
	for i := len(out) + 1; len(out) < n; i++ {
		out = append(out, fmt.Sprintf("Section %d", i))
	}
	return out
}

// DefaultPassingScore is the lowest critic score accepted without revision.
const DefaultPassingScore = 8

// Review is the critic's structured judgement of a draft.
type Review struct {
	Score    int
	Passed   bool
	Feedback string
}

var (
	scorePattern    = regexp.MustCompile(`(?i)SCORE:\s*\**\s*(\d+)`)
	verdictPattern  = regexp.MustCompile(`(?i)VERDICT:\s*\**\s*(PASSED|FAILED)`)
	feedbackPattern = regexp.MustCompile(`(?is)FEEDBACK:\s*(.*)`)
)

// ParseCritique reads SCORE/VERDICT/FEEDBACK lines. A missing score counts as
// passing and a missing verdict counts as passed whatever the score; missing
// feedback is the whole response. Output with no verdict line never forces a
// revision.
func ParseCritique(raw string, passingScore int) Parsed[Review] {
	if passingScore <= 0 {
		passingScore = DefaultPassingScore
	}
	var missing []string

	score := passingScore
	if m := scorePattern.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			score = min(max(v, 1), 10)
		} else {
			missing = append(missing, "score")
		}
	} else {
		missing = append(missing, "score")
	}

	passed := true
	if m := verdictPattern.FindStringSubmatch(raw); m != nil {
		passed = strings.EqualFold(m[1], "PASSED")
	} else {
		missing = append(missing, "verdict")
	}

	feedback := strings.TrimSpace(raw)
	if m := feedbackPattern.FindStringSubmatch(raw); m != nil && strings.TrimSpace(m[1]) != "" {
		feedback = strings.TrimSpace(m[1])
	} else {
		missing = append(missing, "feedback")
	}

	review := Review{Score: score, Passed: passed, Feedback: feedback}
	if len(missing) > 0 {
		pmetrics.ParseFallbacks.WithLabelValues("critique").Inc()
		return Fallback(review, raw, "missing "+strings.Join(missing, ", "))
	}
	return Ok(review, raw)
}
