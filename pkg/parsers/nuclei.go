package parsers

import (
	"sort"
	"strings"
)

// NucleiLine is one line of nuclei -silent output:
//
//	[template-id] [protocol] [severity] matched-at [extra...]
type NucleiLine struct {
	TemplateID string
	Protocol   string
	Severity   string
	MatchedAt  string
	Extra      string
}

var severityRank = map[string]int{
	"unknown":  0,
	"info":     1,
	"low":      2,
	"medium":   3,
	"high":     4,
	"critical": 5,
}

// ParseNucleiLine splits a silent-mode result line. Lines that do not start
// with the three bracketed fields are rejected.
func ParseNucleiLine(raw string) (NucleiLine, bool) {
	rest := strings.TrimSpace(raw)

	var fields [3]string
	for i := range fields {
		if !strings.HasPrefix(rest, "[") {
			return NucleiLine{}, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return NucleiLine{}, false
		}
		fields[i] = rest[1:end]
		rest = strings.TrimSpace(rest[end+1:])
	}

	line := NucleiLine{
		TemplateID: fields[0],
		Protocol:   fields[1],
		Severity:   normalizeSeverity(fields[2]),
	}
	if target, extra, found := strings.Cut(rest, " "); found {
		line.MatchedAt = target
		line.Extra = strings.TrimSpace(extra)
	} else {
		line.MatchedAt = rest
	}
	return line, true
}

func normalizeSeverity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := severityRank[s]; !ok {
		return "unknown"
	}
	return s
}

// HighestSeverity returns the most severe level among raw lines, "unknown"
// when none parse.
func HighestSeverity(raw []string) string {
	best := "unknown"
	for _, r := range raw {
		line, ok := ParseNucleiLine(r)
		if ok && severityRank[line.Severity] > severityRank[best] {
			best = line.Severity
		}
	}
	return best
}

// CountBySeverity tallies parsed lines per severity; unparsable lines count
// as unknown.
func CountBySeverity(raw []string) map[string]int {
	counts := make(map[string]int)
	for _, r := range raw {
		line, ok := ParseNucleiLine(r)
		if !ok {
			counts["unknown"]++
			continue
		}
		counts[line.Severity]++
	}
	return counts
}

// Severities returns the keys of counts from most to least severe.
func Severities(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for s := range counts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return severityRank[out[i]] > severityRank[out[j]] })
	return out
}

func GetSeverityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "🔴"
	case "high":
		return "🟠"
	case "medium":
		return "🟡"
	case "low":
		return "🟢"
	case "info":
		return "🔵"
	default:
		return "⚪"
	}
}
