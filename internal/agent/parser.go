package agent

import (
	"regexp"
	"strings"

	"memoryd/internal/persistence"
)

// maxTagsPerPayload bounds the number of blocks a single response can yield,
// guarding against pathological regex cost on a hostile or runaway
// completion, per spec.md §6's tag-stripping bound.
const maxTagsPerPayload = 200

var (
	observationBlockRE = regexp.MustCompile(`(?is)<observation>(.*?)</observation>`)
	summaryBlockRE     = regexp.MustCompile(`(?is)<summary>(.*?)</summary>`)
)

func subtagRE(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + name + `>(.*?)</` + name + `>`)
}

var obsSubtags = struct {
	typ, title, subtitle, narrative, fact, concept, filesRead, filesModified, cwd *regexp.Regexp
}{
	typ:           subtagRE("type"),
	title:         subtagRE("title"),
	subtitle:      subtagRE("subtitle"),
	narrative:     subtagRE("narrative"),
	fact:          subtagRE("fact"),
	concept:       subtagRE("concept"),
	filesRead:     subtagRE("files_read"),
	filesModified: subtagRE("files_modified"),
	cwd:           subtagRE("cwd"),
}

var summarySubtags = struct {
	request, investigated, learned, completed, nextSteps, notes *regexp.Regexp
}{
	request:      subtagRE("request"),
	investigated: subtagRE("investigated"),
	learned:      subtagRE("learned"),
	completed:    subtagRE("completed"),
	nextSteps:    subtagRE("next_steps"),
	notes:        subtagRE("notes"),
}

var validObservationTypes = map[string]bool{
	"discovery": true, "bugfix": true, "feature": true,
	"refactor": true, "decision": true, "change": true,
}

// ParseResult is the outcome of parsing one LLM response for observations.
type ParseResult struct {
	Observations []persistence.Observation
	Warnings     []string
	Productive   bool // at least one well-formed observation
}

// ParseObservations extracts zero or more <observation> blocks from text,
// per spec.md §4.3's parsing contract: missing required fields get default
// values, a malformed block is skipped with a warning, and the turn only
// counts as productive once at least one block parses.
func ParseObservations(text string, createdAtEpoch int64, cwdFallback string) ParseResult {
	var res ParseResult
	blocks := observationBlockRE.FindAllStringSubmatch(text, maxTagsPerPayload)
	for _, b := range blocks {
		body := b[1]
		o := persistence.Observation{
			Type:           firstMatch(obsSubtags.typ, body, "change"),
			Title:          firstMatch(obsSubtags.title, body, "untitled observation"),
			Subtitle:       firstMatch(obsSubtags.subtitle, body, ""),
			Narrative:      firstMatch(obsSubtags.narrative, body, ""),
			Facts:          allMatches(obsSubtags.fact, body),
			Concepts:       allMatches(obsSubtags.concept, body),
			FilesRead:      splitList(firstMatch(obsSubtags.filesRead, body, "")),
			FilesModified:  splitList(firstMatch(obsSubtags.filesModified, body, "")),
			Cwd:            firstMatchOr(obsSubtags.cwd, body, cwdFallback),
			CreatedAtEpoch: createdAtEpoch,
		}
		if !validObservationTypes[o.Type] {
			// malformed enum value: fall back to "change" rather than
			// discarding an otherwise-parseable block.
			o.Type = "change"
		}
		// Title has a default above, so check the raw tag: a block with
		// neither a title nor a narrative is malformed.
		if firstMatch(obsSubtags.title, body, "") == "" && strings.TrimSpace(o.Narrative) == "" {
			res.Warnings = append(res.Warnings, "skipped observation block with no title or narrative")
			continue
		}
		res.Observations = append(res.Observations, o)
		res.Productive = true
	}
	return res
}

// ParseSummary extracts at most one <summary> block. If none is found, it
// synthesises a fallback summary from the raw text so the turn is still
// usable (spec.md §4.3: "preserving the turn as a usable summary rather
// than failing").
func ParseSummary(text, initialPrompt string, createdAtEpoch int64) *persistence.Summary {
	m := summaryBlockRE.FindStringSubmatch(text)
	if m == nil {
		return synthesizeFallbackSummary(text, initialPrompt, createdAtEpoch)
	}
	body := m[1]
	return &persistence.Summary{
		Request:        firstMatchOr(summarySubtags.request, body, initialPrompt),
		Investigated:   firstMatch(summarySubtags.investigated, body, ""),
		Learned:        firstMatch(summarySubtags.learned, body, ""),
		Completed:      firstMatch(summarySubtags.completed, body, ""),
		NextSteps:      firstMatch(summarySubtags.nextSteps, body, ""),
		Notes:          firstMatch(summarySubtags.notes, body, ""),
		CreatedAtEpoch: createdAtEpoch,
	}
}

// synthesizeFallbackSummary builds a Summary from unstructured text per
// spec.md §4.3: request defaults to the initial user prompt, and the raw
// text becomes the notes field so nothing is discarded.
func synthesizeFallbackSummary(text, initialPrompt string, createdAtEpoch int64) *persistence.Summary {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	return &persistence.Summary{
		Request:        initialPrompt,
		Notes:          trimmed,
		CreatedAtEpoch: createdAtEpoch,
	}
}

// SplitTokenUsage implements spec.md §4.3's 70/30 input/output accounting
// heuristic, used when a provider reports only a combined total.
func SplitTokenUsage(total int) (input, output int) {
	input = (total * 70) / 100
	output = total - input
	return
}

func firstMatch(re *regexp.Regexp, body, def string) string {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return def
	}
	return strings.TrimSpace(m[1])
}

func firstMatchOr(re *regexp.Regexp, body, def string) string {
	v := firstMatch(re, body, "")
	if v == "" {
		return def
	}
	return v
}

func allMatches(re *regexp.Regexp, body string) []string {
	ms := re.FindAllStringSubmatch(body, maxTagsPerPayload)
	var out []string
	for _, m := range ms {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
