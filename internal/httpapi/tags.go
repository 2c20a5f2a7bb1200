package httpapi

import (
	"regexp"
	"strings"
)

// maxStripIterations bounds repeated tag-stripping passes per spec.md §6:
// "Tag stripping is bounded by a maximum tag count per payload to guard
// against pathological regex cost."
const maxStripIterations = 200

var (
	contextBlockRE       = regexp.MustCompile(`(?is)<context-block>(.*?)</context-block>`)
	legacyContextBlockRE = regexp.MustCompile(`(?is)<codex-context>(.*?)</codex-context>`)
	privateRE            = regexp.MustCompile(`(?is)<private>(.*?)</private>`)
)

// stripContextBlocks removes both the canonical and legacy context-block
// wrappers, keeping their inner text, idempotently (spec.md §6/§8): running
// it twice produces the same output as running it once.
func stripContextBlocks(s string) string {
	for i := 0; i < maxStripIterations; i++ {
		next := contextBlockRE.ReplaceAllString(s, "$1")
		next = legacyContextBlockRE.ReplaceAllString(next, "$1")
		if next == s {
			return next
		}
		s = next
	}
	return s
}

// stripPrivate removes <private>...</private> wrappers, keeping surrounding
// text but discarding the private content entirely — private text must
// never reach the Store.
func stripPrivate(s string) string {
	for i := 0; i < maxStripIterations; i++ {
		next := privateRE.ReplaceAllString(s, "")
		if next == s {
			return next
		}
		s = next
	}
	return s
}

// isPrivateOnly reports whether prompt, once whitespace-trimmed, consists
// only of <private>...</private> blocks (or is empty), per
// spec.md §4.6's "Prompts fully enclosed in a <private>...</private> tag (or
// the empty string after stripping) are accepted but not stored."
func isPrivateOnly(prompt string) bool {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return true
	}
	m := privateRE.FindStringSubmatch(trimmed)
	if m == nil {
		return false
	}
	whole := privateRE.ReplaceAllString(trimmed, "")
	return strings.TrimSpace(whole) == ""
}

// observerBootstrapPrefixes names the known "observer bootstrap" preambles
// from spec.md §4.6/§8 scenario 7: tool-use payloads emitted by external
// tooling during its own startup, which must be ignored rather than
// persisted as memory.
var observerBootstrapPrefixes = []string{
	"You are the memory observer",
	"[memory-observer-bootstrap]",
	"SYSTEM: initializing memory observer",
}

func isObserverBootstrap(toolResponse string) bool {
	trimmed := strings.TrimSpace(toolResponse)
	for _, p := range observerBootstrapPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// systemLinePrefixes are the "system/warning line" markers from spec.md §4.4,
// a copy of the IngestionEngine's list. No HTTP handler calls isSystemLine,
// so text arriving through the HTTP ingest surface is not filtered by it.
var systemLinePrefixes = []string{"⚠", "[experimental]"}

func isSystemLine(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, p := range systemLinePrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return mcpTimeoutRE.MatchString(trimmed)
}

var mcpTimeoutRE = regexp.MustCompile(`(?i)MCP tool .* timed out`)
