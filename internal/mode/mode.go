// Package mode loads the small configuration bundle spec.md's GLOSSARY calls
// a Mode: a name, prompt templates, and the allowed observation types and
// concept tags for one deployment. Modes are plain YAML on disk, in the
// idiom of the teacher's cmd/mcpserver config loader.
package mode

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode bundles the per-deployment naming and prompt surface from spec.md §4.3
// and the GLOSSARY's "Mode" entry.
type Mode struct {
	Name                   string   `yaml:"name"`
	ObservationTypes       []string `yaml:"observationTypes"`
	Concepts               []string `yaml:"concepts"`
	InitPromptTemplate     string   `yaml:"initPromptTemplate"`
	ObservationPromptTmpl  string   `yaml:"observationPromptTemplate"`
	SummarizePromptTmpl    string   `yaml:"summarizePromptTemplate"`
}

// Default is the built-in mode used when no mode file is configured, or the
// named file is missing. Its observation types match spec.md §3's Observation
// type enum exactly.
func Default() Mode {
	return Mode{
		Name:             "default",
		ObservationTypes: []string{"discovery", "bugfix", "feature", "refactor", "decision", "change"},
		Concepts:         []string{"architecture", "testing", "performance", "security", "api", "data-model"},
		InitPromptTemplate: "You are the memory agent for project {{.Project}} (session {{.ContentSessionID}}).\n" +
			"The user's initial prompt was:\n{{.InitialPrompt}}\n\n" +
			"Record durable observations about tool use in this session using <observation> blocks, " +
			"and end-of-turn summaries using a <summary> block when asked.",
		ObservationPromptTmpl: "A tool was used at {{.Timestamp}} in {{.Cwd}}:\n" +
			"tool: {{.ToolName}}\ninput: {{.ToolInput}}\nresponse: {{.ToolResponse}}\n\n" +
			"Emit zero or more <observation> blocks capturing anything worth remembering.",
		SummarizePromptTmpl: "Summarize this turn. The last assistant message was:\n{{.LastAssistantMessage}}\n\n" +
			"Emit one <summary> block with request/investigated/learned/completed/next_steps/notes.",
	}
}

// Load reads a YAML mode bundle from path. An empty path or a missing file
// falls back to Default, since a mode is an optional deployment knob, not a
// required resource.
func Load(path string) (Mode, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Mode{}, fmt.Errorf("read mode file %q: %w", path, err)
	}
	m := Default()
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Mode{}, fmt.Errorf("parse mode file %q: %w", path, err)
	}
	return m, nil
}

// AllowsObservationType reports whether t is in this mode's allowed set. An
// empty allow-list permits everything.
func (m Mode) AllowsObservationType(t string) bool {
	if len(m.ObservationTypes) == 0 {
		return true
	}
	for _, x := range m.ObservationTypes {
		if x == t {
			return true
		}
	}
	return false
}
