// Package provider implements the three Agent (C5) provider variants from
// spec.md §4.3, each satisfying llm.Provider so the Runner can treat them
// uniformly and chain them for fallback.
package provider

import "memoryd/internal/llm"

// Named is implemented by every variant here so logs and the fallback
// policy can name the active provider without type-switching.
type Named interface {
	llm.Provider
	Name() string
}
