package ingestion

import (
	"os"
	"path/filepath"
	"strings"
)

// DiscoverCodexSessionProjects scans root for transcript files (".jsonl")
// and returns the set of project names — basename(cwd) — that have at
// least one user_message in any session, per spec.md §4.4's
// discoverCodexSessionProjects contract. Used by /projects/diagnostics to
// surface projects discovered but not yet ingested.
func DiscoverCodexSessionProjects(root string) ([]string, error) {
	if root == "" {
		return nil, nil
	}
	seen := map[string]struct{}{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort scan; unreadable entries are skipped
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		records := ParseHistoryFileContents(f)
		for _, rec := range records {
			if rec.Role != "user" || rec.Cwd == "" {
				continue
			}
			seen[filepath.Base(rec.Cwd)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	return projects, nil
}
