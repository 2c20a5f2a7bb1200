package databases

import (
	"context"
	"strings"
)

// kindScoped multiplexes several logical full-text indices (observations,
// summaries, prompts) over one FullTextSearch backend, so a single Postgres
// "documents" table (or the in-memory equivalent) can back all three without
// id collisions. Ids are namespaced on write and the namespace is stripped
// and filtered on read.
type kindScoped struct {
	backend FullTextSearch
	kind    string
}

// NewKindScoped returns a FullTextSearch that only sees documents indexed
// under the given kind (e.g. "observation", "summary", "prompt").
func NewKindScoped(backend FullTextSearch, kind string) FullTextSearch {
	return &kindScoped{backend: backend, kind: kind}
}

func (k *kindScoped) namespace(id string) string { return k.kind + ":" + id }

func (k *kindScoped) Index(ctx context.Context, id, text string, metadata map[string]string) error {
	md := make(map[string]string, len(metadata)+1)
	for kk, v := range metadata {
		md[kk] = v
	}
	md["kind"] = k.kind
	return k.backend.Index(ctx, k.namespace(id), text, md)
}

func (k *kindScoped) Remove(ctx context.Context, id string) error {
	return k.backend.Remove(ctx, k.namespace(id))
}

// Search over-fetches from the shared backend to compensate for rows
// belonging to other kinds, then filters and truncates to limit.
func (k *kindScoped) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	raw, err := k.backend.Search(ctx, query, limit*4+10)
	if err != nil {
		return nil, err
	}
	prefix := k.kind + ":"
	out := make([]SearchResult, 0, limit)
	for _, r := range raw {
		if !strings.HasPrefix(r.ID, prefix) {
			continue
		}
		r.ID = strings.TrimPrefix(r.ID, prefix)
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
