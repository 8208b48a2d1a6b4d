package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/search"
)

// hintMaxResults and hintMaxScore bound the low-confidence heuristic: a
// query with fewer results than the one and every score under the other
// gets a feedback hint.
const (
	hintMaxResults = 2
	hintMaxScore   = 0.3
)

// SearchOptions configures a façade-level search.
type SearchOptions struct {
	MaxResults int
	MinScore   float64
	// SessionKey carries either a source sentinel or a chat-routing key
	// ("direct:...", "group:...", "channel:...") used by the citations
	// policy.
	SessionKey string
}

// SearchResponse is a merged, deduplicated cross-source result set.
type SearchResponse struct {
	Results []search.Result
	// Hint is a low-confidence suggestion, empty when results look good.
	Hint string
}

// Search queries workspace memory, the knowledge base, and structured
// memory, merges the three result sets, deduplicates by chunk content hash
// keeping the highest-scoring occurrence, and applies the citations policy.
func (m *Manager) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	if err := m.guard("search"); err != nil {
		return nil, err
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}

	// One query embedding serves both dispatcher legs. Failure is not
	// fatal; the dispatchers fall through to text strategies.
	var queryVector []float32
	if m.cfg.EmbeddingMode == config.EmbeddingManaged && m.embedder != nil {
		v, err := m.embedder.Embed(ctx, query)
		if err != nil {
			m.logger.Warn("query embedding failed, searching without vectors",
				slog.String("error", err.Error()))
		} else {
			queryVector = v
		}
	}

	dispatchOpts := search.Options{
		MaxResults:  opts.MaxResults,
		MinScore:    opts.MinScore,
		SessionKey:  opts.SessionKey,
		QueryVector: queryVector,
	}

	memResults, err := m.dispatcher.Search(ctx, query, dispatchOpts)
	if err != nil {
		return nil, err
	}
	kbResults, err := m.kbPipeline.Search(ctx, query, dispatchOpts)
	if err != nil {
		m.logger.Warn("kb search failed, continuing with memory results",
			slog.String("error", err.Error()))
	}
	structuredResults, err := m.structured.Search(ctx, query, m.agentID, opts.MaxResults)
	if err != nil {
		m.logger.Warn("structured search failed, continuing without",
			slog.String("error", err.Error()))
	}

	merged := dedupeByHash(memResults, kbResults, structuredResults)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > opts.MaxResults {
		merged = merged[:opts.MaxResults]
	}

	if ShouldCite(m.cfg.Citations, opts.SessionKey) {
		for i := range merged {
			merged[i].Text = merged[i].Text + "\n" + FormatCitation(merged[i])
		}
	}

	return &SearchResponse{
		Results: merged,
		Hint:    FeedbackHint(m.cfg.Backend, merged),
	}, nil
}

// dedupeByHash unions result lists keeping, per content hash, the
// highest-scoring occurrence. Results without a hash pass through.
func dedupeByHash(lists ...[]search.Result) []search.Result {
	var out []search.Result
	best := make(map[string]int)
	for _, list := range lists {
		for _, r := range list {
			if r.Hash == "" {
				out = append(out, r)
				continue
			}
			if i, seen := best[r.Hash]; seen {
				if r.Score > out[i].Score {
					out[i] = r
				}
				continue
			}
			best[r.Hash] = len(out)
			out = append(out, r)
		}
	}
	return out
}

// ShouldCite applies the citations policy. "auto" cites in direct chats
// only; the session key is scanned for routing tokens.
func ShouldCite(mode config.CitationsMode, sessionKey string) bool {
	switch mode {
	case config.CitationsOn:
		return true
	case config.CitationsOff:
		return false
	}
	key := strings.ToLower(sessionKey)
	if strings.Contains(key, "group") || strings.Contains(key, "channel") {
		return false
	}
	return strings.Contains(key, "direct")
}

// FormatCitation renders the source reference appended under a snippet.
func FormatCitation(r search.Result) string {
	if r.StartLine > 0 {
		return fmt.Sprintf("[%s:%d-%d]", r.Path, r.StartLine, r.EndLine)
	}
	return fmt.Sprintf("[%s]", r.Path)
}

// FeedbackHint suggests a next step after a weak query: fewer than two
// results, all scoring under 0.3. Only the mongodb backend carries the
// secondary tools the hint names, so other backends get no hint.
func FeedbackHint(backend config.Backend, results []search.Result) string {
	if backend != config.BackendMongoDB {
		return ""
	}
	if len(results) >= hintMaxResults {
		return ""
	}
	for _, r := range results {
		if r.Score >= hintMaxScore {
			return ""
		}
	}
	return "Low confidence in these results. Consider rephrasing the query, or use kb_search for reference material."
}
