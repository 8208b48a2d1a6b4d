package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/search"
)

func TestFeedbackHint(t *testing.T) {
	tests := []struct {
		name     string
		backend  config.Backend
		results  []search.Result
		wantHint bool
	}{
		{"single weak result", config.BackendMongoDB, []search.Result{{Score: 0.2}}, true},
		{"no results at all", config.BackendMongoDB, nil, true},
		{"single strong result", config.BackendMongoDB, []search.Result{{Score: 0.8}}, false},
		{"enough results even if weak", config.BackendMongoDB, []search.Result{{Score: 0.1}, {Score: 0.2}}, false},
		{"weak result at threshold", config.BackendMongoDB, []search.Result{{Score: 0.3}}, false},
		{"builtin backend never hints", config.BackendBuiltin, []search.Result{{Score: 0.1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := FeedbackHint(tt.backend, tt.results)
			if tt.wantHint {
				assert.Contains(t, hint, "Low confidence")
				assert.Contains(t, hint, "rephrasing")
				assert.Contains(t, hint, "kb_search")
			} else {
				assert.Empty(t, hint)
			}
		})
	}
}

func TestDedupeByHash(t *testing.T) {
	// Given: three lists sharing a hash, plus hashless entries
	mem := []search.Result{
		{ID: "m1", Hash: "h1", Score: 0.4},
		{ID: "m2", Hash: "h2", Score: 0.7},
	}
	kbList := []search.Result{
		{ID: "k1", Hash: "h1", Score: 0.9},
	}
	structured := []search.Result{
		{ID: "s1", Score: 0.5},
		{ID: "s2", Score: 0.5},
	}

	// When
	merged := dedupeByHash(mem, kbList, structured)

	// Then: one entry per hash, highest score wins, hashless pass through
	assert.Len(t, merged, 4)
	byID := map[string]search.Result{}
	for _, r := range merged {
		byID[r.ID] = r
	}
	assert.NotContains(t, byID, "m1")
	assert.Equal(t, 0.9, byID["k1"].Score)
	assert.Contains(t, byID, "s1")
	assert.Contains(t, byID, "s2")
}

func TestShouldCite(t *testing.T) {
	tests := []struct {
		name       string
		mode       config.CitationsMode
		sessionKey string
		want       bool
	}{
		{"on in group chat", config.CitationsOn, "group:team", true},
		{"off in direct chat", config.CitationsOff, "direct:user-1", false},
		{"auto direct", config.CitationsAuto, "direct:user-1", true},
		{"auto group", config.CitationsAuto, "group:standup", false},
		{"auto channel", config.CitationsAuto, "channel:general", false},
		{"auto empty key", config.CitationsAuto, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldCite(tt.mode, tt.sessionKey))
		})
	}
}

func TestFormatCitation(t *testing.T) {
	withLines := search.Result{Path: "memory/notes.md", StartLine: 10, EndLine: 42}
	assert.Equal(t, "[memory/notes.md:10-42]", FormatCitation(withLines))

	noLines := search.Result{Path: "structured/decision/db-choice"}
	assert.Equal(t, "[structured/decision/db-choice]", FormatCitation(noLines))
}
