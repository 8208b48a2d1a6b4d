package mcp

// MemorySearchInput defines the input schema for the memory_search tool.
type MemorySearchInput struct {
	Query      string  `json:"query" jsonschema:"the memory search query to execute"`
	MaxResults int     `json:"max_results,omitempty" jsonschema:"maximum number of results, default 10"`
	MinScore   float64 `json:"min_score,omitempty" jsonschema:"drop results scoring below this threshold"`
	SessionKey string  `json:"session_key,omitempty" jsonschema:"session routing key; controls source filtering and citations"`
}

// MemorySearchOutput defines the output schema for memory and KB search.
type MemorySearchOutput struct {
	Results []ResultOutput `json:"results" jsonschema:"search results sorted by score descending"`
	Hint    string         `json:"hint,omitempty" jsonschema:"low-confidence suggestion, present only for weak result sets"`
}

// ResultOutput is one search hit.
type ResultOutput struct {
	Path      string  `json:"path" jsonschema:"source path or reference"`
	Source    string  `json:"source" jsonschema:"where the result came from: memory, sessions, kb, structured"`
	StartLine int     `json:"start_line,omitempty" jsonschema:"first line of the matched chunk"`
	EndLine   int     `json:"end_line,omitempty" jsonschema:"last line of the matched chunk"`
	Text      string  `json:"text" jsonschema:"matched content snippet"`
	Score     float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
}

// MemoryGetInput defines the input schema for the memory_get tool.
type MemoryGetInput struct {
	Path  string `json:"path" jsonschema:"workspace-relative file path"`
	From  int    `json:"from,omitempty" jsonschema:"1-based first line to read, default 1"`
	Lines int    `json:"lines,omitempty" jsonschema:"number of lines to read, default all"`
}

// MemoryGetOutput defines the output schema for the memory_get tool.
type MemoryGetOutput struct {
	Path       string `json:"path" jsonschema:"resolved workspace-relative path"`
	From       int    `json:"from" jsonschema:"first line of the returned window"`
	Lines      int    `json:"lines" jsonschema:"number of lines returned"`
	TotalLines int    `json:"total_lines" jsonschema:"total lines in the file"`
	Content    string `json:"content" jsonschema:"the requested lines"`
}

// KBSearchInput defines the input schema for the kb_search tool.
type KBSearchInput struct {
	Query      string `json:"query" jsonschema:"the knowledge-base search query to execute"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results, default 10"`
}

// MemoryWriteInput defines the input schema for the memory_write tool.
type MemoryWriteInput struct {
	Type       string   `json:"type" jsonschema:"observation type: decision, preference, person, todo, fact, project, architecture, or custom"`
	Key        string   `json:"key" jsonschema:"stable key; a repeated write with the same type and key replaces the row"`
	Value      string   `json:"value" jsonschema:"the observation itself"`
	Context    string   `json:"context,omitempty" jsonschema:"supporting context for the observation"`
	Confidence *float64 `json:"confidence,omitempty" jsonschema:"confidence in [0,1], default 0.8"`
	Tags       []string `json:"tags,omitempty" jsonschema:"free-form tags"`
}

// MemoryWriteOutput defines the output schema for the memory_write tool.
type MemoryWriteOutput struct {
	Upserted bool   `json:"upserted" jsonschema:"true when a new row was created, false when replaced"`
	ID       string `json:"id" jsonschema:"the row identifier"`
}
