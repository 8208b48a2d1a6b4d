// Package chunk splits Markdown and plain text into overlapping,
// token-bounded chunks, the unit of embedding and search.
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Defaults for workspace memory files. KB documents use the larger budget
// from configuration (600/100).
const (
	DefaultMaxChunkTokens = 400
	DefaultOverlapTokens  = 80

	// MaxSnippetChars caps stored chunk text for snippet presentation.
	MaxSnippetChars = 700

	// charsPerToken is the estimation heuristic: roughly 4 chars per token
	// for English prose and Markdown.
	charsPerToken = 4
)

// Options configures the chunker.
type Options struct {
	Tokens  int // Approximate tokens per chunk
	Overlap int // Tokens carried into the next chunk
}

// Chunk is a contiguous line-range slice of a document.
type Chunk struct {
	StartLine int    // 1-based, inclusive
	EndLine   int    // 1-based, inclusive
	Text      string // Full chunk text (use Snippet for storage)
	Hash      string // SHA-256 hex of Text
}

// Snippet returns the chunk text capped at MaxSnippetChars. The cut backs
// up to a rune boundary so the stored text stays valid UTF-8.
func (c *Chunk) Snippet() string {
	if len(c.Text) <= MaxSnippetChars {
		return c.Text
	}
	cut := MaxSnippetChars
	for cut > 0 && !utf8.RuneStart(c.Text[cut]) {
		cut--
	}
	return c.Text[:cut]
}

// headerPattern matches ATX headers; the chunker prefers to break before them.
var headerPattern = regexp.MustCompile(`^#{1,6}\s+`)

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Markdown splits text into overlapping token-bounded chunks. It works for
// both Markdown and plain text: headers are preferred break points when
// present, otherwise chunks break on line boundaries once the token budget
// is reached. Each chunk carries its 1-based line range and a content hash.
func Markdown(text string, opts Options) []Chunk {
	if opts.Tokens <= 0 {
		opts.Tokens = DefaultMaxChunkTokens
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Tokens {
		opts.Overlap = DefaultOverlapTokens
		if opts.Overlap >= opts.Tokens {
			opts.Overlap = opts.Tokens / 5
		}
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var chunks []Chunk

	start := 0 // 0-based index of the first line in the current chunk
	for start < len(lines) {
		end, tokens := start, 0
		lastHeader := -1

		for end < len(lines) {
			lineTokens := EstimateTokens(lines[end]) + 1 // +1 for the newline
			if tokens+lineTokens > opts.Tokens && end > start {
				break
			}
			if end > start && headerPattern.MatchString(lines[end]) {
				lastHeader = end
			}
			tokens += lineTokens
			end++
		}

		// Break before the most recent header so sections stay intact,
		// unless that would leave a degenerate chunk.
		if end < len(lines) && lastHeader > start && lastHeader > start+1 {
			end = lastHeader
		}

		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) != "" {
			chunks = append(chunks, Chunk{
				StartLine: start + 1,
				EndLine:   end, // end is exclusive 0-based == inclusive 1-based
				Text:      body,
				Hash:      HashText(body),
			})
		}

		if end >= len(lines) {
			break
		}
		start = backUpForOverlap(lines, start, end, opts.Overlap)
	}

	return chunks
}

// backUpForOverlap returns the start line of the next chunk so roughly
// `overlap` tokens of the previous chunk are repeated. The next start is
// always past prevStart so the walk makes progress.
func backUpForOverlap(lines []string, prevStart, end, overlap int) int {
	if overlap <= 0 {
		return end
	}
	tokens := 0
	start := end
	for start > prevStart+1 && tokens < overlap {
		start--
		tokens += EstimateTokens(lines[start]) + 1
	}
	return start
}
