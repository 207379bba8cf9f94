package stagedtts

import (
	"strings"
	"unicode"
)

// Plan is the chunked layout of one reply: an intro for the fast engine and
// body chunks for the main engine. A monolithic plan has an empty Intro and
// all text in Body.
type Plan struct {
	// Intro is chunk 0, synthesized by the intro engine. Empty in monolithic
	// plans.
	Intro string

	// Body holds the remaining chunks in order.
	Body []string
}

// Total returns the number of chunks in the plan.
func (p Plan) Total() int {
	n := len(p.Body)
	if p.Intro != "" {
		n++
	}
	return n
}

// Chunker splits sanitized reply text into synthesis chunks. All bounds are
// in characters (runes).
type Chunker struct {
	// MaxResponse bounds the whole reply; longer text is truncated at a
	// sentence boundary.
	MaxResponse int

	// MaxIntro bounds the intro chunk; truncation happens at a word boundary.
	MaxIntro int

	// MinChunk and MaxChunk bound individual body chunks.
	MinChunk int

	MaxChunk int

	// MaxChunks bounds the total chunk count including the intro.
	MaxChunks int
}

// Split produces a staged plan: intro plus re-chunked remainder.
func (c Chunker) Split(text string) Plan {
	text = c.truncateResponse(text)
	if text == "" {
		return Plan{}
	}

	intro := truncateAtWord(text, c.MaxIntro)
	rest := strings.TrimSpace(strings.TrimPrefix(text, intro))

	maxBody := c.MaxChunks - 1
	if maxBody < 1 {
		maxBody = 1
	}
	return Plan{Intro: intro, Body: c.chunkBody(rest, maxBody)}
}

// SplitMonolithic produces a plan without an intro, used when staging is
// disabled or both stages resolved to the same engine.
func (c Chunker) SplitMonolithic(text string) Plan {
	text = c.truncateResponse(text)
	if text == "" {
		return Plan{}
	}
	return Plan{Body: c.chunkBody(text, c.MaxChunks)}
}

// truncateResponse enforces MaxResponse at a sentence boundary, falling back
// to a word boundary for a single over-long sentence.
func (c Chunker) truncateResponse(text string) string {
	text = strings.TrimSpace(text)
	if c.MaxResponse <= 0 || len([]rune(text)) <= c.MaxResponse {
		return text
	}

	var (
		kept  []string
		count int
	)
	for _, s := range splitSentences(text) {
		n := len([]rune(s))
		if count+n > c.MaxResponse {
			break
		}
		kept = append(kept, s)
		count += n + 1
	}
	if len(kept) == 0 {
		return truncateAtWord(text, c.MaxResponse)
	}
	return strings.Join(kept, " ")
}

// chunkBody greedily packs sentences into chunks within [MinChunk, MaxChunk],
// bounded by maxChunks. Overflow text past the last chunk is dropped; the
// response-level truncation keeps this case rare.
func (c Chunker) chunkBody(text string, maxChunks int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChunks < 1 {
		maxChunks = 1
	}

	maxChunk := c.MaxChunk
	if maxChunk <= 0 {
		maxChunk = len([]rune(text))
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, sentence := range splitSentences(text) {
		// Hard-split sentences that alone exceed the chunk bound.
		for _, piece := range splitLong(sentence, maxChunk) {
			n := len([]rune(piece))
			if curLen > 0 && curLen+n+1 > maxChunk {
				flush()
				if len(chunks) == maxChunks {
					return chunks
				}
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(piece)
			curLen += n
		}
		// Close a chunk once it is comfortably sized; keeps chunks near
		// MinChunk so the main engine starts early.
		if c.MinChunk > 0 && curLen >= c.MinChunk && len(chunks) < maxChunks-1 {
			flush()
		}
	}
	if len(chunks) < maxChunks {
		flush()
	}
	return chunks
}

// splitSentences splits text on sentence-final punctuation, keeping the
// punctuation with its sentence.
func splitSentences(text string) []string {
	var (
		out  []string
		cur  strings.Builder
		prev rune
	)
	for _, r := range text {
		cur.WriteRune(r)
		if (prev == '.' || prev == '!' || prev == '?') && unicode.IsSpace(r) {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
		prev = r
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// splitLong cuts a single over-long sentence at word boundaries.
func splitLong(s string, max int) []string {
	if max <= 0 || len([]rune(s)) <= max {
		return []string{s}
	}
	var out []string
	for len([]rune(s)) > max {
		head := truncateAtWord(s, max)
		if head == "" {
			runes := []rune(s)
			head = string(runes[:max])
		}
		out = append(out, head)
		s = strings.TrimSpace(strings.TrimPrefix(s, head))
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// truncateAtWord returns the longest prefix of s within max runes that ends
// on a word boundary. Returns s unchanged when it already fits.
func truncateAtWord(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max+1])
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		return strings.TrimSpace(cut[:i])
	}
	return strings.TrimSpace(string(runes[:max]))
}
