// Package chunker splits documents into overlapping chunks with a recursive
// separator strategy: split on the coarsest separator present, merge the
// pieces back up to the size limit, and re-split any piece that is still too
// long with the next separator. Sizes are measured in runes.
package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Config holds chunk sizing and the separator priority list.
type Config struct {
	// ChunkSize is the maximum chunk length in runes.
	ChunkSize int
	// ChunkOverlap is the maximum number of runes a chunk may share with its
	// predecessor. Must be smaller than ChunkSize.
	ChunkOverlap int
	// Separators are tried in order. The empty separator splits between runes
	// and is implied as the final fallback.
	Separators []string
}

// Simple is the preset used by the simple answer pipeline.
func Simple() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   []string{"\n\n", "\n", " ", ""},
	}
}

// Advanced is the code-aware preset used by the advanced answer pipeline.
func Advanced() Config {
	return Config{
		ChunkSize:    1200,
		ChunkOverlap: 300,
		Separators:   []string{"\n\n\n", "\n\n", "\n```\n", "\n```", "\n##", "\n#", "\n", " ", ""},
	}
}

// Validate reports whether the sizing is usable.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunker: chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunker: overlap %d must be in [0, %d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// Chunker splits documents. It is immutable and safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Separators) == 0 {
		cfg.Separators = []string{""}
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the chunker configuration.
func (c *Chunker) Config() Config { return c.cfg }

// span is a [start, end) byte range of the document with its rune length.
type span struct {
	start, end int
	runes      int
}

// Chunks lazily yields the chunks of doc in document order. Whitespace-only
// chunks are skipped. A consumer may stop early.
func (c *Chunker) Chunks(doc collection.Document) iter.Seq[rag.Chunk] {
	return func(yield func(rag.Chunk) bool) {
		text := doc.Content
		idx := 0
		emit := func(s span) bool {
			content := text[s.start:s.end]
			if strings.TrimSpace(content) == "" {
				return true
			}
			ch := rag.Chunk{
				ID:      chunkID(doc.Source, idx),
				Source:  doc.Source,
				Content: content,
				Index:   idx,
				Start:   s.start,
			}
			idx++
			return yield(ch)
		}
		c.split(text, span{0, len(text), utf8.RuneCountInString(text)}, c.cfg.Separators, emit)
	}
}

// Split collects Chunks(doc) into a slice.
func (c *Chunker) Split(doc collection.Document) []rag.Chunk {
	var out []rag.Chunk
	for ch := range c.Chunks(doc) {
		out = append(out, ch)
	}
	return out
}

// split emits the chunks of text[s.start:s.end]. It returns false once emit
// asks to stop.
func (c *Chunker) split(text string, s span, seps []string, emit func(span) bool) bool {
	sep, rest := pickSeparator(text[s.start:s.end], seps)
	if len(rest) == 0 {
		rest = []string{""}
	}
	for _, r := range c.runs(text, splitKeep(text, s, sep)) {
		ok := true
		if r.big {
			ok = c.split(text, join(r.pieces, r.runes()), rest, emit)
		} else {
			ok = c.merge(r.pieces, emit)
		}
		if !ok {
			return false
		}
	}
	return true
}

// run is a group of contiguous pieces. A big run is re-split with the next
// separator; the others are merged as they are.
type run struct {
	pieces []span
	big    bool
}

func (r run) runes() int {
	n := 0
	for _, p := range r.pieces {
		n += p.runes
	}
	return n
}

// runs groups pieces into runs of pieces that fit and runs holding one
// oversized piece. A whitespace-only run next to an oversized piece is folded
// into it, otherwise its bytes would form a blank chunk and be dropped.
func (c *Chunker) runs(text string, pieces []span) []run {
	var out []run
	for _, p := range pieces {
		big := p.runes > c.cfg.ChunkSize
		n := len(out)
		switch {
		case big && n > 0 && !out[n-1].big && blank(text, out[n-1].pieces):
			out[n-1].pieces = append(out[n-1].pieces, p)
			out[n-1].big = true
		case big:
			out = append(out, run{pieces: []span{p}, big: true})
		case n > 0 && !out[n-1].big:
			out[n-1].pieces = append(out[n-1].pieces, p)
		default:
			out = append(out, run{pieces: []span{p}})
		}
	}
	if n := len(out); n > 1 && !out[n-1].big && out[n-2].big && blank(text, out[n-1].pieces) {
		out[n-2].pieces = append(out[n-2].pieces, out[n-1].pieces...)
		out = out[:n-1]
	}
	return out
}

// blank reports whether the contiguous pieces hold only whitespace.
func blank(text string, pieces []span) bool {
	return strings.TrimSpace(text[pieces[0].start:pieces[len(pieces)-1].end]) == ""
}

// merge packs contiguous pieces into chunks of at most ChunkSize runes,
// carrying trailing pieces of up to ChunkOverlap runes into the next chunk.
func (c *Chunker) merge(pieces []span, emit func(span) bool) bool {
	size, overlap := c.cfg.ChunkSize, c.cfg.ChunkOverlap

	var cur []span
	total := 0
	for _, p := range pieces {
		if total+p.runes > size && len(cur) > 0 {
			if !emit(join(cur, total)) {
				return false
			}
			for total > overlap || (total+p.runes > size && total > 0) {
				total -= cur[0].runes
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += p.runes
	}
	if len(cur) > 0 {
		return emit(join(cur, total))
	}
	return true
}

// join returns the span covering contiguous pieces.
func join(pieces []span, runes int) span {
	return span{start: pieces[0].start, end: pieces[len(pieces)-1].end, runes: runes}
}

// pickSeparator returns the first separator present in text and the
// separators after it.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			return s, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeep splits text[s.start:s.end] on sep, attaching each separator to
// the piece that follows it. The empty separator splits between runes.
func splitKeep(text string, s span, sep string) []span {
	var out []span
	add := func(a, b int) {
		if b > a {
			out = append(out, span{a, b, utf8.RuneCountInString(text[a:b])})
		}
	}

	if sep == "" {
		for a := s.start; a < s.end; {
			_, w := utf8.DecodeRuneInString(text[a:s.end])
			add(a, a+w)
			a += w
		}
		return out
	}

	start := s.start
	for {
		i := strings.Index(text[start:s.end], sep)
		if i < 0 {
			break
		}
		cut := start + i
		if cut == start {
			// Separator at the piece start: look for the next occurrence.
			j := strings.Index(text[start+len(sep):s.end], sep)
			if j < 0 {
				break
			}
			cut = start + len(sep) + j
		}
		add(start, cut)
		start = cut
	}
	add(start, s.end)
	return out
}

// chunkID is the stable identifier of chunk index of source.
func chunkID(source string, index int) string {
	return fmt.Sprintf("%s#%d", source, index)
}
