package ingestion

import (
	"path/filepath"
	"strings"

	"github.com/54b3r/docrag-go/internal/collection"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Metadata keys attached to every chunk.
const (
	MetaFile    = "file"
	MetaTitle   = "title"
	MetaHeading = "heading"
	MetaDocType = "doc_type"
)

// InferredMetadata holds the document-level metadata inferred from a
// markdown file's path and content.
type InferredMetadata struct {
	// File is the base name of the document.
	File string
	// Title is the first level-1 heading, or the file stem when there is none.
	Title string
	// DocType classifies the document (reference, tutorial, guide, api,
	// changelog) from its path; "reference" when nothing matches.
	DocType string
}

// docTypeSegments maps path segments and file stems to a document kind.
var docTypeSegments = map[string]string{
	"guides":          "guide",
	"guide":           "guide",
	"how-to":          "guide",
	"howto":           "guide",
	"tutorials":       "tutorial",
	"tutorial":        "tutorial",
	"getting-started": "tutorial",
	"quickstart":      "tutorial",
	"quick-start":     "tutorial",
	"api":             "api",
	"reference":       "reference",
	"changelog":       "changelog",
	"changes":         "changelog",
	"release-notes":   "changelog",
}

// InferMetadata inspects doc and returns best-effort metadata.
func InferMetadata(doc collection.Document) InferredMetadata {
	file := filepath.Base(doc.Source)
	stem := strings.TrimSuffix(file, filepath.Ext(file))

	m := InferredMetadata{File: file, Title: stem, DocType: "reference"}

	for _, line := range strings.Split(doc.Content, "\n") {
		if level, text := headingOf(line); level == 1 && text != "" {
			m.Title = text
			break
		}
	}

	segments := trimSegments(filepath.ToSlash(strings.ToLower(filepath.Dir(doc.Source))))
	segments = append(segments, strings.ToLower(stem))
	for i := len(segments) - 1; i >= 0; i-- {
		if kind, ok := docTypeSegments[segments[i]]; ok {
			m.DocType = kind
			break
		}
	}
	return m
}

// Annotate attaches document metadata and the nearest preceding heading to
// each chunk of doc. chunks must come from doc.
func Annotate(doc collection.Document, chunks []rag.Chunk) {
	m := InferMetadata(doc)
	heads := headings(doc.Content)

	h := 0
	current := ""
	for i := range chunks {
		// Headings that start inside the first line of the chunk count too.
		body := strings.TrimLeft(chunks[i].Content, " \t\r\n")
		limit := chunks[i].Start + len(chunks[i].Content) - len(body) + firstLineLen(body)
		for h < len(heads) && heads[h].offset <= limit {
			current = heads[h].text
			h++
		}
		md := make(map[string]string, 4)
		for k, v := range chunks[i].Metadata {
			md[k] = v
		}
		md[MetaFile] = m.File
		md[MetaTitle] = m.Title
		md[MetaDocType] = m.DocType
		if current != "" {
			md[MetaHeading] = current
		}
		chunks[i].Metadata = md
	}
}

// heading is a markdown ATX heading and its byte offset in the document.
type heading struct {
	offset int
	text   string
}

// headings returns every ATX heading outside fenced code blocks.
func headings(content string) []heading {
	var out []heading
	inFence := false
	offset := 0
	for _, line := range strings.SplitAfter(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		} else if !inFence {
			if level, text := headingOf(line); level > 0 && text != "" {
				out = append(out, heading{offset: offset, text: text})
			}
		}
		offset += len(line)
	}
	return out
}

// headingOf parses an ATX heading line, returning its level and text, or
// level 0 when line is not a heading.
func headingOf(line string) (int, string) {
	line = strings.TrimRight(line, "\r\n")
	level := 0
	for level < len(line) && level < 6 && line[level] == '#' {
		level++
	}
	if level == 0 || (level < len(line) && line[level] != ' ' && line[level] != '\t') {
		return 0, ""
	}
	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line[level:]), "#"))
	return level, text
}

// firstLineLen returns the byte length of s up to its first newline.
func firstLineLen(s string) int {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return i
	}
	return len(s)
}

// trimSegments splits a slash path into non-empty segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" && p != "." {
			out = append(out, p)
		}
	}
	return out
}
