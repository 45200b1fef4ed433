package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Template variables.
const (
	varContext  = "context"
	varQuestion = "question"
	varHistory  = "chat_history"
)

// simpleInstruction asks for answers grounded in the retrieved documents only.
const simpleInstruction = `Use the following documents to answer the question.
If the answer is not in the documents, say that you don't know.

{context}

Question: {question}`

// advancedSystemPrompt is the technical-documentation assistant persona.
const advancedSystemPrompt = `You are an assistant specialised in technical documentation for developers.

Your goal is to help programmers understand and use the documentation efficiently.

GUIDELINES:
1. **Technical precision**: Be exact and specific. Developers need details.
2. **Code examples**: Include practical code examples whenever possible.
3. **Citations**: When you use information, say which document it came from.
4. **Formatting**: Use markdown, with fenced code blocks tagged by language
   (python, javascript, bash, etc.) and inline code for function and variable names.
5. **Conversational context**: Use the conversation history to give contextual answers.
6. **Honesty**: If something is not in the documentation, say clearly
   "I could not find this in the provided documentation".

ANSWER BASED ON THE CONTEXT OF THE DOCUMENTS BELOW:

{context}

If the question involves concepts from the earlier conversation, use the history to give a more complete answer.`

// newTemplate returns the chat template of the variant.
func newTemplate(v Variant) prompt.ChatTemplate {
	if v == VariantSimple {
		return prompt.FromMessages(schema.FString,
			schema.UserMessage(simpleInstruction),
		)
	}
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(advancedSystemPrompt),
		schema.MessagesPlaceholder(varHistory, true),
		schema.UserMessage("{"+varQuestion+"}"),
	)
}

// formatContext renders retrieved chunks for the prompt. The advanced
// variant labels each chunk with its file and lists the files consulted.
func formatContext(v Variant, docs []rag.Scored) string {
	if v == VariantSimple {
		parts := make([]string, len(docs))
		for i, d := range docs {
			parts[i] = d.Chunk.Content
		}
		return strings.Join(parts, "\n\n")
	}

	var b strings.Builder
	seen := make(map[string]bool, len(docs))
	var files []string
	for i, d := range docs {
		file := fileName(d.Chunk)
		fmt.Fprintf(&b, "[Document %d - %s]\n%s\n\n", i+1, file, d.Chunk.Content)
		if !seen[file] {
			seen[file] = true
			files = append(files, file)
		}
	}
	sort.Strings(files)
	b.WriteString("Sources consulted:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return strings.TrimRight(b.String(), "\n")
}

// fileName is the base name of a chunk's source document.
func fileName(c rag.Chunk) string {
	if f := c.Metadata["file"]; f != "" {
		return f
	}
	if c.Source == "" {
		return "unknown"
	}
	return filepath.Base(c.Source)
}
