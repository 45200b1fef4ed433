package session

import (
	"errors"
	"fmt"

	"github.com/54b3r/docrag-go/internal/pipeline"
)

// NotLoadedText is shown when a question is asked before a collection loads.
const NotLoadedText = "collection not loaded: select a collection before asking questions"

// Render turns an Ask or AskStream error into text for a chat transcript.
// It is the only place pipeline errors become prose.
func Render(err error) string {
	if err == nil {
		return ""
	}
	switch pipeline.KindOf(err) {
	case pipeline.KindNotLoaded:
		return NotLoadedText
	case pipeline.KindInvalidInput:
		return "Please type a question."
	case pipeline.KindCanceled:
		return "The answer was interrupted before it completed."
	case pipeline.KindUpstream:
		var pe *pipeline.Error
		if errors.As(err, &pe) && pe.Err != nil {
			return fmt.Sprintf("Error generating the answer: %v", pe.Err)
		}
		return "Error generating the answer."
	}
	if errors.Is(err, ErrBusy) {
		return "Another question is still being answered."
	}
	return fmt.Sprintf("Error: %v", err)
}
