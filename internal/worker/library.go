package worker

import (
	"github.com/book-expert/audio-studio/internal/core"
	"github.com/book-expert/audio-studio/internal/library"
	"github.com/nats-io/nats.go"
)

// handleLibrary answers with the background catalogue, optionally filtered
// by category. An empty body lists everything.
func (w *NatsWorker) handleLibrary(msg *nats.Msg) {
	request := &core.LibraryRequest{}

	if len(msg.Data) > 0 {
		parsed, err := parseEvent[core.LibraryRequest](msg)
		if err != nil {
			w.log.Warn("Failed to parse library request: %v", err)
			w.replyError(msg, err)

			return
		}

		request = parsed
	}

	category := request.Category
	if category == "" {
		category = library.CategoryAll
	}

	listing := core.LibraryListing{
		Category:   category,
		Categories: library.Categories(),
		Tracks:     library.ByCategory(category),
	}

	err := w.respond(msg, listing)
	if err != nil {
		w.log.Error("Failed to reply to library request: %v", err)
	}
}
