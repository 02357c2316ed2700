// Package history holds the conversation state of a chat session.
//
// A History is a value: Append returns a new History and never changes the
// receiver, so a failed turn can simply keep using the previous value.
package history

import (
	"chat-rag/internal/models"

	"github.com/tmc/langchaingo/llms"
)

type History struct {
	turns []models.Turn
}

func New(turns ...models.Turn) History {
	return History{turns: append([]models.Turn(nil), turns...)}
}

func (h History) Len() int { return len(h.turns) }

func (h History) Empty() bool { return len(h.turns) == 0 }

// Turns returns a copy of the turns, oldest first.
func (h History) Turns() []models.Turn {
	return append([]models.Turn(nil), h.turns...)
}

// Append returns h with t added at the end.
func (h History) Append(t models.Turn) History {
	turns := make([]models.Turn, len(h.turns), len(h.turns)+1)
	copy(turns, h.turns)
	return History{turns: append(turns, t)}
}

// Window returns the last n turns, or all of them when n <= 0.
func (h History) Window(n int) History {
	if n <= 0 || n >= len(h.turns) {
		return h
	}
	return History{turns: h.turns[len(h.turns)-n:]}
}

// Messages renders the turns as alternating human and AI messages.
func (h History) Messages() []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, 2*len(h.turns))
	for _, t := range h.turns {
		msgs = append(msgs,
			llms.TextParts(llms.ChatMessageTypeHuman, t.Question),
			llms.TextParts(llms.ChatMessageTypeAI, t.Answer),
		)
	}
	return msgs
}
