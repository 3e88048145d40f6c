package message

import (
	"time"

	"github.com/DoganK01/VoiceAiAssistant/internal/store"
)

// FormatHistory converts stored conversation turns (oldest-first) into the
// message log replayed to the agent. A request entry is emitted whenever a
// turn has a user transcript, falling back to the current time when the
// stored timestamp is absent; a response entry is emitted only when the turn
// has response text.
func FormatHistory(turns []store.ConversationTurn) []Message {
	msgs := make([]Message, 0, 2*len(turns))
	for _, turn := range turns {
		if turn.UserTranscript != nil && *turn.UserTranscript != "" {
			ts := time.Now().UTC()
			if turn.UserTimestamp != nil {
				ts = *turn.UserTimestamp
			}
			msgs = append(msgs, Request{
				Parts:     []RequestPart{UserPrompt{Content: *turn.UserTranscript, Timestamp: ts}},
				Timestamp: ts,
			})
		}
		if turn.AIResponse != nil && *turn.AIResponse != "" {
			ts := time.Now().UTC()
			if turn.AITimestamp != nil {
				ts = *turn.AITimestamp
			}
			msgs = append(msgs, Response{
				Parts:     []ResponsePart{Text{Content: *turn.AIResponse}},
				Timestamp: ts,
			})
		}
	}
	return msgs
}
