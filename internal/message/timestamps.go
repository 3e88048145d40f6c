package message

import (
	"time"

	"go.uber.org/zap"
)

// ExtractTimestamps scans a finalized message log (oldest-first) and returns
// the timestamp of the last user prompt and the timestamp of the final
// response that contains generated text. Log order is authoritative for
// "last", not clock value. Either result may be the zero time when the log
// holds no matching entry; that is logged as a warning, never an error.
func ExtractTimestamps(msgs []Message, logger *zap.Logger) (userTS, aiTS time.Time) {
	for _, m := range msgs {
		req, ok := m.(Request)
		if !ok {
			continue
		}
		for _, p := range req.Parts {
			if up, ok := p.(UserPrompt); ok {
				userTS = up.Timestamp
			}
		}
	}
	if userTS.IsZero() {
		logger.Warn("no user prompt timestamp found in agent messages")
	}

	// Walk backwards for the final text-bearing response; responses that
	// only carry tool invocations are skipped.
	for i := len(msgs) - 1; i >= 0; i-- {
		resp, ok := msgs[i].(Response)
		if !ok {
			continue
		}
		if responseHasText(resp) {
			aiTS = resp.Timestamp
			break
		}
	}
	if aiTS.IsZero() {
		logger.Warn("no text response timestamp found in agent messages")
	}
	return userTS, aiTS
}

func responseHasText(resp Response) bool {
	for _, p := range resp.Parts {
		if t, ok := p.(Text); ok && t.Content != "" {
			return true
		}
	}
	return false
}
