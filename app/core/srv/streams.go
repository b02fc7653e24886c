package srv

import (
	"log/slog"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// StreamRegistry maps in-flight assistant message ids to the cancel func of
// the request that produces them.
type StreamRegistry struct {
	signals cmap.ConcurrentMap[string, func()]
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		signals: cmap.New[func()](),
	}
}

func (e *StreamRegistry) RegisterStreamSignal(msgID string, closeFunc func()) (removeFunc func()) {
	e.signals.Set(msgID, closeFunc)
	return func() {
		e.signals.Remove(msgID)
	}
}

// CloseStream cancels the stream of msgID. It reports false when no such
// stream is running.
func (e *StreamRegistry) CloseStream(msgID string) bool {
	closeFunc, exist := e.signals.Pop(msgID)
	if !exist {
		return false
	}
	slog.Debug("close chat stream signal", slog.String("message_id", msgID))
	closeFunc()
	return true
}

func (e *StreamRegistry) Count() int {
	return e.signals.Count()
}
