package tui

import "github.com/qingrongy/logtmpl/pkg/interfaces"

// ChannelObserver forwards every StageEvent onto a channel for a Model to
// consume. Sends are non-blocking past a small buffer so a slow or absent
// TUI reader can never stall the orchestrator (spec §4.8: observer calls
// "must never block the pipeline").
type ChannelObserver struct {
	events chan interfaces.StageEvent
}

// NewChannelObserver creates a ChannelObserver with the given buffer size.
// Buffer 0 still delivers events, but OnStage will drop one rather than
// block once the buffer (if any) is full.
func NewChannelObserver(buffer int) *ChannelObserver {
	return &ChannelObserver{events: make(chan interfaces.StageEvent, buffer)}
}

// Events returns the read side for a Model.
func (c *ChannelObserver) Events() <-chan interfaces.StageEvent { return c.events }

// Close signals no more events will be sent, letting a listening Model
// exit cleanly.
func (c *ChannelObserver) Close() { close(c.events) }

func (c *ChannelObserver) OnStage(event interfaces.StageEvent) {
	select {
	case c.events <- event:
	default:
		// Drop rather than block; the TUI is best-effort.
	}
}
