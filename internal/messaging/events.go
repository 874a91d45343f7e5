package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// eventChannels owns a service's receipt and response channels. Emits hold the read
// lock so close cannot race with a send.
type eventChannels struct {
	mu        sync.RWMutex
	stopped   bool
	receipts  chan models.Receipt
	responses chan models.Response
}

func newEventChannels() *eventChannels {
	return &eventChannels{
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (e *eventChannels) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

// emitReceipt drops the receipt when stopped or when nobody drains the channel in time.
func (e *eventChannels) emitReceipt(r models.Receipt) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return
	}
	select {
	case e.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: receipts channel blocked, dropping receipt", "to", r.To, "timeout", DefaultChannelTimeout)
	}
}

// emitResponse reports whether the inbound message was queued.
func (e *eventChannels) emitResponse(r models.Response) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		slog.Warn("messaging: dropping inbound message (service stopped)", "from", r.From)
		return false
	}
	select {
	case e.responses <- r:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: responses channel blocked, dropping message", "from", r.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// close closes both channels once; later calls report false.
func (e *eventChannels) close() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.stopped = true
	close(e.receipts)
	close(e.responses)
	return true
}
