package channel

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

const defaultSSEKeepAlive = 25 * time.Second

// SSEBroker fans notifications out to text/event-stream subscribers keyed by account.
type SSEBroker struct {
	mu     sync.RWMutex
	subs   map[shared.AccountID]map[chan []byte]struct{}
	logger *zap.Logger

	keepAlive time.Duration
}

// NewSSEBroker creates an empty broker.
func NewSSEBroker(logger *zap.Logger) *SSEBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEBroker{
		subs:      make(map[shared.AccountID]map[chan []byte]struct{}),
		logger:    logger,
		keepAlive: defaultSSEKeepAlive,
	}
}

// SetKeepAlive changes the comment-ping interval of new streams. Call before serving.
func (b *SSEBroker) SetKeepAlive(d time.Duration) {
	if d > 0 {
		b.keepAlive = d
	}
}

// Subscribe registers a stream for the account. The returned func unsubscribes.
func (b *SSEBroker) Subscribe(accountID shared.AccountID) (<-chan []byte, func()) {
	ch := make(chan []byte, sendBufferSize)
	b.mu.Lock()
	set := b.subs[accountID]
	if set == nil {
		set = make(map[chan []byte]struct{})
		b.subs[accountID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(accountID, ch) })
	}
}

func (b *SSEBroker) remove(accountID shared.AccountID, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[accountID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.subs, accountID)
	}
	close(ch)
}

// Send implements Pusher. Streams with a full buffer miss the message.
func (b *SSEBroker) Send(accountID shared.AccountID, payload []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	accepted := 0
	for ch := range b.subs[accountID] {
		select {
		case ch <- payload:
			accepted++
		default:
			b.logger.Warn("sse subscriber buffer full", zap.String("account_id", accountID.String()))
		}
	}
	return accepted
}

// Subscribers returns the number of open streams for the account.
func (b *SSEBroker) Subscribers(accountID shared.AccountID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[accountID])
}

// ServeStream writes the account's notifications to w until the request ends.
func (b *SSEBroker) ServeStream(w http.ResponseWriter, r *http.Request, accountID shared.AccountID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	stream, unsubscribe := b.Subscribe(accountID)
	defer unsubscribe()

	keepAlive := time.NewTicker(b.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: notification\ndata: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// CloseAll ends every stream.
func (b *SSEBroker) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for accountID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, accountID)
	}
}
