package engine

import (
	"log/slog"
	"sync"

	"github.com/statorhq/stator/pkg/stator/core"
)

// Notifier is the wait/notify channel between suspended walks and external
// asynchronous responses. A walk registers a continuation against a set of
// correlation IDs; each ID is delivered exactly once, and the continuation
// fires on whatever goroutine delivers the final outstanding ID.
//
// Responses that arrive before the walk has registered are buffered, so
// steps may trigger external work from Execute without racing registration.
type Notifier struct {
	mu       sync.Mutex
	waits    map[string]*wait // correlation ID -> wait group
	byGroup  map[string]*wait // group ID -> wait group, for cancellation
	early    map[string]core.ResponseData
	canceled map[string]bool
}

type wait struct {
	groupID   string
	remaining int
	responses map[string]core.ResponseData
	fn        func(map[string]core.ResponseData)
}

func NewNotifier() *Notifier {
	return &Notifier{
		waits:    make(map[string]*wait),
		byGroup:  make(map[string]*wait),
		early:    make(map[string]core.ResponseData),
		canceled: make(map[string]bool),
	}
}

// Register arms a continuation for the given correlation IDs. The groupID
// (typically the suspended instance's UUID) allows the whole wait to be
// cancelled on abort. If every ID was already delivered, the continuation
// fires synchronously on the registering goroutine.
func (n *Notifier) Register(groupID string, correlationIDs []string, fn func(map[string]core.ResponseData)) {
	w := &wait{
		groupID:   groupID,
		remaining: len(correlationIDs),
		responses: make(map[string]core.ResponseData, len(correlationIDs)),
		fn:        fn,
	}

	n.mu.Lock()
	for _, id := range correlationIDs {
		if data, ok := n.early[id]; ok {
			delete(n.early, id)
			w.responses[id] = data
			w.remaining--
			continue
		}
		n.waits[id] = w
	}
	n.byGroup[groupID] = w
	done := w.remaining == 0
	if done {
		delete(n.byGroup, groupID)
	}
	n.mu.Unlock()

	if done {
		fn(w.responses)
	}
}

// Notify delivers the response for one correlation ID. Unknown IDs are
// buffered until a walk registers for them; IDs cancelled by an abort are
// dropped.
func (n *Notifier) Notify(correlationID string, data core.ResponseData) {
	n.mu.Lock()
	if n.canceled[correlationID] {
		delete(n.canceled, correlationID)
		n.mu.Unlock()
		slog.Debug("Dropping notification for cancelled correlation id", "correlation_id", correlationID)
		return
	}
	w, ok := n.waits[correlationID]
	if !ok {
		n.early[correlationID] = data
		n.mu.Unlock()
		return
	}
	delete(n.waits, correlationID)
	if _, dup := w.responses[correlationID]; dup {
		n.mu.Unlock()
		return
	}
	w.responses[correlationID] = data
	w.remaining--
	done := w.remaining == 0
	if done {
		delete(n.byGroup, w.groupID)
	}
	n.mu.Unlock()

	if done {
		w.fn(w.responses)
	}
}

// Cancel tears down the wait registered under groupID and marks its still
// outstanding correlation IDs so late deliveries are dropped.
func (n *Notifier) Cancel(groupID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.byGroup[groupID]
	if !ok {
		return
	}
	delete(n.byGroup, groupID)
	for id, registered := range n.waits {
		if registered == w {
			delete(n.waits, id)
			n.canceled[id] = true
		}
	}
}
