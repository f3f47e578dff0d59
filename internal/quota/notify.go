package quota

import (
	"log/slog"
	"sync"

	"github.com/DukeRupert/parley/internal/domain"
)

// Notifier receives threshold events. Delivery is fire-and-forget: Notify
// must not block and the tracker never waits for an acknowledgment.
type Notifier interface {
	Notify(kind domain.NotificationKind)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(kind domain.NotificationKind)

func (f NotifierFunc) Notify(kind domain.NotificationKind) { f(kind) }

// MultiNotifier fans one event out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(kind domain.NotificationKind) {
	for _, n := range m {
		if n != nil {
			n.Notify(kind)
		}
	}
}

// LogNotifier writes each event to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(kind domain.NotificationKind) {
	n.Logger.Info("quota notification", "kind", kind)
}

// DefaultMailboxSize bounds the number of undelivered events kept per session.
const DefaultMailboxSize = 16

// Mailbox buffers events until the client collects them. When full, the
// oldest event is dropped.
type Mailbox struct {
	mu      sync.Mutex
	pending []domain.NotificationKind
	size    int
}

// NewMailbox creates a mailbox holding at most size events.
func NewMailbox(size int) *Mailbox {
	if size < 1 {
		size = DefaultMailboxSize
	}
	return &Mailbox{size: size}
}

func (m *Mailbox) Notify(kind domain.NotificationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == m.size {
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, kind)
}

// Drain returns all pending events in arrival order and empties the mailbox.
func (m *Mailbox) Drain() []domain.NotificationKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.pending
	m.pending = nil
	if out == nil {
		return []domain.NotificationKind{}
	}
	return out
}
