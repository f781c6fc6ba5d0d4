package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

type outboxState uint8

const (
	statePending outboxState = iota
	stateSent
	stateFailed
)

const defaultPullLimit = 100

type outboxEntry struct {
	msg        domain.OutboxMessage
	state      outboxState
	deliveries int
	createdAt  time.Time
	settledAt  time.Time
}

// OutboxLog — журнал outbox в памяти. Записи хранятся в порядке Enqueue,
// и этот же порядок соблюдается при выдаче.
type OutboxLog struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
	now     func() time.Time
}

// NewOutboxRepository создаёт пустой журнал outbox.
func NewOutboxRepository() *OutboxLog {
	return &OutboxLog{
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (l *OutboxLog) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return l.append(msg), nil
}

// append вызывается и при коммите транзакции Store.
func (l *OutboxLog) append(msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	l.mu.Lock()
	defer l.mu.Unlock()
	e := &outboxEntry{msg: msg, state: statePending, createdAt: l.now()}
	l.entries = append(l.entries, e)
	l.byID[msg.ID] = e
	return msg
}

func (l *OutboxLog) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	return l.collect(statePending, limit), nil
}

func (l *OutboxLog) Stats(_ context.Context) (domain.OutboxStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range l.entries {
		switch e.state {
		case statePending:
			if stats.PendingCount == 0 {
				stats.OldestPendingAt = e.createdAt
			}
			stats.PendingCount++
		case stateFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (l *OutboxLog) MarkSent(_ context.Context, id string) error {
	return l.settle(id, stateSent)
}

func (l *OutboxLog) MarkFailed(_ context.Context, id string) error {
	return l.settle(id, stateFailed)
}

// RequeueFailed возвращает в очередь до limit failed-записей, старые первыми.
// limit <= 0 снимает ограничение.
func (l *OutboxLog) RequeueFailed(_ context.Context, limit int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	requeued := 0
	for _, e := range l.entries {
		if limit > 0 && requeued == limit {
			break
		}
		if e.state != stateFailed {
			continue
		}
		e.state, e.settledAt = statePending, time.Time{}
		requeued++
	}
	return requeued, nil
}

// AllPending возвращает все ещё не доставленные сообщения.
func (l *OutboxLog) AllPending() []domain.OutboxMessage {
	return l.collect(statePending, 0)
}

func (l *OutboxLog) collect(state outboxState, limit int) []domain.OutboxMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, e := range l.entries {
		if e.state != state {
			continue
		}
		out = append(out, e.msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (l *OutboxLog) settle(id string, state outboxState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("outbox message %s: %w", id, domain.ErrOutboxPublish)
	}
	e.state = state
	e.deliveries++
	e.settledAt = l.now()
	return nil
}

var _ domain.OutboxRepository = (*OutboxLog)(nil)
