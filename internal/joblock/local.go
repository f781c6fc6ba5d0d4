package joblock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// LocalLocker — аренда в пределах одного процесса, когда Redis не настроен.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
	seq    uint64
}

type localLease struct {
	owner     uint64
	expiresAt time.Time
}

// NewLocalLocker создаёт in-process аренду.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]localLease),
		now:    time.Now,
	}
}

// TryAcquire занимает задачу, если она свободна или её аренда истекла.
func (l *LocalLocker) TryAcquire(_ context.Context, job string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("job %s: lease ttl must be positive", job)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.leases[job]; ok && now.Before(lease.expiresAt) {
		return nil, false, nil
	}
	l.seq++
	owner := l.seq
	l.leases[job] = localLease{owner: owner, expiresAt: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.leases[job]; ok && lease.owner == owner {
			delete(l.leases, job)
		}
	}
	return release, true, nil
}

var _ domain.JobLocker = (*LocalLocker)(nil)
