package remote

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
)

// DialFunc opens a new connection to a host.
type DialFunc func(ctx context.Context) (io.Closer, error)

type slot struct {
	token chan struct{}
	conn  io.Closer
}

// Pool hands out per-host connections. A host's connection is owned by at
// most one Lease at a time; other callers block in Acquire until it is
// released.
type Pool struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

func NewPool() *Pool {
	return &Pool{slots: make(map[int64]*slot)}
}

func (p *Pool) slot(hostID int64) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[hostID]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		p.slots[hostID] = s
	}
	return s
}

// Acquire takes the host's lease, dialing when no idle connection exists.
func (p *Pool) Acquire(ctx context.Context, hostID int64, dial DialFunc) (*Lease, error) {
	s := p.slot(hostID)

	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.conn == nil {
		conn, err := dial(ctx)
		if err != nil {
			<-s.token
			return nil, err
		}
		s.conn = conn
	}

	return &Lease{slot: s, hostID: hostID}, nil
}

// InUse reports whether a lease for hostID is currently held.
func (p *Pool) InUse(hostID int64) bool {
	s := p.slot(hostID)
	return len(s.token) == 1
}

// Close closes every idle connection. Leased connections are closed when
// their lease is released with discard.
func (p *Pool) Close() error {
	p.mu.Lock()
	slots := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		slots = append(slots, s)
	}
	p.mu.Unlock()

	for _, s := range slots {
		select {
		case s.token <- struct{}{}:
			if s.conn != nil {
				_ = s.conn.Close()
				s.conn = nil
			}
			<-s.token
		default:
		}
	}
	return nil
}

// Lease is exclusive ownership of one host connection.
type Lease struct {
	slot   *slot
	hostID int64
	once   sync.Once
}

func (l *Lease) Conn() io.Closer {
	return l.slot.conn
}

// Release returns the connection to the pool. With discard the connection is
// closed and the next Acquire dials again. Calling Release more than once is a
// no-op.
func (l *Lease) Release(discard bool) {
	l.once.Do(func() {
		if discard && l.slot.conn != nil {
			if err := l.slot.conn.Close(); err != nil {
				zap.L().Debug("[Remote] closing discarded connection", zap.Int64("host_id", l.hostID), zap.Error(err))
			}
			l.slot.conn = nil
		}
		<-l.slot.token
	})
}
