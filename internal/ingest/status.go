package ingest

import (
	"sync"
	"time"

	"kangaroo-trader/internal/model"
)

// StatusReader is the read-only view handed to everything except the engine.
type StatusReader interface {
	Status() model.EngineStatus
	Subscribe() (<-chan model.EngineStatus, func())
}

// StatusPublisher holds the engine's current phase. Only the Engine writes it.
type StatusPublisher struct {
	mu      sync.RWMutex
	current model.EngineStatus
	subs    map[chan model.EngineStatus]struct{}
}

func NewStatusPublisher() *StatusPublisher {
	return &StatusPublisher{
		current: model.EngineStatus{Status: model.EngineStarting, Detail: "initialising"},
		subs:    make(map[chan model.EngineStatus]struct{}),
	}
}

// Status returns a copy of the current status.
func (p *StatusPublisher) Status() model.EngineStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel receiving every status change, starting with
// the current one, and a func that ends the subscription. Slow readers miss
// intermediate updates rather than blocking the engine.
func (p *StatusPublisher) Subscribe() (<-chan model.EngineStatus, func()) {
	ch := make(chan model.EngineStatus, 1)

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	ch <- p.current
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			close(ch)
			p.mu.Unlock()
		})
	}
}

func (p *StatusPublisher) set(state model.EngineState, detail string, active bool) {
	p.update(func(s *model.EngineStatus) {
		s.Status = state
		s.Detail = detail
		s.Active = active
	})
}

func (p *StatusPublisher) markRun(at time.Time) {
	p.update(func(s *model.EngineStatus) { s.LastRun = at })
}

func (p *StatusPublisher) update(fn func(*model.EngineStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.current
	fn(&p.current)
	if p.current == prev {
		return
	}
	for ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p.current:
		default:
		}
	}
}
