package view

import (
	"sync"
	"time"

	"spendlog/internal/controller"
	"spendlog/internal/log"
)

// Broadcaster receives change events for open pages.
type Broadcaster interface {
	Broadcast(ev Event)
}

// Publisher implements controller.Renderer. It keeps the model built from
// the newest snapshot and drops snapshots older than the one it holds.
type Publisher struct {
	mu     sync.RWMutex
	model  Model
	seen   bool
	now    func() time.Time
	out    Broadcaster
	logger *log.Logger
}

var _ controller.Renderer = (*Publisher)(nil)

func NewPublisher(out Broadcaster, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Discard()
	}
	p := &Publisher{
		now:    time.Now,
		out:    out,
		logger: logger.WithComponent(log.ComponentView),
	}
	p.model = Build(controller.Snapshot{}, p.now())
	return p
}

func (p *Publisher) Refresh(s controller.Snapshot) { p.apply(s, KindRefresh) }

func (p *Publisher) RenderTable(s controller.Snapshot) { p.apply(s, KindTable) }

func (p *Publisher) apply(s controller.Snapshot, kind Kind) {
	p.mu.Lock()
	if p.seen && s.Version < p.model.Version {
		current := p.model.Version
		p.mu.Unlock()
		p.logger.Debug("Dropping stale snapshot", "version", s.Version, "current", current)
		return
	}
	p.model = Build(s, p.now())
	p.seen = true
	p.mu.Unlock()

	p.logger.Debug("View updated", log.FieldOperation, log.OpRender, "type", kind, "version", s.Version)
	if p.out != nil {
		p.out.Broadcast(Event{Type: kind, Version: s.Version})
	}
}

// Model returns the latest model with today's date.
func (p *Publisher) Model() Model {
	p.mu.RLock()
	m := p.model
	p.mu.RUnlock()
	m.Today = p.now().Format(TodayLayout)
	return m
}

// Version returns the version of the latest model.
func (p *Publisher) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model.Version
}
