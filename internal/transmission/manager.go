package transmission

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/opendataspace/commons/internal/event"
)

// ErrDuplicate is returned when a transmission is added twice.
var ErrDuplicate = errors.New("transmission already registered")

// Manager tracks the active transmissions of a controller. A transmission
// leaves the active set as soon as it is done.
type Manager struct {
	mu           sync.Mutex
	active       map[uuid.UUID]*Transmission
	unsubs       map[uuid.UUID]func()
	order        []uuid.UUID
	maxBandwidth int64
	onDone       func(*Transmission)
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[uuid.UUID]*Transmission),
		unsubs: make(map[uuid.UUID]func()),
	}
}

// OnDone sets a hook invoked once for every registered transmission that
// reaches a terminal status.
func (m *Manager) OnDone(fn func(*Transmission)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDone = fn
}

// Add registers tr. A manager-wide bandwidth cap, if set, is applied to it.
// A transmission that is already done is reported to the OnDone hook and not
// kept.
func (m *Manager) Add(tr *Transmission) error {
	m.mu.Lock()
	if _, ok := m.active[tr.ID()]; ok {
		m.mu.Unlock()
		return ErrDuplicate
	}
	if tr.Done() {
		hook := m.onDone
		m.mu.Unlock()
		if hook != nil {
			hook(tr)
		}
		return nil
	}
	m.active[tr.ID()] = tr
	m.order = append(m.order, tr.ID())
	limit := m.maxBandwidth
	m.mu.Unlock()

	unsub := tr.Subscribe(func(c event.Change) {
		if c.Property == event.Status && tr.Done() {
			m.finish(tr)
		}
	})

	m.mu.Lock()
	_, stillActive := m.active[tr.ID()]
	if stillActive {
		m.unsubs[tr.ID()] = unsub
	}
	m.mu.Unlock()
	if !stillActive {
		unsub()
	}

	if limit > 0 {
		tr.SetMaxBandwidth(limit)
	}
	// The status may have turned terminal before the subscription landed.
	if tr.Done() {
		m.finish(tr)
	}
	return nil
}

func (m *Manager) finish(tr *Transmission) {
	m.mu.Lock()
	if _, ok := m.active[tr.ID()]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, tr.ID())
	for i, id := range m.order {
		if id == tr.ID() {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	unsub := m.unsubs[tr.ID()]
	delete(m.unsubs, tr.ID())
	hook := m.onDone
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if hook != nil {
		hook(tr)
	}
}

// Get returns the active transmission with the given id.
func (m *Manager) Get(id uuid.UUID) (*Transmission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.active[id]
	return tr, ok
}

// Active returns the active transmissions in registration order.
func (m *Manager) Active() []*Transmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Transmission, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.active[id])
	}
	return out
}

// Len returns the number of active transmissions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func (m *Manager) PauseAll() {
	for _, tr := range m.Active() {
		tr.Pause()
	}
}

func (m *Manager) ResumeAll() {
	for _, tr := range m.Active() {
		tr.Resume()
	}
}

func (m *Manager) AbortAll() {
	for _, tr := range m.Active() {
		tr.Abort()
	}
}

// SetMaxBandwidth caps every active transmission and any added later.
// Zero or less lifts the cap.
func (m *Manager) SetMaxBandwidth(n int64) {
	m.mu.Lock()
	m.maxBandwidth = n
	m.mu.Unlock()
	for _, tr := range m.Active() {
		tr.SetMaxBandwidth(n)
	}
}
