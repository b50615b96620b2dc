package memstore

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-sayur-orders/internal/notify"
)

// Dispatcher records every notification instead of sending it.
type Dispatcher struct {
	mu      sync.Mutex
	Placed  []notify.OrderPlaced
	TopUps  []notify.TopUpSucceeded
	Changed []notify.StatusChanged
	// Err, when set, is returned from every call after recording.
	Err error
}

var _ notify.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) OrderPlaced(_ context.Context, ev notify.OrderPlaced) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Placed = append(d.Placed, ev)
	return d.Err
}

func (d *Dispatcher) TopUpSucceeded(_ context.Context, ev notify.TopUpSucceeded) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TopUps = append(d.TopUps, ev)
	return d.Err
}

func (d *Dispatcher) StatusChanged(_ context.Context, ev notify.StatusChanged) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Changed = append(d.Changed, ev)
	return d.Err
}

func (d *Dispatcher) Counts() (placed, topups, changed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Placed), len(d.TopUps), len(d.Changed)
}
