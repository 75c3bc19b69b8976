// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package events is the side channel the binding engine emits on. The engine
// never writes audit records itself; subscribers (logging, metrics, cache
// invalidation) act on what they receive.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	DeviceBound          Type = "device_bound"
	DeviceUnbound        Type = "device_unbound"
	BindingsReset        Type = "bindings_reset"
	LicenseStatusChanged Type = "license_status_changed"
)

type Event struct {
	Type       Type
	LicenseID  int
	DeviceHash string
	Status     string
	At         time.Time
}

type Handler func(Event)

// Publisher fans events out synchronously to all subscribers. Handlers must
// not block; anything slow belongs behind the handler's own goroutine.
type Publisher struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

func (p *Publisher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	p.mu.RLock()
	handlers := p.handlers
	p.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
