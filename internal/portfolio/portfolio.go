// Package portfolio holds the investor's committed portfolio state and the Transactional
// wrapper through which a polling cycle changes it.
package portfolio

import (
	"context"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/remote"
)

// Firer receives events once they are committed. *event.Bus satisfies it.
type Firer interface {
	Fire(ctx context.Context, e event.Event)
}

type Option func(*Portfolio)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Portfolio) { p.now = now }
}

// Portfolio is owned by the scheduler and shared by reference with every component taking part
// in a polling cycle. Readers on other goroutines only ever see a committed Overview.
type Portfolio struct {
	tenant   remote.Tenant
	firer    Firer
	now      func() time.Time
	overview atomic.Pointer[domain.Overview]
}

func New(tenant remote.Tenant, firer Firer, opts ...Option) *Portfolio {
	p := &Portfolio{tenant: tenant, firer: firer, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.overview.Store(&domain.Overview{})
	return p
}

func (p *Portfolio) Tenant() remote.Tenant { return p.tenant }

func (p *Portfolio) Now() time.Time { return p.now().UTC() }

func (p *Portfolio) Today() civil.Date { return civil.DateOf(p.Now()) }

// Overview returns the overview published by the last committed cycle.
func (p *Portfolio) Overview() domain.Overview { return *p.overview.Load() }

func (p *Portfolio) setOverview(o domain.Overview) { p.overview.Store(&o) }

// Begin opens a Transactional for one polling cycle.
func (p *Portfolio) Begin() *Transactional {
	return &Transactional{portfolio: p}
}
