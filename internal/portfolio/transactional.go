package portfolio

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/remote"
)

var ErrAlreadyCommitted = errors.New("transactional already committed")

// Transactional buffers state changes and events produced during a polling cycle. Nothing is
// visible until Run; a Transactional which is dropped instead leaves no trace.
type Transactional struct {
	portfolio *Portfolio
	mutations []func()
	events    []event.Event
	overview  *domain.Overview
	committed bool
}

func (t *Transactional) Portfolio() *Portfolio { return t.portfolio }

func (t *Transactional) Tenant() remote.Tenant { return t.portfolio.tenant }

func (t *Transactional) Now() time.Time { return t.portfolio.Now() }

func (t *Transactional) Today() civil.Date { return t.portfolio.Today() }

// Overview returns the overview staged in this cycle, falling back to the committed one.
func (t *Transactional) Overview() domain.Overview {
	if t.overview != nil {
		return *t.overview
	}
	return t.portfolio.Overview()
}

// SetOverview stages o to be published on commit.
func (t *Transactional) SetOverview(o domain.Overview) {
	t.overview = &o
}

// Defer records a state change to apply on commit.
func (t *Transactional) Defer(mutation func()) {
	t.mutations = append(t.mutations, mutation)
}

// Fire records an event to deliver on commit.
func (t *Transactional) Fire(e event.Event) {
	t.events = append(t.events, e)
}

// Pending returns the number of buffered mutations and events.
func (t *Transactional) Pending() (mutations, events int) {
	return len(t.mutations), len(t.events)
}

// Run applies every mutation, publishes the staged overview and then fires every event, each in
// the order recorded.
func (t *Transactional) Run(ctx context.Context) error {
	if t.committed {
		return ErrAlreadyCommitted
	}
	t.committed = true
	for _, m := range t.mutations {
		m()
	}
	if t.overview != nil {
		t.portfolio.setOverview(*t.overview)
	}
	if t.portfolio.firer != nil {
		for _, e := range t.events {
			t.portfolio.firer.Fire(ctx, e)
		}
	}
	t.mutations, t.events = nil, nil
	return nil
}
