package notify

import (
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

// Hub holds one aggregator per portal type, each attached to the matching
// session of a Manager.
type Hub struct {
	aggs   map[model.PortalType]*Aggregator
	detach []func()
}

// NewHub attaches an aggregator to every session of m.
func NewHub(m *syncengine.Manager, capacity int, logger *logrus.Logger) *Hub {
	h := &Hub{aggs: make(map[model.PortalType]*Aggregator, len(model.Portals))}
	for _, p := range model.Portals {
		agg := New(p, capacity, logger)
		h.aggs[p] = agg
		if s, ok := m.Session(p); ok {
			h.detach = append(h.detach, agg.Attach(s))
		}
	}
	return h
}

// For returns the aggregator of portal p.
func (h *Hub) For(p model.PortalType) (*Aggregator, bool) {
	agg, ok := h.aggs[p]
	return agg, ok
}

// Close detaches every aggregator from its session.
func (h *Hub) Close() {
	for _, fn := range h.detach {
		fn()
	}
	h.detach = nil
}
