package _switch

import (
	"errors"
	"sync"

	"github.com/adwski/projhub-signaling/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrEndpointExists = errors.New("endpoint is already connected")
)

// Switch holds outbound wires of all live connections
// and forwards events to them by connection id.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]model.Wire),
	}
}

func (sw *Switch) Connect(endpoint string, wire model.Wire) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[endpoint]; ok {
		return ErrEndpointExists
	}
	sw.fwd[endpoint] = wire
	sw.logger.Debug().Str("endpoint", endpoint).Msg("endpoint connected")
	return nil
}

func (sw *Switch) Disconnect(endpoint string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[endpoint]; ok {
		delete(sw.fwd, endpoint)
		sw.logger.Debug().Str("endpoint", endpoint).Msg("endpoint disconnected")
	}
}

// Send forwards event to a single endpoint.
// It reports false if endpoint is gone or its queue is full.
func (sw *Switch) Send(dst string, ev model.Event) bool {
	sw.mx.RLock()
	wire, ok := sw.fwd[dst]
	sw.mx.RUnlock()

	if !ok {
		sw.logger.Debug().
			Str("dst", dst).
			Str("event", ev.Name).
			Msg("cannot forward, dst not found")
		return false
	}
	return send(ev, dst, wire.TX, &sw.logger)
}

// Multicast forwards event to every listed endpoint except skip
// and returns number of endpoints that accepted it.
func (sw *Switch) Multicast(dsts []string, skip string, ev model.Event) int {
	var sent int

	sw.mx.RLock()
	defer sw.mx.RUnlock()

	for _, dst := range dsts {
		if dst == skip {
			continue
		}
		wire, ok := sw.fwd[dst]
		if !ok {
			continue
		}
		if send(ev, dst, wire.TX, &sw.logger) {
			sent++
		}
	}
	if sent == 0 && len(dsts) > 0 {
		sw.logger.Debug().
			Str("event", ev.Name).
			Msg("multicast did not reach anyone")
	}
	return sent
}

func send(ev model.Event, dst string, tx chan<- model.Event, logger *zerolog.Logger) bool {
	select {
	case tx <- ev:
		logger.Trace().Str("dst", dst).Str("event", ev.Name).Msg("event is forwarded")
		return true
	default:
		logger.Error().Str("dst", dst).Str("event", ev.Name).Msg("dead endpoint, queue is full")
		return false
	}
}
