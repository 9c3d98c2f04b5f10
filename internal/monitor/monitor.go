package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/events"
)

// Monitor turns engine events into prometheus counters and operator alerts.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Warn().Msg("monitor: no event bus; skipping")
		return
	}
	if m.Sink == nil {
		m.Sink = LogSink{}
	}
	stream, unsub := m.Bus.SubscribeMany(events.All, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.handle(env)
			}
		}
	}()
}

func (m *Monitor) handle(env events.Envelope) {
	count(env)
	if msg, ok := alertFor(env); ok {
		if err := m.Sink.Send(formatAlert(msg)); err != nil {
			log.Error().Err(err).Msg("monitor: alert delivery failed")
		}
	}
}

func formatAlert(msg string) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + msg
}
