package events

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Dispatcher routes events from the bus to webhooks. Webhook failures never
// reach DHCP processing.
type Dispatcher struct {
	bus      *Bus
	webhooks *WebhookSender
	hooks    []WebhookConfig
	logger   *slog.Logger
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(bus *Bus, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		webhooks: NewWebhookSender(timeout, logger),
		logger:   logger,
	}
}

// AddWebhook registers a webhook.
func (d *Dispatcher) AddWebhook(cfg WebhookConfig) {
	d.hooks = append(d.hooks, cfg)
}

// Run dispatches events until ctx is cancelled. Events already queued are
// still dispatched, then Run waits for in-flight deliveries.
func (d *Dispatcher) Run(ctx context.Context) {
	ch := d.bus.Subscribe(256)
	defer func() {
		d.bus.Unsubscribe(ch)
		d.webhooks.Wait()
		d.logger.Info("event dispatcher stopped")
	}()

	d.logger.Info("event dispatcher started", "webhooks", len(d.hooks))

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			d.dispatch(ctx, evt)
		case <-ctx.Done():
			d.drain(ctx, ch)
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, evt Event) {
	for _, cfg := range d.hooks {
		if matchesEvent(cfg.Events, string(evt.Type)) {
			d.webhooks.Send(ctx, cfg, evt)
		}
	}
}

// drain dispatches whatever is buffered in ch without blocking.
func (d *Dispatcher) drain(ctx context.Context, ch chan Event) {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			d.dispatch(ctx, evt)
		default:
			return
		}
	}
}

// matchesEvent checks the event type against exact names and "prefix.*"
// or "*" patterns. No patterns matches everything.
func matchesEvent(patterns []string, eventType string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == "*" || p == eventType {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(eventType, prefix+".") {
			return true
		}
	}
	return false
}
