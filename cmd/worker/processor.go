package main

import (
	"context"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/billing"
	"github.com/rs/zerolog"
)

type EventSource interface {
	ConsumeBillingEvent(ctx context.Context) (*billing.Event, error)
	Retry(ctx context.Context, ev billing.Event) error
	DeadLetter(ctx context.Context, ev billing.Event) error
}

type EventApplier interface {
	ApplyEvent(ctx context.Context, ev billing.Event) error
}

// RetryPolicy bounds how often a failing event goes back on the queue and
// how long the processor waits after a failure.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// EventProcessor drains the billing queue into the usage ledger.
type EventProcessor struct {
	source  EventSource
	applier EventApplier
	policy  RetryPolicy
	log     zerolog.Logger
}

func NewEventProcessor(source EventSource, applier EventApplier, policy RetryPolicy, log zerolog.Logger) *EventProcessor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &EventProcessor{source: source, applier: applier, policy: policy, log: log}
}

// Start blocks until ctx is canceled.
func (p *EventProcessor) Start(ctx context.Context) error {
	p.log.Info().Msg("Event processor started, waiting for billing events...")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Event processor stopped")
			return ctx.Err()
		default:
		}

		ev, err := p.source.ConsumeBillingEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error().Err(err).Msg("Error consuming billing event")
			p.backoff(ctx)
			continue
		}
		if ev == nil {
			continue
		}

		if !p.process(ctx, *ev) {
			p.backoff(ctx)
		}
	}
}

// process applies one event and reports whether it succeeded. A failed event
// is queued again until it runs out of attempts, then parked.
func (p *EventProcessor) process(ctx context.Context, ev billing.Event) bool {
	log := p.log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Int("attempt", ev.Attempts+1).Logger()

	err := p.applier.ApplyEvent(ctx, ev)
	if err == nil {
		log.Info().Dur("lag", eventLag(ev)).Msg("Billing event applied")
		return true
	}

	if ev.Attempts+1 >= p.policy.MaxAttempts {
		log.Error().Err(err).Msg("Billing event failed on its last attempt, moving to dead letter list")
		if dlErr := p.source.DeadLetter(ctx, ev); dlErr != nil {
			log.Error().Err(dlErr).Str("customer_id", ev.CustomerID).Str("subscription_id", ev.SubscriptionID).
				Msg("Failed to park billing event")
		}
		return false
	}

	log.Warn().Err(err).Msg("Failed to apply billing event, queueing it again")
	if rErr := p.source.Retry(ctx, ev); rErr != nil {
		log.Error().Err(rErr).Str("customer_id", ev.CustomerID).Str("subscription_id", ev.SubscriptionID).
			Msg("Failed to queue billing event again")
	}
	return false
}

func (p *EventProcessor) backoff(ctx context.Context) {
	if p.policy.Delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.policy.Delay):
	}
}

func eventLag(ev billing.Event) time.Duration {
	if ev.ReceivedAt.IsZero() {
		return 0
	}
	return time.Since(ev.ReceivedAt)
}
