package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Observer is notified of every channel attempt.
type Observer func(channel string, err error)

// BreakerSettings configures the per-channel circuit breakers.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Dispatcher routes a message to the channels a recipient prefers. It never returns an error.
type Dispatcher struct {
	email    Channel
	sms      Channel
	breakers map[string]*gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   *zap.Logger
	observe  Observer
}

// NewDispatcher wires email and sms channels behind circuit breakers.
func NewDispatcher(email, sms Channel, timeout time.Duration, breaker BreakerSettings, logger *zap.Logger, observe Observer) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		email:    email,
		sms:      sms,
		breakers: map[string]*gobreaker.CircuitBreaker{},
		timeout:  timeout,
		logger:   logger,
		observe:  observe,
	}
	for _, ch := range []Channel{email, sms} {
		if ch != nil {
			d.breakers[ch.Name()] = newBreaker(ch.Name(), breaker, logger)
		}
	}
	return d
}

func newBreaker(name string, cfg BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "delivery-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("delivery circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// Send delivers msg by email when the recipient has an address, and by SMS when their preference includes it.
func (d *Dispatcher) Send(ctx context.Context, to Recipient, msg Message) Result {
	result := Result{Success: true}

	if d.email != nil && to.Email != "" {
		result.Attempts = append(result.Attempts, d.attempt(ctx, d.email, to, msg))
	}
	if to.Preference.WantsSMS() && d.sms != nil {
		if to.Phone == "" {
			result.Attempts = append(result.Attempts, Attempt{Channel: d.sms.Name(), Err: ErrNoAddress})
		} else {
			result.Attempts = append(result.Attempts, d.attempt(ctx, d.sms, to, msg))
		}
	}

	for _, a := range result.Attempts {
		if a.Err != nil {
			result.Success = false
			d.logger.Warn("delivery failed",
				zap.String("channel", a.Channel), zap.String("recipient", to.Name), zap.Error(a.Err))
		}
		if d.observe != nil {
			d.observe(a.Channel, a.Err)
		}
	}
	return result
}

func (d *Dispatcher) attempt(ctx context.Context, ch Channel, to Recipient, msg Message) (attempt Attempt) {
	attempt.Channel = ch.Name()
	defer func() {
		if r := recover(); r != nil {
			attempt.Err = fmt.Errorf("channel panic: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err := d.breakers[ch.Name()].Execute(func() (interface{}, error) {
		return nil, ch.Send(sendCtx, to, msg)
	})
	attempt.Err = err
	return attempt
}
