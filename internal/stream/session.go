// Package stream keeps one long-lived server-sent events connection per waiting client and
// forwards the reconciliation outcome for its correlation id.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paybridge/internal/notify"
)

type State int32

const (
	StateOpen State = iota
	StateSubscribed
	StateDelivering
	StateDelivered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSubscribed:
		return "subscribed"
	case StateDelivering:
		return "delivering"
	case StateDelivered:
		return "delivered"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotOpen        = errors.New("stream session is not open")
	ErrBudgetExceeded = errors.New("stream write retry budget exhausted")
)

var heartbeatFrame = []byte(`{}`)

type Config struct {
	Heartbeat    time.Duration
	RetryBackoff time.Duration
	// MaxAttempts bounds consecutive failed writes, heartbeats included. Any successful
	// write resets the count.
	MaxAttempts int
	// CloseAfterDelivery ends the session once its outcome is written. Otherwise it stays
	// open and keeps heartbeating until the client goes away.
	CloseAfterDelivery bool
}

func DefaultConfig() Config {
	return Config{
		Heartbeat:    30 * time.Second,
		RetryBackoff: 5 * time.Second,
		MaxAttempts:  3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// Writer sends one event frame to the client.
type Writer interface {
	WriteFrame(data []byte) error
}

type Broker interface {
	Subscribe(correlationID string) *notify.Subscription
	Unsubscribe(s *notify.Subscription)
}

// deliveryFrame is what the browser sees. A frame without a reason means the payment went
// through.
type deliveryFrame struct {
	CartID string `json:"cartId"`
	Reason string `json:"reason,omitempty"`
}

const reasonFailed = "failed"

func frameFor(o notify.Outcome) deliveryFrame {
	f := deliveryFrame{CartID: o.CorrelationID, Reason: o.Reason}
	if !o.Succeeded && f.Reason == "" {
		f.Reason = reasonFailed
	}
	return f
}

// Session is driven by a single goroutine: Subscribe then Run.
type Session struct {
	ID string

	cfg    Config
	broker Broker
	w      Writer
	logger *zap.SugaredLogger

	state    atomic.Int32
	sub      *notify.Subscription
	failures int
}

func NewSession(broker Broker, w Writer, cfg Config, logger *zap.SugaredLogger) *Session {
	return &Session{
		ID:     uuid.NewString(),
		cfg:    cfg.withDefaults(),
		broker: broker,
		w:      w,
		logger: logger,
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

// Subscribe registers the session for one correlation id. A session subscribes once.
func (s *Session) Subscribe(correlationID string) error {
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateSubscribed)) || s.sub != nil {
		return ErrNotOpen
	}
	s.sub = s.broker.Subscribe(correlationID)
	return nil
}

// Run forwards outcomes and heartbeats until ctx is done, the retry budget runs out, or the
// final outcome is delivered with CloseAfterDelivery set. Pending outcomes are forwarded
// without ending the subscription. The subscription is always released.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	var outcomes <-chan notify.Outcome
	if s.sub != nil {
		outcomes = s.sub.C()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := s.w.WriteFrame(heartbeatFrame); err != nil {
				if s.fail(err) {
					return fmt.Errorf("%w: %w", ErrBudgetExceeded, err)
				}
				continue
			}
			s.failures = 0

		case o := <-outcomes:
			s.state.Store(int32(StateDelivering))
			if err := s.deliver(ctx, o); err != nil {
				return err
			}
			if !o.Final() {
				s.state.Store(int32(StateSubscribed))
				continue
			}
			s.broker.Unsubscribe(s.sub)
			outcomes = nil

			if s.cfg.CloseAfterDelivery {
				return nil
			}
			s.state.Store(int32(StateDelivered))
		}
	}
}

func (s *Session) deliver(ctx context.Context, o notify.Outcome) error {
	frame, err := json.Marshal(frameFor(o))
	if err != nil {
		return fmt.Errorf("encode outcome frame: %w", err)
	}

	for {
		err := s.w.WriteFrame(frame)
		if err == nil {
			s.failures = 0
			return nil
		}
		if s.fail(err) {
			s.logger.Errorw("stream delivery abandoned", "session", s.ID, "correlation_id", o.CorrelationID, "err", err)
			return fmt.Errorf("%w: %w", ErrBudgetExceeded, err)
		}

		timer := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// fail records one failed write and reports whether the budget is spent.
func (s *Session) fail(err error) bool {
	s.failures++
	s.logger.Warnw("stream write failed", "session", s.ID, "attempt", s.failures, "max_attempts", s.cfg.MaxAttempts, "err", err)
	return s.failures >= s.cfg.MaxAttempts
}

func (s *Session) close() {
	if s.sub != nil {
		s.broker.Unsubscribe(s.sub)
	}
	s.state.Store(int32(StateClosed))
}
