package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultChannel is the pub/sub channel (Redis) or LISTEN channel (Postgres) outcomes travel on.
const DefaultChannel = "payment_outcomes"

// ErrRelayBacklog is returned when the relay's outbound buffer is full.
var ErrRelayBacklog = errors.New("relay outbound buffer full")

// Relay carries outcomes between replicas: Publish queues an outcome for every replica, Run
// pumps the queue out and feeds outcomes coming back in to the local Bus.
type Relay interface {
	Publisher
	Run(ctx context.Context) error
}

const outboundBuffer = 256

// enqueue never blocks; reconciliation must not wait on the network.
func enqueue(out chan<- Outcome, o Outcome) error {
	select {
	case out <- o:
		return nil
	default:
		return ErrRelayBacklog
	}
}

func encodeOutcome(o Outcome) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode outcome: %w", err)
	}
	return string(b), nil
}

func decodeOutcome(payload string) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	if o.CorrelationID == "" {
		return Outcome{}, errors.New("decode outcome: missing correlation id")
	}
	return o, nil
}
