// NatsPublisher is an alternative, selectable status-bus transport for
// deployments that already run NATS instead of Redis.
package statusbus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsPublisher fans out status events as NATS core (non-JetStream)
// publishes: delivery here is already best-effort at the Bus level, so
// NATS's fire-and-forget semantics are a good match.
type NatsPublisher struct {
	conn *nats.Conn
}

func NewNatsPublisher(conn *nats.Conn) *NatsPublisher {
	return &NatsPublisher{conn: conn}
}

func (p *NatsPublisher) Publish(_ context.Context, group string, payload []byte) error {
	if err := p.conn.Publish(group, payload); err != nil {
		return fmt.Errorf("statusbus: nats publish: %w", err)
	}
	return nil
}
