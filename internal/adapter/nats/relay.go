package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/supportdesk/internal/port/broadcast"
)

// SubjectBroadcast carries room and agent events between instances.
const SubjectBroadcast = "support.broadcast"

const (
	targetRoom  = "room"
	targetAgent = "agent"
)

type envelope struct {
	Origin  string          `json:"origin"`
	Target  string          `json:"target"`
	Key     string          `json:"key"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Relay is a broadcast.Broadcaster that delivers to the local hub and
// republishes every event for the other instances. Events are fire-and-
// forget; an instance that is down misses them.
type Relay struct {
	nc     *nats.Conn
	local  broadcast.Broadcaster
	origin string
	sub    *nats.Subscription
}

// NewRelay creates a relay for this instance. origin must be unique per
// process so an instance ignores its own echoes.
func NewRelay(nc *nats.Conn, local broadcast.Broadcaster, origin string) *Relay {
	return &Relay{nc: nc, local: local, origin: origin}
}

// Start subscribes to events from other instances.
func (r *Relay) Start() error {
	sub, err := r.nc.Subscribe(SubjectBroadcast, func(msg *nats.Msg) {
		r.deliver(context.Background(), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.sub = sub
	return nil
}

// Stop unsubscribes.
func (r *Relay) Stop() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
}

func (r *Relay) ToRoom(ctx context.Context, room, eventType string, payload any) {
	r.local.ToRoom(ctx, room, eventType, payload)
	r.publish(targetRoom, room, eventType, payload)
}

func (r *Relay) ToAgent(ctx context.Context, agentID, eventType string, payload any) {
	r.local.ToAgent(ctx, agentID, eventType, payload)
	r.publish(targetAgent, agentID, eventType, payload)
}

func (r *Relay) publish(target, key, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("relay marshal", "type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(envelope{Origin: r.origin, Target: target, Key: key, Type: eventType, Payload: raw})
	if err != nil {
		slog.Error("relay marshal", "type", eventType, "error", err)
		return
	}
	if err := r.nc.Publish(SubjectBroadcast, data); err != nil {
		slog.Warn("relay publish", "type", eventType, "error", err)
	}
}

// deliver hands a remote event to the local hub. Own echoes are dropped.
func (r *Relay) deliver(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("relay: malformed envelope", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	switch env.Target {
	case targetRoom:
		r.local.ToRoom(ctx, env.Key, env.Type, env.Payload)
	case targetAgent:
		r.local.ToAgent(ctx, env.Key, env.Type, env.Payload)
	default:
		slog.Warn("relay: unknown target", "target", env.Target)
	}
}
