// Package informer publishes non-consensus liveness and lifecycle events
// for a coordinator's sandboxes to etcd: sandbox-started,
// sandbox-terminated, and block-committed events that observability
// tooling can watch, but that no module or the coordinator's own
// consensus-relevant state ever depends on.
//
// Grounded on registry/etcd_registry.go's TTL-lease Register/Deregister
// pattern, repurposed from service discovery to one-shot event
// publication: each event is a Put with a short TTL lease rather than a
// long-lived KeepAlive registration, since liveness here means "this event
// happened," not "this instance is still running."
package informer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// LivenessEvent is one published lifecycle event.
type LivenessEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	ModuleName string   `json:"module_name,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

const (
	KindSandboxStarted    = "sandbox-started"
	KindSandboxTerminated = "sandbox-terminated"
	KindBlockOpened       = "block-opened"
	KindBlockSorted       = "block-sorted"
	KindBlockExecuted     = "block-executed"
	KindBlockClosed       = "block-closed"
	KindBlockCommitted    = "block-committed"
	KindBlockReverted     = "block-reverted"
)

// eventTTL bounds how long a published event key lives in etcd before it
// expires on its own — these are point-in-time notifications, not
// registrations that need renewing.
const eventTTL = 300

// Informer publishes LivenessEvents. The zero value (via NoOp) publishes
// nothing, so a coordinator run without an etcd endpoint configured still
// runs — informing is observability, never a correctness dependency.
type Informer interface {
	Publish(ctx context.Context, ev LivenessEvent) error
	Close() error
}

// noopInformer discards every event. Used when no etcd endpoint is
// configured.
type noopInformer struct{}

// NoOp returns an Informer that publishes nothing.
func NoOp() Informer { return noopInformer{} }

func (noopInformer) Publish(context.Context, LivenessEvent) error { return nil }
func (noopInformer) Close() error                                 { return nil }

// etcdInformer publishes each event as a leased key under
// /mini-rpc/events/<kind>/<unix-nanos>.
type etcdInformer struct {
	client *clientv3.Client
}

// New connects to the given etcd endpoints and returns an Informer backed
// by them. Pass no endpoints (or call NoOp directly) to run without
// liveness publication.
func New(endpoints []string) (Informer, error) {
	if len(endpoints) == 0 {
		return NoOp(), nil
	}
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("informer: connecting to etcd: %w", err)
	}
	return &etcdInformer{client: c}, nil
}

// Publish writes ev to etcd under a TTL lease; callers do not need to
// reclaim the key themselves, it expires on its own.
func (e *etcdInformer) Publish(ctx context.Context, ev LivenessEvent) error {
	lease, err := e.client.Grant(ctx, eventTTL)
	if err != nil {
		return fmt.Errorf("informer: granting lease: %w", err)
	}

	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("informer: marshaling event: %w", err)
	}

	key := fmt.Sprintf("/mini-rpc/events/%s/%d", ev.Kind, ev.Time.UnixNano())
	if _, err := e.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("informer: publishing event: %w", err)
	}
	return nil
}

// Close releases the underlying etcd client connection.
func (e *etcdInformer) Close() error {
	return e.client.Close()
}
