package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metastore"
	"github.com/cuemby/warren/pkg/obsmetrics"
)

// Registry is the subset of ContainerRegistry the bus needs to fan
// messages out to runnables.
type Registry interface {
	SendToAll(ctx context.Context, payload []byte, onComplete func())
	SendToRunnable(ctx context.Context, runnable string, payload []byte, onComplete func())
}

// InstanceChanger handles the "instances" system command (spec §4.6); the
// bus hands it off without waiting — the worker calls onComplete itself.
type InstanceChanger interface {
	RequestChange(runnable string, newCount int, original Message, onComplete func())
}

// CredentialInvalidator handles "secureStoreUpdated" (spec §4.5): drop the
// cached credentials and replicate fresh ones to every container.
type CredentialInvalidator interface {
	InvalidateAndReplicate(ctx context.Context)
}

// Bus consumes messages written under messagesPath in the metadata store
// and dispatches them per spec §4.5's policy.
type Bus struct {
	client        metastore.Client
	messagesPath  string
	registry      Registry
	instances     InstanceChanger
	credentials   CredentialInvalidator
}

// New builds a Bus rooted at messagesPath (e.g.
// "/<appRunId>/runnables/<name>/messages", or an application-scope path).
func New(client metastore.Client, messagesPath string, registry Registry, instances InstanceChanger, credentials CredentialInvalidator) *Bus {
	return &Bus{
		client:       client,
		messagesPath: messagesPath,
		registry:     registry,
		instances:    instances,
		credentials:  credentials,
	}
}

// Run watches messagesPath until ctx is cancelled, dispatching every
// message that appears and every pre-existing one on entry.
func (b *Bus) Run(ctx context.Context) error {
	_, watch, err := b.client.GetChildren(ctx, b.messagesPath, true)
	if err != nil {
		return fmt.Errorf("messagebus: watch %s: %w", b.messagesPath, err)
	}

	if err := b.drain(ctx); err != nil {
		log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("initial drain: %v", err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watch:
			if !ok {
				return nil
			}
			if err := b.drain(ctx); err != nil {
				log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("drain after watch event: %v", err))
			}
			// re-arm: take a fresh watch before waiting for the next event.
			_, watch, err = b.client.GetChildren(ctx, b.messagesPath, true)
			if err != nil {
				log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("re-watch %s: %v", b.messagesPath, err))
				return err
			}
		}
	}
}

// drain dispatches every message currently present under messagesPath, in
// store sequence order (spec §5: "MessageBus processes messages in
// metadata-store sequence order").
func (b *Bus) drain(ctx context.Context) error {
	names, _, err := b.client.GetChildren(ctx, b.messagesPath, false)
	if err != nil {
		return fmt.Errorf("list %s: %w", b.messagesPath, err)
	}
	if len(names) == 0 {
		return nil
	}

	type namedNode struct {
		path string
		name string
	}
	nodes := make([]namedNode, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, namedNode{path: b.messagesPath + "/" + name, name: name})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].name < nodes[j].name })

	for _, n := range nodes {
		data, err := b.client.GetData(ctx, n.path)
		if err != nil {
			log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("getData(%s): %v", n.path, err))
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("unmarshal message %s: %v", n.path, err))
			b.ack(ctx, n.path)
			continue
		}
		b.dispatch(ctx, n.path, msg)
	}
	return nil
}

// dispatch routes msg per spec §4.5's policy and acks it by deleting its
// node once onComplete fires.
func (b *Bus) dispatch(ctx context.Context, path string, msg Message) {
	timer := obsmetrics.NewTimer()
	onComplete := func() {
		timer.ObserveDurationVec(obsmetrics.MessageDispatchDuration, string(msg.Scope))
		obsmetrics.MessagesDispatched.WithLabelValues(string(msg.Scope), msg.Command.Name).Inc()
		b.ack(ctx, path)
	}

	switch {
	case msg.Type == TypeSystem && msg.Scope == ScopeRunnable && msg.Command.Name == commandInstances:
		count, err := strconv.Atoi(msg.Command.Options[optionCount])
		if err != nil {
			log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("instances command: invalid count %q: %v", msg.Command.Options[optionCount], err))
			onComplete()
			return
		}
		b.instances.RequestChange(msg.RunnableName, count, msg, onComplete)

	case msg.Command.Name == commandSecureStoreUpdated:
		b.credentials.InvalidateAndReplicate(ctx)
		b.registry.SendToAll(ctx, mustMarshal(msg), onComplete)

	case msg.Scope == ScopeAllRunnable:
		b.registry.SendToAll(ctx, mustMarshal(msg), onComplete)

	case msg.Scope == ScopeRunnable:
		b.registry.SendToRunnable(ctx, msg.RunnableName, mustMarshal(msg), onComplete)

	default:
		log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("unrecognized message at %s: scope=%s command=%s", path, msg.Scope, msg.Command.Name))
		onComplete()
	}
}

func (b *Bus) ack(ctx context.Context, path string) {
	if err := b.client.Delete(ctx, path); err != nil {
		log.WithComponent("messagebus").Warn().Msg(fmt.Sprintf("ack delete %s: %v", path, err))
	}
}

func mustMarshal(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Message was itself just unmarshalled from JSON; re-marshalling
		// the same struct cannot fail.
		panic(fmt.Sprintf("messagebus: re-marshal message: %v", err))
	}
	return data
}
