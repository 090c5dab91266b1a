package router

import (
	"hash/fnv"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/caxton-io/router/types"
)

// DeliveryEngine resolves a message's destination, admits it into the
// target mailbox, and enforces per-conversation FIFO by always routing a
// conversation's messages through the same shard worker (spec.md §4.3,
// §4.6). Sharding by FNV-1a hash of the conversation id avoids a global
// lock while still giving every conversation a single serializing writer,
// the same fixed-worker-count shape the donor pool package offers as an
// alternative to its dynamically spawned pool.
type DeliveryEngine struct {
	log *zap.Logger

	registry *Registry
	capIdx   *CapabilityIndex
	convs    *ConversationManager
	selector *Selector
	breakers *BreakerRegistry
	failures *FailureHandler
	sink     EventSink

	shards []chan shardTask
}

type shardTask struct {
	msg  *Message
	done chan error
}

func NewDeliveryEngine(
	log *zap.Logger,
	registry *Registry,
	capIdx *CapabilityIndex,
	convs *ConversationManager,
	selector *Selector,
	breakers *BreakerRegistry,
	failures *FailureHandler,
	sink EventSink,
	shardCount int,
	shardQueueDepth int,
) *DeliveryEngine {
	if log == nil {
		log = zap.NewNop()
	}
	if shardCount < 1 {
		shardCount = 1
	}
	de := &DeliveryEngine{
		log:      log,
		registry: registry,
		capIdx:   capIdx,
		convs:    convs,
		selector: selector,
		breakers: breakers,
		failures: failures,
		sink:     sink,
		shards:   make([]chan shardTask, shardCount),
	}
	for i := range de.shards {
		de.shards[i] = make(chan shardTask, shardQueueDepth)
		go de.runShard(de.shards[i])
	}
	failures.SetNotifier(de)
	return de
}

func (de *DeliveryEngine) shardFor(convID types.ConversationId) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(convID.String()))
	return int(h.Sum32()) % len(de.shards)
}

func (de *DeliveryEngine) runShard(tasks chan shardTask) {
	for t := range tasks {
		t.done <- de.deliverOnce(t.msg)
	}
}

// Route admits msg for delivery and blocks until it has been resolved and
// either enqueued, dead-lettered, or scheduled for retry. It is safe to
// call concurrently; ordering within a conversation is preserved by
// always dispatching to the same shard.
func (de *DeliveryEngine) Route(msg *Message) error {
	de.sink.Emit(Event{Type: EventAdmitted, MessageID: msg.ID, Sender: msg.Sender, Timestamp: time.Now()})

	if !msg.Conversation.IsZero() {
		de.convs.Touch(msg.Conversation, msg.Sender)
	}

	shardIdx := 0
	if !msg.Conversation.IsZero() {
		shardIdx = de.shardFor(msg.Conversation)
	}

	task := shardTask{msg: msg, done: make(chan error, 1)}
	de.shards[shardIdx] <- task
	return <-task.done
}

// deliverOnce resolves msg's destination to a single live agent, then
// admits it into that agent's mailbox through its circuit breaker. Every
// failure, a destination resolution failure included, is handed to the
// FailureHandler for classification and is also returned to the caller.
func (de *DeliveryEngine) deliverOnce(msg *Message) error {
	agent, err := de.resolve(msg)
	if err != nil {
		reason := classifyResolveErr(err)
		de.sink.Emit(Event{Type: EventRejected, MessageID: msg.ID, Reason: reason, Timestamp: time.Now()})
		de.failures.Handle(msg, reason, err, func(m *Message) {
			_ = de.deliverOnce(m)
		})
		return err
	}

	key := agent.ID.String()
	deliverErr := de.breakers.Execute(key, func() error {
		ok, evicted := agent.Mailbox().Enqueue(msg, msg.Options.Priority)
		if !ok {
			return ErrQueueFull
		}
		if evicted {
			de.log.Debug("mailbox eviction", zap.String("agent_id", key))
		}
		return nil
	})

	if deliverErr != nil {
		reason := ReasonAgentNotResponding
		if deliverErr == ErrBreakerOpen {
			reason = ReasonBreakerOpen
		} else if deliverErr == ErrQueueFull {
			reason = ReasonQueueFull
		}
		de.failures.Handle(msg, reason, deliverErr, func(m *Message) {
			_ = de.deliverOnce(m)
		})
		return deliverErr
	}

	de.sink.Emit(Event{Type: EventDelivered, MessageID: msg.ID, Destination: agent.ID, Timestamp: time.Now()})
	return nil
}

// deliverBestEffort admits msg into its destination's mailbox directly,
// bypassing shard dispatch. FailureHandler uses this, never Route, to send
// a system-generated FAILURE notification: notifySender runs synchronously
// inside deliverOnce, which already executes inside a shard's single
// goroutine, so a notification addressed into the same shard would
// deadlock waiting for that goroutine to free up.
func (de *DeliveryEngine) deliverBestEffort(msg *Message) error {
	agent, err := de.resolve(msg)
	if err != nil {
		de.sink.Emit(Event{Type: EventRejected, MessageID: msg.ID, Reason: classifyResolveErr(err), Timestamp: time.Now()})
		return err
	}

	key := agent.ID.String()
	err = de.breakers.Execute(key, func() error {
		ok, _ := agent.Mailbox().Enqueue(msg, msg.Options.Priority)
		if !ok {
			return ErrQueueFull
		}
		return nil
	})
	if err != nil {
		return err
	}

	de.sink.Emit(Event{Type: EventDelivered, MessageID: msg.ID, Destination: agent.ID, Timestamp: time.Now()})
	return nil
}

// resolve finds exactly one routable agent for msg.Destination, applying
// the configured selection policy when the destination names a
// capability with multiple live providers.
func (de *DeliveryEngine) resolve(msg *Message) (*Agent, error) {
	switch msg.Destination.Kind() {
	case DestinationAgent:
		agent, ok := de.registry.Lookup(msg.Destination.AgentID())
		if !ok || !agent.Routable() {
			// Absent or not Running are the same terminal case per
			// spec.md §4.4: an identity-addressed agent that exists but
			// isn't Running will not start responding on retry.
			return nil, ErrAgentNotFound
		}
		return agent, nil

	case DestinationCapability:
		ids := de.capIdx.Providers(msg.Destination.Capability())
		candidates := make([]*Agent, 0, len(ids))
		for _, id := range ids {
			if a, ok := de.registry.Lookup(id); ok && a.Routable() {
				candidates = append(candidates, a)
			}
		}
		if len(candidates) == 0 {
			return nil, ErrNoCapableAgent
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].ID.String() < candidates[j].ID.String()
		})
		return de.selector.Select(candidates)

	default:
		return nil, ErrInvalidMessage
	}
}

func classifyResolveErr(err error) FailureReason {
	if re, ok := err.(*RouterError); ok {
		return re.Reason
	}
	return ReasonInternalError
}

// Shutdown closes every shard's input channel. Callers must ensure no
// further Route calls are in flight before calling this.
func (de *DeliveryEngine) Shutdown() {
	for _, s := range de.shards {
		close(s)
	}
}
