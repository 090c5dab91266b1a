package router

import (
	"time"

	"github.com/caxton-io/router/types"
)

// Destination names either a single agent by identity or every provider of
// a capability, per spec.md §3. Exactly one of agentID/capability is
// populated; which one is reported by Kind.
type DestinationKind int

const (
	DestinationAgent DestinationKind = iota
	DestinationCapability
)

type Destination struct {
	kind       DestinationKind
	agentID    types.AgentId
	capability types.CapabilityName
}

func ToAgent(id types.AgentId) Destination {
	return Destination{kind: DestinationAgent, agentID: id}
}

func ToCapability(name types.CapabilityName) Destination {
	return Destination{kind: DestinationCapability, capability: name}
}

func (d Destination) Kind() DestinationKind       { return d.kind }
func (d Destination) AgentID() types.AgentId      { return d.agentID }
func (d Destination) Capability() types.CapabilityName { return d.capability }

// DeliveryOptions carries the per-message admission and retry parameters
// that spec.md §3/§4.5 allow a sender to override from the configured
// defaults.
type DeliveryOptions struct {
	Priority       types.Priority
	Timeout        time.Duration
	RequireReceipt bool
	MaxRetries     types.RetryCount
}

// TraceContext propagates OpenTelemetry span identity across the
// asynchronous boundary between admission and delivery, following the
// donor codebase's convention of carrying context as plain fields rather
// than a live context.Context on a persisted struct.
type TraceContext struct {
	TraceID string
	SpanID  string
}

// Message is the unit the router admits, routes, and delivers. ID, Sender
// and Conversation use validating value types; the ReplyWith and InReplyTo
// correlation keys are plain strings (a FAILURE notice carries the original
// MessageId's string form in InReplyTo).
type Message struct {
	ID             types.MessageId
	Sender         types.AgentId
	Destination    Destination
	Performative   types.Performative
	Content        []byte
	Language       string
	Ontology       string
	Protocol       string
	Conversation   types.ConversationId
	ReplyWith      string
	InReplyTo      string
	CreatedAt      time.Time
	Trace          TraceContext
	Options        DeliveryOptions
	attempt        int
}

// NewMessage mints a MessageId and timestamps the message at admission. The
// caller supplies everything that originates with the sender; the router
// owns identity and time.
func NewMessage(sender types.AgentId, dest Destination, perf types.Performative, content []byte, opts DeliveryOptions) (*Message, error) {
	if !perf.Valid() {
		return nil, ErrInvalidMessage.withCause(newRouterError(ReasonInvalidMessage, "unknown performative: "+perf.String()))
	}
	return &Message{
		ID:           types.NewMessageId(),
		Sender:       sender,
		Destination:  dest,
		Performative: perf,
		Content:      content,
		Options:      opts,
		CreatedAt:    time.Now(),
	}, nil
}

// Attempt reports how many delivery attempts have been made for this
// message, starting at 0 for the first admission.
func (m *Message) Attempt() int { return m.attempt }

// DeadlineExceeded reports whether m's delivery deadline — CreatedAt plus
// Options.Timeout — has already passed. A zero Timeout means the message
// carries no deadline at all.
func (m *Message) DeadlineExceeded() bool {
	if m.Options.Timeout <= 0 {
		return false
	}
	return time.Now().After(m.CreatedAt.Add(m.Options.Timeout))
}

// nextAttempt increments the attempt counter and is called only by the
// failure handler immediately before rescheduling a retry.
func (m *Message) nextAttempt() { m.attempt++ }

// WithConversation returns a copy of m bound to the given conversation,
// minting one if the caller passes the zero value. A message with no
// conversation is its own single-shot thread (spec.md §3).
func (m *Message) WithConversation(c types.ConversationId) *Message {
	clone := *m
	if c.IsZero() {
		clone.Conversation = types.NewConversationId()
	} else {
		clone.Conversation = c
	}
	return &clone
}
