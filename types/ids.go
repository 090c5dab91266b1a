package types

import (
	"regexp"

	"github.com/google/uuid"
)

// AgentId is an opaque, stable identifier for a registered agent. It is
// unique across the router's lifetime and is never reused, even after the
// agent it named has been deregistered.
type AgentId struct {
	value string
}

// NewAgentId mints a fresh, unique AgentId. Minting happens once, at
// registration; callers never construct an AgentId from user input.
func NewAgentId() AgentId {
	return AgentId{value: uuid.New().String()}
}

// ParseAgentId reconstructs an AgentId previously produced by String, for
// use when rehydrating persisted state. It rejects malformed input so a
// corrupted record cannot silently become a valid-looking identifier.
func ParseAgentId(s string) (AgentId, error) {
	if s == "" {
		return AgentId{}, newValidationError(ErrCodeEmpty, "agent_id", s)
	}
	if _, err := uuid.Parse(s); err != nil {
		return AgentId{}, newValidationError(ErrCodeInvalidChar, "agent_id", s)
	}
	return AgentId{value: s}, nil
}

func (a AgentId) String() string { return a.value }

// IsZero reports whether this is the zero value, never a minted id.
func (a AgentId) IsZero() bool { return a.value == "" }

func (a AgentId) Equal(other AgentId) bool { return a.value == other.value }

// MessageId is an opaque id minted by the router on admission of a
// message. Retries reuse the same MessageId as an idempotency hint to the
// receiving agent.
type MessageId struct {
	value string
}

func NewMessageId() MessageId {
	return MessageId{value: uuid.New().String()}
}

func ParseMessageId(s string) (MessageId, error) {
	if s == "" {
		return MessageId{}, newValidationError(ErrCodeEmpty, "message_id", s)
	}
	if _, err := uuid.Parse(s); err != nil {
		return MessageId{}, newValidationError(ErrCodeInvalidChar, "message_id", s)
	}
	return MessageId{value: s}, nil
}

func (m MessageId) String() string     { return m.value }
func (m MessageId) IsZero() bool       { return m.value == "" }
func (m MessageId) Equal(o MessageId) bool { return m.value == o.value }

// ConversationId correlates a thread of messages. A message lacking one is
// treated as a single-shot conversation scoped to its own delivery
// attempt (spec.md §3).
type ConversationId struct {
	value string
}

func NewConversationId() ConversationId {
	return ConversationId{value: uuid.New().String()}
}

func ParseConversationId(s string) (ConversationId, error) {
	if s == "" {
		return ConversationId{}, newValidationError(ErrCodeEmpty, "conversation_id", s)
	}
	if _, err := uuid.Parse(s); err != nil {
		return ConversationId{}, newValidationError(ErrCodeInvalidChar, "conversation_id", s)
	}
	return ConversationId{value: s}, nil
}

func (c ConversationId) String() string         { return c.value }
func (c ConversationId) IsZero() bool           { return c.value == "" }
func (c ConversationId) Equal(o ConversationId) bool { return c.value == o.value }

var capabilityNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]{0,63}$`)

// CapabilityName is a short, nonempty string from a validated alphabet
// (spec.md §3): it must start with a letter and contain only letters,
// digits, underscore, dot, or hyphen, up to 64 characters.
type CapabilityName struct {
	value string
}

func NewCapabilityName(s string) (CapabilityName, error) {
	if s == "" {
		return CapabilityName{}, newValidationError(ErrCodeEmpty, "capability_name", s)
	}
	if len(s) > 64 {
		return CapabilityName{}, newValidationError(ErrCodeTooLong, "capability_name", s)
	}
	if !capabilityNamePattern.MatchString(s) {
		return CapabilityName{}, newValidationError(ErrCodeInvalidChar, "capability_name", s)
	}
	return CapabilityName{value: s}, nil
}

func (c CapabilityName) String() string { return c.value }
func (c CapabilityName) Equal(o CapabilityName) bool { return c.value == o.value }
