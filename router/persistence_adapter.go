package router

import (
	"context"
	"errors"

	"github.com/caxton-io/router/router/persistence"
	"github.com/caxton-io/router/types"
)

// persistAdapter adapts a persistence.Adapter (which knows nothing about
// router.Message, to avoid an import cycle) into the PersistenceAdapter
// interface Core drives.
type persistAdapter struct {
	backend persistence.Adapter
}

// NewPersistAdapter wraps a persistence backend for use as a Core's
// PersistenceAdapter.
func NewPersistAdapter(backend persistence.Adapter) PersistenceAdapter {
	return &persistAdapter{backend: backend}
}

func toRecord(msg *Message) persistence.Record {
	r := persistence.Record{
		ID:           msg.ID.String(),
		Sender:       msg.Sender.String(),
		DestKind:     int(msg.Destination.Kind()),
		Performative: msg.Performative.String(),
		Content:      msg.Content,
		Priority:     int(msg.Options.Priority),
		Attempt:      msg.Attempt(),
		CreatedAt:    msg.CreatedAt,
	}
	if msg.Destination.Kind() == DestinationAgent {
		r.DestAgent = msg.Destination.AgentID().String()
	} else {
		r.DestCapability = msg.Destination.Capability().String()
	}
	if !msg.Conversation.IsZero() {
		r.Conversation = msg.Conversation.String()
	}
	return r
}

// fromRecord reconstructs a *Message from a persisted Record for the
// recovery read path. It skips whatever fields a corrupt or foreign
// record lacks and returns an error rather than panicking, so Pending can
// drop individually unreadable records instead of failing recovery
// outright.
func fromRecord(r persistence.Record) (*Message, error) {
	id, err := types.ParseMessageId(r.ID)
	if err != nil {
		return nil, err
	}
	sender, err := types.ParseAgentId(r.Sender)
	if err != nil {
		return nil, err
	}

	var dest Destination
	if DestinationKind(r.DestKind) == DestinationAgent {
		aid, err := types.ParseAgentId(r.DestAgent)
		if err != nil {
			return nil, err
		}
		dest = ToAgent(aid)
	} else {
		capName, err := types.NewCapabilityName(r.DestCapability)
		if err != nil {
			return nil, err
		}
		dest = ToCapability(capName)
	}

	msg := &Message{
		ID:           id,
		Sender:       sender,
		Destination:  dest,
		Performative: types.Performative(r.Performative),
		Content:      r.Content,
		Options:      DeliveryOptions{Priority: types.Priority(r.Priority)},
		CreatedAt:    r.CreatedAt,
	}
	if r.Conversation != "" {
		if conv, err := types.ParseConversationId(r.Conversation); err == nil {
			msg.Conversation = conv
		}
	}
	for i := 0; i < r.Attempt; i++ {
		msg.nextAttempt()
	}
	return msg, nil
}

func toAgentRecord(s AgentSnapshot) persistence.AgentRecord {
	caps := make([]string, len(s.Capabilities))
	for i, c := range s.Capabilities {
		caps[i] = c.String()
	}
	return persistence.AgentRecord{ID: s.ID.String(), Capabilities: caps, State: int(s.State), LastHeartbeat: s.LastHeartbeat}
}

func fromAgentRecord(r persistence.AgentRecord) (AgentSnapshot, error) {
	id, err := types.ParseAgentId(r.ID)
	if err != nil {
		return AgentSnapshot{}, err
	}
	caps := make([]types.CapabilityName, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		if cn, err := types.NewCapabilityName(c); err == nil {
			caps = append(caps, cn)
		}
	}
	return AgentSnapshot{ID: id, Capabilities: caps, State: AgentState(r.State), LastHeartbeat: r.LastHeartbeat}, nil
}

func toConversationRecord(s ConversationSummary) persistence.ConversationRecord {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.String()
	}
	return persistence.ConversationRecord{ID: s.ID.String(), Participants: ids, LastActivity: s.LastActivity}
}

func fromConversationRecord(r persistence.ConversationRecord) (ConversationSummary, error) {
	id, err := types.ParseConversationId(r.ID)
	if err != nil {
		return ConversationSummary{}, err
	}
	parts := make([]types.AgentId, 0, len(r.Participants))
	for _, p := range r.Participants {
		if aid, err := types.ParseAgentId(p); err == nil {
			parts = append(parts, aid)
		}
	}
	return ConversationSummary{ID: id, Participants: parts, LastActivity: r.LastActivity}, nil
}

func toDLQRecord(e DeadLetterEntry) persistence.DLQRecord {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return persistence.DLQRecord{
		ID:        e.Message.ID.String(),
		Message:   toRecord(e.Message),
		Reason:    string(e.Reason),
		Cause:     cause,
		RetiredAt: e.RetiredAt,
	}
}

func fromDLQRecord(r persistence.DLQRecord) (DeadLetterEntry, error) {
	msg, err := fromRecord(r.Message)
	if err != nil {
		return DeadLetterEntry{}, err
	}
	var cause error
	if r.Cause != "" {
		cause = errors.New(r.Cause)
	}
	return DeadLetterEntry{Message: msg, Reason: FailureReason(r.Reason), Cause: cause, RetiredAt: r.RetiredAt}, nil
}

func (p *persistAdapter) Commit(ctx context.Context, msg *Message) error {
	return p.backend.CommitRecord(ctx, toRecord(msg))
}

func (p *persistAdapter) Ack(ctx context.Context, id types.MessageId) error {
	return p.backend.AckRecord(ctx, id)
}

func (p *persistAdapter) Pending(ctx context.Context) ([]*Message, error) {
	recs, err := p.backend.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(recs))
	for _, r := range recs {
		if msg, err := fromRecord(r); err == nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (p *persistAdapter) CommitAgent(ctx context.Context, s AgentSnapshot) error {
	return p.backend.CommitAgent(ctx, toAgentRecord(s))
}

func (p *persistAdapter) DeleteAgent(ctx context.Context, id types.AgentId) error {
	return p.backend.DeleteAgent(ctx, id.String())
}

func (p *persistAdapter) ListAgents(ctx context.Context) ([]AgentSnapshot, error) {
	recs, err := p.backend.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AgentSnapshot, 0, len(recs))
	for _, r := range recs {
		if s, err := fromAgentRecord(r); err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *persistAdapter) CommitConversation(ctx context.Context, s ConversationSummary) error {
	return p.backend.CommitConversation(ctx, toConversationRecord(s))
}

func (p *persistAdapter) DeleteConversation(ctx context.Context, id types.ConversationId) error {
	return p.backend.DeleteConversation(ctx, id.String())
}

func (p *persistAdapter) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	recs, err := p.backend.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(recs))
	for _, r := range recs {
		if s, err := fromConversationRecord(r); err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *persistAdapter) CommitDLQEntry(ctx context.Context, e DeadLetterEntry) error {
	return p.backend.CommitDLQEntry(ctx, toDLQRecord(e))
}

func (p *persistAdapter) DeleteDLQEntry(ctx context.Context, id types.MessageId) error {
	return p.backend.DeleteDLQEntry(ctx, id.String())
}

func (p *persistAdapter) ListDLQEntries(ctx context.Context) ([]DeadLetterEntry, error) {
	recs, err := p.backend.ListDLQEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetterEntry, 0, len(recs))
	for _, r := range recs {
		if e, err := fromDLQRecord(r); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *persistAdapter) Close() error {
	return p.backend.Close()
}
