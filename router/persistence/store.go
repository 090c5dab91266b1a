// Package persistence provides durable-commit backends for the router
// core: memory (no durability, tests only), sqlite (single-node
// production), and redis (shared/distributed production), following the
// same three-backend split the donor's own persistence package offers.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/caxton-io/router/types"
)

var (
	ErrNotFound     = errors.New("persistence: record not found")
	ErrStoreClosed  = errors.New("persistence: store is closed")
	ErrInvalidInput = errors.New("persistence: invalid input")
)

// BackendType names a supported persistence backend.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendSQLite BackendType = "sqlite"
	BackendRedis  BackendType = "redis"
)

// SQLiteConfig configures the sqlite-backed store.
type SQLiteConfig struct {
	Path string
}

// RedisConfig configures the redis-backed store, mirroring the donor's
// RedisStoreConfig field set.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// CleanupConfig holds settings for sweeping acknowledged records past
// their retention window, following the donor's
// CleanupConfig/DefaultCleanupConfig pair. None of the adapters in this
// package reads it or runs such a sweep: acknowledged records stay stored.
type CleanupConfig struct {
	Enabled       bool
	Interval      time.Duration
	RetentionTime time.Duration
}

func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{Enabled: true, Interval: 5 * time.Minute, RetentionTime: 1 * time.Hour}
}

// StoreConfig selects and configures one backend, the same discriminated
// shape as the donor's StoreConfig{Type, BaseDir, Redis, Retry, Cleanup}.
type StoreConfig struct {
	Type    BackendType
	SQLite  SQLiteConfig
	Redis   RedisConfig
	Cleanup CleanupConfig
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Type: BackendMemory, Cleanup: DefaultCleanupConfig()}
}

// Record is a persisted message envelope: enough to durably recreate the
// router.Message on restart without importing the router package here
// (it would create an import cycle back from router into persistence).
type Record struct {
	ID           string
	Sender       string
	DestKind     int
	DestAgent    string
	DestCapability string
	Performative string
	Content      []byte
	Conversation string
	Priority     int
	Attempt      int
	CreatedAt    time.Time
	Acked        bool
}

// AgentRecord is a persisted agent identity/lifecycle snapshot — the
// "agents" record family of spec.md §6's five-family schema. The
// "routes" family is not stored separately: the capability index is pure
// derived state, rebuilt on recovery from every loaded agent's
// Capabilities (see DESIGN.md).
type AgentRecord struct {
	ID            string
	Capabilities  []string
	State         int
	LastHeartbeat time.Time
}

// ConversationRecord is a persisted conversation snapshot — the
// "conversations" record family.
type ConversationRecord struct {
	ID           string
	Participants []string
	LastActivity time.Time
}

// DLQRecord is a persisted dead-letter entry — the "dlq" record family.
// It embeds the retired message as a Record so recovery can reconstruct
// both without a separate lookup.
type DLQRecord struct {
	ID        string
	Message   Record
	Reason    string
	Cause     string
	RetiredAt time.Time
}

// Adapter is the durable-commit contract router.Core drives: the
// admission worker commits a message before routing it and acks it once
// routing has returned. RouteMessage itself returns to its caller before
// that commit is made. The Agent/Conversation/DLQ methods back the remaining
// record families and the recovery-on-start read path (spec.md §4.6).
type Adapter interface {
	CommitRecord(ctx context.Context, r Record) error
	AckRecord(ctx context.Context, id types.MessageId) error
	Pending(ctx context.Context) ([]Record, error)

	CommitAgent(ctx context.Context, a AgentRecord) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context) ([]AgentRecord, error)

	CommitConversation(ctx context.Context, c ConversationRecord) error
	DeleteConversation(ctx context.Context, id string) error
	ListConversations(ctx context.Context) ([]ConversationRecord, error)

	CommitDLQEntry(ctx context.Context, d DLQRecord) error
	DeleteDLQEntry(ctx context.Context, id string) error
	ListDLQEntries(ctx context.Context) ([]DLQRecord, error)

	Close() error
}
