package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/caxton-io/router/internal/database"
	"github.com/caxton-io/router/types"
)

// messageRow is the gorm model backing the messages table; it mirrors
// Record field-for-field so mapping between them is a straight copy.
type messageRow struct {
	ID             string `gorm:"primaryKey"`
	Sender         string
	DestKind       int
	DestAgent      string
	DestCapability string
	Performative   string
	Content        []byte
	Conversation   string
	Priority       int
	Attempt        int
	CreatedAt      time.Time
	Acked          bool `gorm:"index"`
}

func (messageRow) TableName() string { return "messages" }

// agentRow backs the agents table; Capabilities is stored comma-joined
// since sqlite has no native array column and the set is small and
// name-constrained (no commas possible in a CapabilityName).
type agentRow struct {
	ID            string `gorm:"primaryKey"`
	Capabilities  string
	State         int
	LastHeartbeat time.Time
}

func (agentRow) TableName() string { return "agents" }

// conversationRow backs the conversations table, Participants comma-joined
// the same way agentRow joins Capabilities.
type conversationRow struct {
	ID           string `gorm:"primaryKey"`
	Participants string
	LastActivity time.Time
}

func (conversationRow) TableName() string { return "conversations" }

// dlqRow backs the dead_letters table, flattening DLQRecord's embedded
// Record alongside the retirement metadata into one row.
type dlqRow struct {
	ID             string `gorm:"primaryKey"`
	MessageID      string
	Sender         string
	DestKind       int
	DestAgent      string
	DestCapability string
	Performative   string
	Content        []byte
	Conversation   string
	Priority       int
	Attempt        int
	MsgCreatedAt   time.Time
	Reason         string
	Cause          string
	RetiredAt      time.Time
}

func (dlqRow) TableName() string { return "dead_letters" }

// SQLiteAdapter is the single-node production persistence backend: one
// sqlite file, schema-versioned via the embedded migrations in this
// package. Reads and writes go through the pure-Go modernc.org/sqlite
// driver; the golang-migrate sqlite3 driver used for migrations still
// pulls in the cgo-based mattn/go-sqlite3.
type SQLiteAdapter struct {
	db   *gorm.DB
	pool *database.PoolManager
}

func NewSQLiteAdapter(cfg SQLiteConfig) (*SQLiteAdapter, error) {
	return NewSQLiteAdapterWithLogger(cfg, zap.NewNop())
}

// NewSQLiteAdapterWithLogger additionally wires a connection pool
// manager around the opened database, so pool exhaustion and stale
// connections surface in the logs rather than failing silently.
func NewSQLiteAdapterWithLogger(cfg SQLiteConfig, log *zap.Logger) (*SQLiteAdapter, error) {
	gdb, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := runMigrations(sqlDB); err != nil {
		return nil, err
	}

	pm, err := database.NewPoolManager(gdb, database.DefaultPoolConfig(), log)
	if err != nil {
		return nil, err
	}

	return &SQLiteAdapter{db: gdb, pool: pm}, nil
}

func toRow(r Record) messageRow {
	return messageRow{
		ID: r.ID, Sender: r.Sender, DestKind: r.DestKind, DestAgent: r.DestAgent,
		DestCapability: r.DestCapability, Performative: r.Performative, Content: r.Content,
		Conversation: r.Conversation, Priority: r.Priority, Attempt: r.Attempt,
		CreatedAt: r.CreatedAt, Acked: r.Acked,
	}
}

func fromRow(row messageRow) Record {
	return Record{
		ID: row.ID, Sender: row.Sender, DestKind: row.DestKind, DestAgent: row.DestAgent,
		DestCapability: row.DestCapability, Performative: row.Performative, Content: row.Content,
		Conversation: row.Conversation, Priority: row.Priority, Attempt: row.Attempt,
		CreatedAt: row.CreatedAt, Acked: row.Acked,
	}
}

func (s *SQLiteAdapter) CommitRecord(ctx context.Context, r Record) error {
	row := toRow(r)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLiteAdapter) AckRecord(ctx context.Context, id types.MessageId) error {
	res := s.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", id.String()).Update("acked", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteAdapter) Pending(ctx context.Context) ([]Record, error) {
	var rows []messageRow
	if err := s.db.WithContext(ctx).Where("acked = ?", false).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

func toAgentRow(a AgentRecord) agentRow {
	return agentRow{ID: a.ID, Capabilities: strings.Join(a.Capabilities, ","), State: a.State, LastHeartbeat: a.LastHeartbeat}
}

func fromAgentRow(row agentRow) AgentRecord {
	var caps []string
	if row.Capabilities != "" {
		caps = strings.Split(row.Capabilities, ",")
	}
	return AgentRecord{ID: row.ID, Capabilities: caps, State: row.State, LastHeartbeat: row.LastHeartbeat}
}

func (s *SQLiteAdapter) CommitAgent(ctx context.Context, a AgentRecord) error {
	row := toAgentRow(a)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLiteAdapter) DeleteAgent(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&agentRow{}, "id = ?", id).Error
}

func (s *SQLiteAdapter) ListAgents(ctx context.Context) ([]AgentRecord, error) {
	var rows []agentRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]AgentRecord, len(rows))
	for i, row := range rows {
		out[i] = fromAgentRow(row)
	}
	return out, nil
}

func toConversationRow(c ConversationRecord) conversationRow {
	return conversationRow{ID: c.ID, Participants: strings.Join(c.Participants, ","), LastActivity: c.LastActivity}
}

func fromConversationRow(row conversationRow) ConversationRecord {
	var parts []string
	if row.Participants != "" {
		parts = strings.Split(row.Participants, ",")
	}
	return ConversationRecord{ID: row.ID, Participants: parts, LastActivity: row.LastActivity}
}

func (s *SQLiteAdapter) CommitConversation(ctx context.Context, c ConversationRecord) error {
	row := toConversationRow(c)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLiteAdapter) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&conversationRow{}, "id = ?", id).Error
}

func (s *SQLiteAdapter) ListConversations(ctx context.Context) ([]ConversationRecord, error) {
	var rows []conversationRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ConversationRecord, len(rows))
	for i, row := range rows {
		out[i] = fromConversationRow(row)
	}
	return out, nil
}

func toDLQRow(d DLQRecord) dlqRow {
	return dlqRow{
		ID: d.ID, MessageID: d.Message.ID, Sender: d.Message.Sender, DestKind: d.Message.DestKind,
		DestAgent: d.Message.DestAgent, DestCapability: d.Message.DestCapability,
		Performative: d.Message.Performative, Content: d.Message.Content,
		Conversation: d.Message.Conversation, Priority: d.Message.Priority, Attempt: d.Message.Attempt,
		MsgCreatedAt: d.Message.CreatedAt, Reason: d.Reason, Cause: d.Cause, RetiredAt: d.RetiredAt,
	}
}

func fromDLQRow(row dlqRow) DLQRecord {
	return DLQRecord{
		ID: row.ID,
		Message: Record{
			ID: row.MessageID, Sender: row.Sender, DestKind: row.DestKind, DestAgent: row.DestAgent,
			DestCapability: row.DestCapability, Performative: row.Performative, Content: row.Content,
			Conversation: row.Conversation, Priority: row.Priority, Attempt: row.Attempt,
			CreatedAt: row.MsgCreatedAt, Acked: false,
		},
		Reason: row.Reason, Cause: row.Cause, RetiredAt: row.RetiredAt,
	}
}

func (s *SQLiteAdapter) CommitDLQEntry(ctx context.Context, d DLQRecord) error {
	row := toDLQRow(d)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLiteAdapter) DeleteDLQEntry(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&dlqRow{}, "id = ?", id).Error
}

func (s *SQLiteAdapter) ListDLQEntries(ctx context.Context) ([]DLQRecord, error) {
	var rows []dlqRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]DLQRecord, len(rows))
	for i, row := range rows {
		out[i] = fromDLQRow(row)
	}
	return out, nil
}

func (s *SQLiteAdapter) Close() error {
	return s.pool.Close()
}
