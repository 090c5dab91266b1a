package persistence

import "fmt"

// NewAdapter builds the backend named by cfg.Type, the same
// switch-on-StoreType dispatch the donor's NewMessageStore/NewTaskStore
// factories use.
func NewAdapter(cfg StoreConfig) (Adapter, error) {
	switch cfg.Type {
	case BackendMemory, "":
		return NewMemoryAdapter(), nil
	case BackendSQLite:
		return NewSQLiteAdapter(cfg.SQLite)
	case BackendRedis:
		return NewRedisAdapter(cfg.Redis)
	default:
		return nil, fmt.Errorf("persistence: unsupported backend type: %s", cfg.Type)
	}
}

// MustNewAdapter builds the backend named by cfg.Type or panics.
//
// WARNING: only call this during process initialization (main/init), the
// same restriction the donor's MustNewMessageStore documents — never from
// a request path.
func MustNewAdapter(cfg StoreConfig) Adapter {
	a, err := NewAdapter(cfg)
	if err != nil {
		panic(fmt.Sprintf("persistence: failed to create adapter: %v", err))
	}
	return a
}
