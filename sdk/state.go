package parley

// StateStore is the durable local state the SDK keeps across restarts: the
// backend session id, the per-install user id, and the serialized
// conversation turn log. Each piece is independently clearable.
// pkg/core/store.Store satisfies it.
type StateStore interface {
	SessionID() (string, error)
	SetSessionID(id string) error
	ClearSessionID() error

	UserID() (string, error)
	SetUserID(id string) error

	SaveTurns(payloads []string) error
	LoadTurns() ([]string, error)
	ClearTurns() error
}
