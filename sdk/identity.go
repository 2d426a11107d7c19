package parley

import (
	"fmt"

	"github.com/google/uuid"
)

// EnsureUserID returns the stable per-install user id, generating and
// persisting one on first use. The id is independent of the session and
// survives session resets and conversation clears.
func EnsureUserID(st StateStore) (string, error) {
	if st != nil {
		if id, err := st.UserID(); err == nil && id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if st != nil {
		if err := st.SetUserID(id); err != nil {
			return "", fmt.Errorf("parley: persist user id: %w", err)
		}
	}
	return id, nil
}
