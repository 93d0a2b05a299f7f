package auth

import (
	"errors"
	"sync"
	"time"
)

// MemoryTokenStore is an in-memory TokenStore for tests and single-process
// setups without persistence.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
}

type memoryToken struct {
	userID    string
	expiresAt time.Time
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken)}
}

func (m *MemoryTokenStore) SaveRefreshToken(token, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = memoryToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryTokenStore) LookupRefreshToken(token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tokens[token]
	if !ok || time.Now().After(rec.expiresAt) {
		delete(m.tokens, token)
		return "", errors.New("refresh token not found")
	}
	return rec.userID, nil
}

func (m *MemoryTokenStore) DeleteRefreshToken(token, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *MemoryTokenStore) RevokeUserTokens(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, rec := range m.tokens {
		if rec.userID == userID {
			delete(m.tokens, token)
		}
	}
	return nil
}
