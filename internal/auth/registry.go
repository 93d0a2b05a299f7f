// Package auth handles user identity: registration and login with bcrypt
// password hashes, short-lived JWT access tokens, and rotating refresh
// tokens backed by a pluggable store.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// User is a registered account. PasswordHash is a bcrypt hash and never
// leaves this package.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash []byte    `json:"password_hash"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Registry holds all registered users in memory. It implements
// engine.UserDirectory so the engine can check identities without knowing
// about authentication.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
	admins  map[string]bool
}

// NewRegistry creates an empty registry. Accounts registered with an email
// in adminEmails get administrative rights.
func NewRegistry(adminEmails []string) *Registry {
	admins := make(map[string]bool, len(adminEmails))
	for _, email := range adminEmails {
		admins[normalizeEmail(email)] = true
	}
	return &Registry{
		byID:    make(map[string]*User),
		byEmail: make(map[string]*User),
		admins:  admins,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcrypt.DefaultCost)

// Register creates a new account. The password is hashed with bcrypt at
// the default cost.
func (r *Registry) Register(email, password, displayName string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("email %q: %w", email, ErrInvalidCredentials)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("password too short: %w", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return User{}, ErrEmailTaken
	}
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		IsAdmin:      r.admins[email],
		CreatedAt:    time.Now(),
	}
	r.byID[u.ID] = u
	r.byEmail[email] = u
	return *u, nil
}

// Authenticate checks an email/password pair and returns the user.
func (r *Registry) Authenticate(email, password string) (User, error) {
	r.mu.RLock()
	u, ok := r.byEmail[normalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		// Burn a comparison anyway so unknown emails cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return *u, nil
}

// Get returns a user by ID.
func (r *Registry) Get(userID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *u, nil
}

// UserExists implements engine.UserDirectory.
func (r *Registry) UserExists(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[userID]
	return ok
}

// Users returns a copy of all accounts, for persistence.
func (r *Registry) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]User, 0, len(r.byID))
	for _, u := range r.byID {
		out = append(out, *u)
	}
	return out
}

// Restore replaces the registry contents from persisted accounts.
func (r *Registry) Restore(users []User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]*User, len(users))
	r.byEmail = make(map[string]*User, len(users))
	for i := range users {
		u := users[i]
		r.byID[u.ID] = &u
		r.byEmail[u.Email] = &u
	}
}
