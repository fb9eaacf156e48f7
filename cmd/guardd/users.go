package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/password"
)

const adminRole = "ROLE_ADMIN"

// memoryUsers is the process-local subject store. Lookups match the
// username or email case-insensitively and the mobile number exactly.
type memoryUsers struct {
	mu      sync.RWMutex
	byID    map[string]*goGuard.UserRecord
	history map[string][]string
	nextID  int
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		byID:    map[string]*goGuard.UserRecord{},
		history: map[string][]string{},
	}
}

func (m *memoryUsers) GetUserByIdentifier(_ context.Context, identifier string) (goGuard.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u := m.find(identifier); u != nil {
		out := *u
		out.Roles = append([]string(nil), u.Roles...)
		return out, nil
	}
	return goGuard.UserRecord{}, goGuard.ErrUserNotFound
}

func (m *memoryUsers) CreateUser(_ context.Context, nu goGuard.NewUser) (goGuard.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.find(nu.Username) != nil {
		return goGuard.UserRecord{}, goGuard.ErrIdentifierTaken
	}
	m.nextID++
	u := &goGuard.UserRecord{
		ID:           "u" + strconv.Itoa(m.nextID),
		Username:     nu.Username,
		Email:        nu.Email,
		Mobile:       nu.Mobile,
		PasswordHash: nu.PasswordHash,
		Roles:        append([]string(nil), nu.Roles...),
	}
	m.byID[u.ID] = u
	return *u, nil
}

func (m *memoryUsers) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[userID]
	if !ok {
		return goGuard.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.MustChangePassword = false
	return nil
}

// historyLimit bounds the hashes kept per user.
const historyLimit = 10

func (m *memoryUsers) RecentHashes(_ context.Context, userID string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.history[userID]
	if len(list) > limit {
		list = list[:limit]
	}
	return append([]string(nil), list...), nil
}

func (m *memoryUsers) AppendHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append([]string{hash}, m.history[userID]...)
	if len(list) > historyLimit {
		list = list[:historyLimit]
	}
	m.history[userID] = list
	return nil
}

func (m *memoryUsers) IdentifierExists(_ context.Context, username, email, mobile string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, candidate := range []string{username, email, mobile} {
		if candidate != "" && m.find(candidate) != nil {
			return true, nil
		}
	}
	return false, nil
}

// find must be called with mu held.
func (m *memoryUsers) find(identifier string) *goGuard.UserRecord {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil
	}
	for _, u := range m.byID {
		if strings.EqualFold(u.Username, id) ||
			(u.Email != "" && strings.EqualFold(u.Email, id)) ||
			(u.Mobile != "" && u.Mobile == id) {
			return u
		}
	}
	return nil
}

// bootstrapAdmin creates an administrator when both values are set.
func (m *memoryUsers) bootstrapAdmin(username, plain string) error {
	username = strings.TrimSpace(username)
	if username == "" && plain == "" {
		return nil
	}
	if username == "" || plain == "" {
		return errors.New("admin username and password must both be set")
	}

	hasher, err := password.NewArgon2(password.DefaultArgon2Config())
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(plain)
	if err != nil {
		return err
	}
	_, err = m.CreateUser(context.Background(), goGuard.NewUser{
		Username:     username,
		PasswordHash: hash,
		Roles:        []string{adminRole},
	})
	return err
}
