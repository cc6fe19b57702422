package main

import (
	"context"
	"sync"

	"github.com/MrEthical07/fingate"
)

// memoryUsers is the demo user store. Identifiers arrive normalized from
// the engine.
type memoryUsers struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]fingate.UserRecord
	byIdent map[string]int64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		byID:    make(map[int64]fingate.UserRecord),
		byIdent: make(map[string]int64),
	}
}

func (m *memoryUsers) GetUserByIdentifier(_ context.Context, identifier string) (fingate.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byIdent[identifier]
	if !ok {
		return fingate.UserRecord{}, fingate.ErrUserNotFound
	}
	return m.byID[id], nil
}

func (m *memoryUsers) GetUserByID(_ context.Context, userID int64) (fingate.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[userID]
	if !ok {
		return fingate.UserRecord{}, fingate.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) CreateUser(_ context.Context, input fingate.CreateUserInput) (fingate.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byIdent[input.Identifier]; exists {
		return fingate.UserRecord{}, fingate.ErrAccountExists
	}
	m.nextID++
	u := fingate.UserRecord{
		UserID:       m.nextID,
		Identifier:   input.Identifier,
		PasswordHash: input.PasswordHash,
		TokenVersion: 1,
	}
	m.byID[u.UserID] = u
	m.byIdent[u.Identifier] = u.UserID
	return u, nil
}

func (m *memoryUsers) UpdatePassword(_ context.Context, userID int64, newHash string) (fingate.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return fingate.UserRecord{}, fingate.ErrUserNotFound
	}
	u.PasswordHash = newHash
	u.TokenVersion++
	m.byID[userID] = u
	return u, nil
}
