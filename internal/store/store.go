// Package store owns all durable state: conversation logs, cursors,
// sessions, membership, keypackages and social chains. It is the single
// source of truth; the hub and presence layers are in-memory projections.
package store

import (
	"hash/fnv"
	"sync"
	"time"

	"moorgate/pkg/database"
	"moorgate/pkg/logging"
)

// lockStripes bounds the number of in-process mutexes used to serialize
// per-conversation appends and per-user chain appends.
const lockStripes = 64

// Store wraps the embedded database with the gateway's data operations.
type Store struct {
	db     database.SQLiteConn
	logger logging.Logger
	nowMs  func() int64

	convLocks [lockStripes]sync.Mutex
	userLocks [lockStripes]sync.Mutex
}

// New creates a store over an already-migrated database connection.
func New(db database.SQLiteConn, logger logging.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() database.SQLiteConn {
	return s.db
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(nowMs func() int64) {
	s.nowMs = nowMs
}

func stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}

// convLock returns the mutex serializing appends to one conversation.
// Distinct conversations may share a stripe; that only costs parallelism.
func (s *Store) convLock(convID string) *sync.Mutex {
	return &s.convLocks[stripe(convID)]
}

// userLock returns the mutex serializing one user's social chain appends.
func (s *Store) userLock(userID string) *sync.Mutex {
	return &s.userLocks[stripe(userID)]
}
