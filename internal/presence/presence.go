// Package presence tracks device liveness leases and fans visibility
// transitions out to watchers. Everything here is in-memory: presence is
// ephemeral and a restart simply reads as offline until the next lease.
//
// Visibility is mutual-consent: A sees B's updates only when each watches
// the other and neither has blocked the other, and B holds a visible
// (non-invisible) lease.
package presence

import (
	"sort"
	"sync"
	"time"

	"moorgate/pkg/config"
	"moorgate/pkg/logging"
	"moorgate/pkg/models"
)

type lease struct {
	userID      string
	expiresAtMs int64
	invisible   bool
}

// SinkFunc receives one presence update for delivery to a connection. A
// false return unregisters the sink.
type SinkFunc func(update models.PresenceStatus) bool

type sink struct {
	id     uint64
	userID string
	fn     SinkFunc
}

// Manager owns leases, watchlists, block lists and update sinks.
type Manager struct {
	mu       sync.Mutex
	leases   map[string]*lease          // device_id -> lease
	watching map[string]map[string]bool // watcher -> targets
	watchers map[string]map[string]bool // target -> watchers (reverse index)
	blocked  map[string]map[string]bool // user -> blocked users
	lastSeen map[string]int64           // user_id -> ms of last visible moment
	sinks    map[string][]*sink         // user_id -> connection sinks
	nextSink uint64

	cfg    config.Presence
	logger logging.Logger
	nowMs  func() int64
}

// New creates an empty presence manager.
func New(cfg config.Presence, logger logging.Logger) *Manager {
	return &Manager{
		leases:   make(map[string]*lease),
		watching: make(map[string]map[string]bool),
		watchers: make(map[string]map[string]bool),
		blocked:  make(map[string]map[string]bool),
		lastSeen: make(map[string]int64),
		sinks:    make(map[string][]*sink),
		cfg:      cfg,
		logger:   logger,
		nowMs:    func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(nowMs func() int64) {
	m.nowMs = nowMs
}

// Lease asserts liveness of a device. TTL clamps to the configured range;
// the returned value is the lease expiry in ms. Visibility transitions are
// broadcast to eligible watchers.
func (m *Manager) Lease(userID, deviceID string, ttlSeconds int, invisible bool) int64 {
	if ttlSeconds < m.cfg.MinTTLSeconds {
		ttlSeconds = m.cfg.MinTTLSeconds
	}
	if ttlSeconds > m.cfg.MaxTTLSeconds {
		ttlSeconds = m.cfg.MaxTTLSeconds
	}

	m.mu.Lock()
	now := m.nowMs()
	wasVisible := m.visibleLocked(userID, now)

	expiresAt := now + int64(ttlSeconds)*1000
	m.leases[deviceID] = &lease{userID: userID, expiresAtMs: expiresAt, invisible: invisible}

	isVisible := m.visibleLocked(userID, now)
	if isVisible {
		m.lastSeen[userID] = now
	}
	var updates []delivery
	if wasVisible != isVisible {
		updates = m.transitionLocked(userID, isVisible, expiresAt, now)
	}
	m.mu.Unlock()

	m.deliver(updates)
	return expiresAt
}

// DropDevice releases a device's lease immediately (connection teardown).
func (m *Manager) DropDevice(deviceID string) {
	m.mu.Lock()
	l, ok := m.leases[deviceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.nowMs()
	wasVisible := m.visibleLocked(l.userID, now)
	delete(m.leases, deviceID)
	isVisible := m.visibleLocked(l.userID, now)
	var updates []delivery
	if wasVisible && !isVisible {
		m.lastSeen[l.userID] = now
		updates = m.transitionLocked(l.userID, false, 0, now)
	}
	m.mu.Unlock()
	m.deliver(updates)
}

// Watch adds contacts to the watcher's watchlist, enforcing both caps.
func (m *Manager) Watch(watcherID string, contacts []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	targets := m.watching[watcherID]
	if targets == nil {
		targets = make(map[string]bool)
		m.watching[watcherID] = targets
	}
	for _, target := range contacts {
		if target == "" || target == watcherID || targets[target] {
			continue
		}
		if m.cfg.MaxWatchlistSize > 0 && len(targets) >= m.cfg.MaxWatchlistSize {
			return len(targets), models.ErrLimitExceeded("watchlist cap is %d", m.cfg.MaxWatchlistSize)
		}
		if m.cfg.MaxWatchersPerTarget > 0 && len(m.watchers[target]) >= m.cfg.MaxWatchersPerTarget {
			return len(targets), models.ErrLimitExceeded("watcher cap for %q is %d", target, m.cfg.MaxWatchersPerTarget)
		}
		targets[target] = true
		if m.watchers[target] == nil {
			m.watchers[target] = make(map[string]bool)
		}
		m.watchers[target][watcherID] = true
	}
	return len(targets), nil
}

// Unwatch removes contacts from the watchlist.
func (m *Manager) Unwatch(watcherID string, contacts []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	targets := m.watching[watcherID]
	for _, target := range contacts {
		if targets[target] {
			delete(targets, target)
			delete(m.watchers[target], watcherID)
		}
	}
	return len(targets)
}

// Block hides both users from each other until unblocked.
func (m *Manager) Block(userID string, contacts []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocked := m.blocked[userID]
	if blocked == nil {
		blocked = make(map[string]bool)
		m.blocked[userID] = blocked
	}
	for _, target := range contacts {
		if target != "" && target != userID {
			blocked[target] = true
		}
	}
	return len(blocked)
}

// Unblock lifts blocks.
func (m *Manager) Unblock(userID string, contacts []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocked := m.blocked[userID]
	for _, target := range contacts {
		delete(blocked, target)
	}
	return len(blocked)
}

// Blocklist returns the user's blocked set, sorted.
func (m *Manager) Blocklist(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.blocked[userID]))
	for target := range m.blocked[userID] {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// BlockedEither reports whether either user has blocked the other. Consulted
// by DM creation and conversation sends.
func (m *Manager) BlockedEither(a, b string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[a][b] || m.blocked[b][a]
}

// Status reports presence of contacts as seen by the caller, sorted by user
// id. Contacts outside the mutual-consent relation always read as offline
// with no bucket.
func (m *Manager) Status(callerID string, contacts []string) []models.PresenceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowMs()
	seen := make(map[string]bool)
	var statuses []models.PresenceStatus
	for _, target := range contacts {
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true

		status := models.PresenceStatus{UserID: target, Status: models.PresenceOffline}
		if m.eligibleLocked(target, callerID) {
			if expiry := m.visibleExpiryLocked(target, now); expiry > 0 {
				status.Status = models.PresenceOnline
				status.ExpiresAt = expiry
				status.LastSeenBucket = models.BucketNow
			} else if last, ok := m.lastSeen[target]; ok {
				status.LastSeenBucket = bucket(now - last)
			}
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].UserID < statuses[j].UserID })
	return statuses
}

// RegisterSink attaches a delivery callback for one user's presence frames.
// The returned id is passed to UnregisterSink on teardown.
func (m *Manager) RegisterSink(userID string, fn SinkFunc) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSink++
	m.sinks[userID] = append(m.sinks[userID], &sink{id: m.nextSink, userID: userID, fn: fn})
	return m.nextSink
}

// UnregisterSink detaches a previously registered sink.
func (m *Manager) UnregisterSink(userID string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sinks := m.sinks[userID]
	for i, s := range sinks {
		if s.id == id {
			m.sinks[userID] = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	if len(m.sinks[userID]) == 0 {
		delete(m.sinks, userID)
	}
}

// Start runs the expiry sweeper until stop is closed.
func (m *Manager) Start(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Duration(m.cfg.SweepIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Sweep expires leases and broadcasts the resulting offline transitions.
func (m *Manager) Sweep() {
	m.mu.Lock()
	now := m.nowMs()

	affected := make(map[string]bool)
	for deviceID, l := range m.leases {
		if l.expiresAtMs <= now {
			affected[l.userID] = true
			delete(m.leases, deviceID)
		}
	}

	var updates []delivery
	for userID := range affected {
		if !m.visibleLocked(userID, now) {
			m.lastSeen[userID] = now
			updates = append(updates, m.transitionLocked(userID, false, 0, now)...)
		}
	}
	m.mu.Unlock()
	m.deliver(updates)
}

type delivery struct {
	watcherID string
	update    models.PresenceStatus
}

// transitionLocked builds the update fan-out for one user's visibility flip.
func (m *Manager) transitionLocked(userID string, online bool, expiresAt, now int64) []delivery {
	update := models.PresenceStatus{
		UserID: userID,
		Status: models.PresenceOffline,
	}
	if online {
		update.Status = models.PresenceOnline
		update.ExpiresAt = expiresAt
		update.LastSeenBucket = models.BucketNow
	} else if last, ok := m.lastSeen[userID]; ok {
		update.LastSeenBucket = bucket(now - last)
	}

	var out []delivery
	for watcherID := range m.watchers[userID] {
		if m.eligibleLocked(userID, watcherID) {
			out = append(out, delivery{watcherID: watcherID, update: update})
		}
	}
	return out
}

func (m *Manager) deliver(updates []delivery) {
	for _, d := range updates {
		m.mu.Lock()
		sinks := append([]*sink(nil), m.sinks[d.watcherID]...)
		m.mu.Unlock()
		for _, s := range sinks {
			if !s.fn(d.update) {
				m.UnregisterSink(s.userID, s.id)
			}
		}
	}
}

// eligibleLocked applies the mutual-consent rule for watcher observing
// target.
func (m *Manager) eligibleLocked(target, watcher string) bool {
	return m.watching[watcher][target] &&
		m.watching[target][watcher] &&
		!m.blocked[watcher][target] &&
		!m.blocked[target][watcher]
}

// visibleLocked reports whether the user holds any live non-invisible lease.
func (m *Manager) visibleLocked(userID string, now int64) bool {
	return m.visibleExpiryLocked(userID, now) > 0
}

// visibleExpiryLocked returns the latest visible lease expiry, 0 when none.
func (m *Manager) visibleExpiryLocked(userID string, now int64) int64 {
	var max int64
	for _, l := range m.leases {
		if l.userID == userID && !l.invisible && l.expiresAtMs > now && l.expiresAtMs > max {
			max = l.expiresAtMs
		}
	}
	return max
}

// bucket coarsens a last-seen age. Precise timestamps never leave the
// process.
func bucket(ageMs int64) string {
	switch {
	case ageMs < 60_000:
		return models.BucketNow
	case ageMs < 5*60_000:
		return models.Bucket5m
	case ageMs < 60*60_000:
		return models.Bucket1h
	case ageMs < 24*60*60_000:
		return models.Bucket1d
	default:
		return models.Bucket7d
	}
}
