package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"moorgate/pkg/models"
)

// socialBody is the persisted canonical body of a chain event.
type socialBody struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	PrevHash string          `json:"prev_hash"`
	TsMs     int64           `json:"ts_ms"`
	UserID   string          `json:"user_id"`
}

// followPayload is the expected payload shape of follow-kind events.
type followPayload struct {
	TargetUserID string `json:"target_user_id"`
	Following    bool   `json:"following"`
}

// PublishSocialEvent appends a verified event to a user's chain. The caller
// has already canonicalized the body, checked the signature and computed
// eventHash; this method enforces the chain link under the per-user lock.
// Re-publishing an existing event_id returns the stored event unchanged.
func (s *Store) PublishSocialEvent(userID, kind string, payload json.RawMessage, prevHash string, tsMs int64, sigB64, eventHash string, canonical []byte) (*models.SocialEvent, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.SocialEventByHash(eventHash); err == nil {
		return existing, nil
	} else if ge := models.AsGatewayError(err); ge.Code != models.CodeNotFound {
		return nil, err
	}

	head, err := s.chainHead(userID)
	if err != nil {
		return nil, err
	}
	if prevHash != head {
		return nil, &models.GatewayError{
			Code:    models.CodeInvalidRequest,
			Message: "prev_hash does not match the chain head",
			Detail:  map[string]any{"head": head},
		}
	}

	if _, err := s.db.Exec(
		`INSERT INTO social_events (event_id, user_id, ts_ms, kind, body_json, pub_key_b64, sig_b64)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventHash, userID, tsMs, kind, string(canonical), userID, sigB64,
	); err != nil {
		return nil, fmt.Errorf("publish social: insert: %w", err)
	}

	return &models.SocialEvent{
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		PrevHash:  prevHash,
		TsMs:      tsMs,
		SigB64:    sigB64,
		EventHash: eventHash,
	}, nil
}

// chainHead returns the hash of the newest chain event, or "" for an empty
// chain. Insertion order is chain order: appends hold the per-user lock and
// verify the prev link.
func (s *Store) chainHead(userID string) (string, error) {
	var head string
	err := s.db.QueryRow(
		`SELECT event_id FROM social_events WHERE user_id = ? ORDER BY rowid DESC LIMIT 1`,
		userID,
	).Scan(&head)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("chain head: %w", err)
	}
	return head, nil
}

// SocialEventByHash loads a single chain event.
func (s *Store) SocialEventByHash(eventHash string) (*models.SocialEvent, error) {
	var userID, kind, bodyJSON, sigB64 string
	var tsMs int64
	err := s.db.QueryRow(
		`SELECT user_id, ts_ms, kind, body_json, sig_b64 FROM social_events WHERE event_id = ?`,
		eventHash,
	).Scan(&userID, &tsMs, &kind, &bodyJSON, &sigB64)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound("unknown social event")
	}
	if err != nil {
		return nil, fmt.Errorf("social event: %w", err)
	}
	return decodeSocialEvent(eventHash, userID, kind, bodyJSON, sigB64, tsMs)
}

func decodeSocialEvent(eventHash, userID, kind, bodyJSON, sigB64 string, tsMs int64) (*models.SocialEvent, error) {
	var body socialBody
	if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
		return nil, fmt.Errorf("social event %s: corrupt body: %w", eventHash, err)
	}
	return &models.SocialEvent{
		UserID:    userID,
		Kind:      kind,
		Payload:   body.Payload,
		PrevHash:  body.PrevHash,
		TsMs:      tsMs,
		SigB64:    sigB64,
		EventHash: eventHash,
	}, nil
}

// ListSocialEvents returns chain events in ascending (ts_ms, event_hash)
// order, strictly after the cursor event when afterHash is set.
func (s *Store) ListSocialEvents(userID, afterHash string, limit int) ([]models.SocialEvent, error) {
	if limit < 1 {
		limit = 100
	}

	query := `SELECT event_id, user_id, ts_ms, kind, body_json, sig_b64
	            FROM social_events WHERE user_id = ?`
	args := []any{userID}
	if afterHash != "" {
		cursor, err := s.SocialEventByHash(afterHash)
		if err != nil {
			return nil, err
		}
		query += ` AND (ts_ms > ? OR (ts_ms = ? AND event_id > ?))`
		args = append(args, cursor.TsMs, cursor.TsMs, afterHash)
	}
	query += ` ORDER BY ts_ms ASC, event_id ASC LIMIT ?`
	args = append(args, limit)

	return s.querySocialEvents(query, args...)
}

func (s *Store) querySocialEvents(query string, args ...any) ([]models.SocialEvent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("social events: %w", err)
	}
	defer rows.Close()

	var events []models.SocialEvent
	for rows.Next() {
		var eventHash, userID, kind, bodyJSON, sigB64 string
		var tsMs int64
		if err := rows.Scan(&eventHash, &userID, &tsMs, &kind, &bodyJSON, &sigB64); err != nil {
			return nil, fmt.Errorf("social events: scan: %w", err)
		}
		event, err := decodeSocialEvent(eventHash, userID, kind, bodyJSON, sigB64, tsMs)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

var profileKinds = []string{
	models.SocialKindUsername,
	models.SocialKindDescription,
	models.SocialKindAvatar,
	models.SocialKindBanner,
	models.SocialKindInterests,
}

// Profile projects a user's chain into its last-writer-wins view: for each
// profile kind the event with the greatest (ts_ms, event_hash) wins; friends
// are the targets whose latest follow event has following=true.
func (s *Store) Profile(userID string, postLimit int) (*models.ProfileView, error) {
	if postLimit < 1 {
		postLimit = 10
	}

	view := &models.ProfileView{
		UserID:  userID,
		Fields:  make(map[string]json.RawMessage),
		Friends: []string{},
	}

	for _, kind := range profileKinds {
		events, err := s.querySocialEvents(
			`SELECT event_id, user_id, ts_ms, kind, body_json, sig_b64
			   FROM social_events WHERE user_id = ? AND kind = ?
			  ORDER BY ts_ms DESC, event_id DESC LIMIT 1`,
			userID, kind,
		)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			view.Fields[kind] = events[0].Payload
			if events[0].TsMs > view.UpdatedAtMs {
				view.UpdatedAtMs = events[0].TsMs
			}
		}
	}

	friends, err := s.following(userID)
	if err != nil {
		return nil, err
	}
	view.Friends = friends

	posts, err := s.querySocialEvents(
		`SELECT event_id, user_id, ts_ms, kind, body_json, sig_b64
		   FROM social_events WHERE user_id = ? AND kind = ?
		  ORDER BY ts_ms DESC, event_id DESC LIMIT ?`,
		userID, models.SocialKindPost, postLimit,
	)
	if err != nil {
		return nil, err
	}
	view.LatestPosts = posts
	if len(posts) > 0 && posts[0].TsMs > view.UpdatedAtMs {
		view.UpdatedAtMs = posts[0].TsMs
	}
	return view, nil
}

// following folds a user's follow events: per target, the latest
// (ts_ms, event_hash) event decides. Sorted ascending.
func (s *Store) following(userID string) ([]string, error) {
	events, err := s.querySocialEvents(
		`SELECT event_id, user_id, ts_ms, kind, body_json, sig_b64
		   FROM social_events WHERE user_id = ? AND kind = ?
		  ORDER BY ts_ms ASC, event_id ASC`,
		userID, models.SocialKindFollow,
	)
	if err != nil {
		return nil, err
	}

	state := make(map[string]bool)
	for _, event := range events {
		var p followPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.TargetUserID == "" {
			continue
		}
		state[p.TargetUserID] = p.Following
	}

	var friends []string
	for target, following := range state {
		if following {
			friends = append(friends, target)
		}
	}
	sort.Strings(friends)
	if friends == nil {
		friends = []string{}
	}
	return friends, nil
}

// Feed pages posts by the user and everyone they follow, newest first,
// paginated by a "ts_ms:event_hash" cursor.
func (s *Store) Feed(userID string, limit int, cursor string) (*models.FeedPage, error) {
	if limit < 1 {
		limit = 50
	}

	friends, err := s.following(userID)
	if err != nil {
		return nil, err
	}
	authors := append([]string{userID}, friends...)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(authors)), ",")
	query := `SELECT event_id, user_id, ts_ms, kind, body_json, sig_b64
	            FROM social_events WHERE kind = ? AND user_id IN (` + placeholders + `)`
	args := []any{models.SocialKindPost}
	for _, a := range authors {
		args = append(args, a)
	}

	if cursor != "" {
		tsMs, hash, err := parseFeedCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (ts_ms < ? OR (ts_ms = ? AND event_id < ?))`
		args = append(args, tsMs, tsMs, hash)
	}
	query += ` ORDER BY ts_ms DESC, event_id DESC LIMIT ?`
	args = append(args, limit)

	items, err := s.querySocialEvents(query, args...)
	if err != nil {
		return nil, err
	}

	page := &models.FeedPage{Items: items}
	if len(items) == limit {
		last := items[len(items)-1]
		page.NextCursor = fmt.Sprintf("%d:%s", last.TsMs, last.EventHash)
	}
	if page.Items == nil {
		page.Items = []models.SocialEvent{}
	}
	return page, nil
}

func parseFeedCursor(cursor string) (int64, string, error) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return 0, "", models.ErrInvalidRequest("malformed feed cursor")
	}
	var tsMs int64
	if _, err := fmt.Sscanf(parts[0], "%d", &tsMs); err != nil {
		return 0, "", models.ErrInvalidRequest("malformed feed cursor")
	}
	return tsMs, parts[1], nil
}
