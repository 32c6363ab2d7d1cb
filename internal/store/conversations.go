package store

import (
	"database/sql"
	"fmt"
	"sort"

	"moorgate/pkg/models"
)

// inlineMemberCap bounds how many member ids a conversation-list row inlines.
const inlineMemberCap = 20

// Conversation is the shared (not per-member) state of a conversation.
type Conversation struct {
	ConvID      string
	OwnerUserID string
	CreatedAtMs int64
	HomeGateway string
	Title       string
}

// CreateDM creates a two-party conversation. Re-creating the same pair under
// the same conv_id is a no-op; any other duplicate conv_id is a conflict.
func (s *Store) CreateDM(convID, creatorID, peerID, homeGateway string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("create dm: begin: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRow(`SELECT owner_user_id FROM conversations WHERE conv_id = ?`, convID).Scan(&owner)
	if err == nil {
		same, serr := isSamePair(tx, convID, creatorID, peerID)
		if serr != nil {
			return serr
		}
		if same {
			return nil
		}
		return models.ErrConflict("conversation %q already exists", convID)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("create dm: lookup: %w", err)
	}

	now := s.nowMs()
	if _, err := tx.Exec(
		`INSERT INTO conversations (conv_id, owner_user_id, created_at_ms, home_gateway, title)
		 VALUES (?, ?, ?, ?, '')`,
		convID, creatorID, now, homeGateway,
	); err != nil {
		return fmt.Errorf("create dm: insert: %w", err)
	}
	for _, userID := range []string{creatorID, peerID} {
		if _, err := tx.Exec(
			`INSERT INTO conversation_members (conv_id, user_id, role) VALUES (?, ?, ?)`,
			convID, userID, string(models.RoleMember),
		); err != nil {
			return fmt.Errorf("create dm: member: %w", err)
		}
	}
	return tx.Commit()
}

func isSamePair(tx *sql.Tx, convID, a, b string) (bool, error) {
	rows, err := tx.Query(`SELECT user_id FROM conversation_members WHERE conv_id = ?`, convID)
	if err != nil {
		return false, fmt.Errorf("create dm: members: %w", err)
	}
	members, err := collectStrings(rows)
	if err != nil {
		return false, err
	}
	if len(members) != 2 {
		return false, nil
	}
	sort.Strings(members)
	pair := []string{a, b}
	sort.Strings(pair)
	return members[0] == pair[0] && members[1] == pair[1], nil
}

// CreateRoom creates a room owned by the creator with an optional initial
// member set. Duplicate conv_ids are a conflict; the member cap applies.
func (s *Store) CreateRoom(convID, ownerID string, members []string, title, homeGateway string, maxMembers int) error {
	unique := map[string]bool{ownerID: true}
	roster := []string{ownerID}
	for _, m := range members {
		if m == "" || unique[m] {
			continue
		}
		unique[m] = true
		roster = append(roster, m)
	}
	if maxMembers > 0 && len(roster) > maxMembers {
		return models.ErrLimitExceeded("membership cap is %d", maxMembers)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("create room: begin: %w", err)
	}
	defer tx.Rollback()

	var exists string
	err = tx.QueryRow(`SELECT conv_id FROM conversations WHERE conv_id = ?`, convID).Scan(&exists)
	if err == nil {
		return models.ErrConflict("conversation %q already exists", convID)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("create room: lookup: %w", err)
	}

	now := s.nowMs()
	if _, err := tx.Exec(
		`INSERT INTO conversations (conv_id, owner_user_id, created_at_ms, home_gateway, title)
		 VALUES (?, ?, ?, ?, ?)`,
		convID, ownerID, now, homeGateway, title,
	); err != nil {
		return fmt.Errorf("create room: insert: %w", err)
	}
	for _, userID := range roster {
		role := models.RoleMember
		if userID == ownerID {
			role = models.RoleOwner
		}
		if _, err := tx.Exec(
			`INSERT INTO conversation_members (conv_id, user_id, role) VALUES (?, ?, ?)`,
			convID, userID, string(role),
		); err != nil {
			return fmt.Errorf("create room: member: %w", err)
		}
	}
	return tx.Commit()
}

// GetConversation returns shared conversation state.
func (s *Store) GetConversation(convID string) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRow(
		`SELECT conv_id, owner_user_id, created_at_ms, home_gateway, title
		   FROM conversations WHERE conv_id = ?`,
		convID,
	).Scan(&conv.ConvID, &conv.OwnerUserID, &conv.CreatedAtMs, &conv.HomeGateway, &conv.Title)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound("unknown conversation %q", convID)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// MemberRole returns a user's role in a conversation.
func (s *Store) MemberRole(convID, userID string) (models.Role, bool, error) {
	var role string
	err := s.db.QueryRow(
		`SELECT role FROM conversation_members WHERE conv_id = ? AND user_id = ?`,
		convID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("member role: %w", err)
	}
	return models.Role(role), true, nil
}

// Members lists a conversation's members sorted by user id.
func (s *Store) Members(convID string) ([]models.Member, error) {
	rows, err := s.db.Query(
		`SELECT user_id, role FROM conversation_members WHERE conv_id = ? ORDER BY user_id ASC`,
		convID,
	)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		var role string
		if err := rows.Scan(&m.UserID, &role); err != nil {
			return nil, fmt.Errorf("members: scan: %w", err)
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemberCount returns the membership size.
func (s *Store) MemberCount(convID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversation_members WHERE conv_id = ?`, convID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("member count: %w", err)
	}
	return n, nil
}

// AddMembers invites users as plain members. Banned users are rejected; the
// cap applies to the resulting roster. Existing members are left untouched.
func (s *Store) AddMembers(convID string, users []string, maxMembers int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("invite: begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM conversation_members WHERE conv_id = ?`, convID).Scan(&count); err != nil {
		return fmt.Errorf("invite: count: %w", err)
	}

	for _, userID := range users {
		var banned string
		err := tx.QueryRow(
			`SELECT user_id FROM conversation_bans WHERE conv_id = ? AND user_id = ?`,
			convID, userID,
		).Scan(&banned)
		if err == nil {
			return models.ErrForbidden("user %q is banned from this conversation", userID)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("invite: ban check: %w", err)
		}

		res, err := tx.Exec(
			`INSERT INTO conversation_members (conv_id, user_id, role) VALUES (?, ?, ?)
			 ON CONFLICT(conv_id, user_id) DO NOTHING`,
			convID, userID, string(models.RoleMember),
		)
		if err != nil {
			return fmt.Errorf("invite: insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
			if maxMembers > 0 && count > maxMembers {
				return models.ErrLimitExceeded("membership cap is %d", maxMembers)
			}
		}
	}
	return tx.Commit()
}

// RemoveMembers removes users from a conversation. The owner is never
// removable.
func (s *Store) RemoveMembers(convID string, users []string) error {
	conv, err := s.GetConversation(convID)
	if err != nil {
		return err
	}
	for _, userID := range users {
		if userID == conv.OwnerUserID {
			return models.ErrForbidden("the owner cannot be removed")
		}
		if _, err := s.db.Exec(
			`DELETE FROM conversation_members WHERE conv_id = ? AND user_id = ?`,
			convID, userID,
		); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
	}
	return nil
}

// BanMembers bans users and drops their membership. Banning the owner is
// forbidden.
func (s *Store) BanMembers(convID, actorID string, users []string) error {
	conv, err := s.GetConversation(convID)
	if err != nil {
		return err
	}
	now := s.nowMs()
	for _, userID := range users {
		if userID == conv.OwnerUserID {
			return models.ErrForbidden("the owner cannot be banned")
		}
		if _, err := s.db.Exec(
			`INSERT INTO conversation_bans (conv_id, user_id, banned_by_user_id, banned_at_ms)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(conv_id, user_id) DO NOTHING`,
			convID, userID, actorID, now,
		); err != nil {
			return fmt.Errorf("ban: %w", err)
		}
		if _, err := s.db.Exec(
			`DELETE FROM conversation_members WHERE conv_id = ? AND user_id = ?`,
			convID, userID,
		); err != nil {
			return fmt.Errorf("ban: remove member: %w", err)
		}
	}
	return nil
}

// UnbanMembers lifts bans. Unbanning does not restore membership.
func (s *Store) UnbanMembers(convID string, users []string) error {
	for _, userID := range users {
		if _, err := s.db.Exec(
			`DELETE FROM conversation_bans WHERE conv_id = ? AND user_id = ?`,
			convID, userID,
		); err != nil {
			return fmt.Errorf("unban: %w", err)
		}
	}
	return nil
}

// IsBanned reports whether a user is banned from a conversation.
func (s *Store) IsBanned(convID, userID string) (bool, error) {
	var v string
	err := s.db.QueryRow(
		`SELECT user_id FROM conversation_bans WHERE conv_id = ? AND user_id = ?`,
		convID, userID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ban check: %w", err)
	}
	return true, nil
}

// Bans lists a conversation's bans sorted by user id.
func (s *Store) Bans(convID string) ([]models.Ban, error) {
	rows, err := s.db.Query(
		`SELECT user_id, banned_by_user_id, banned_at_ms
		   FROM conversation_bans WHERE conv_id = ? ORDER BY user_id ASC`,
		convID,
	)
	if err != nil {
		return nil, fmt.Errorf("bans: %w", err)
	}
	defer rows.Close()

	var bans []models.Ban
	for rows.Next() {
		var b models.Ban
		if err := rows.Scan(&b.UserID, &b.BannedBy, &b.BannedAtMs); err != nil {
			return nil, fmt.Errorf("bans: scan: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// SetRole promotes or demotes a member. The owner's role is immutable.
func (s *Store) SetRole(convID, userID string, role models.Role) error {
	conv, err := s.GetConversation(convID)
	if err != nil {
		return err
	}
	if userID == conv.OwnerUserID {
		return models.ErrForbidden("the owner's role cannot change")
	}
	res, err := s.db.Exec(
		`UPDATE conversation_members SET role = ? WHERE conv_id = ? AND user_id = ?`,
		string(role), convID, userID,
	)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound("user %q is not a member", userID)
	}
	return nil
}

// ModMuteMembers imposes a moderation mute: the users stay members but their
// sends are rejected until unmuted. The owner cannot be muted.
func (s *Store) ModMuteMembers(convID, actorID string, users []string) error {
	conv, err := s.GetConversation(convID)
	if err != nil {
		return err
	}
	now := s.nowMs()
	for _, userID := range users {
		if userID == conv.OwnerUserID {
			return models.ErrForbidden("the owner cannot be muted")
		}
		if _, err := s.db.Exec(
			`INSERT INTO conversation_mutes (conv_id, user_id, muted_by_user_id, muted_at_ms)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(conv_id, user_id) DO NOTHING`,
			convID, userID, actorID, now,
		); err != nil {
			return fmt.Errorf("mute: %w", err)
		}
	}
	return nil
}

// ModUnmuteMembers lifts moderation mutes.
func (s *Store) ModUnmuteMembers(convID string, users []string) error {
	for _, userID := range users {
		if _, err := s.db.Exec(
			`DELETE FROM conversation_mutes WHERE conv_id = ? AND user_id = ?`,
			convID, userID,
		); err != nil {
			return fmt.Errorf("unmute: %w", err)
		}
	}
	return nil
}

// IsModMuted reports whether a member is under a moderation mute.
func (s *Store) IsModMuted(convID, userID string) (bool, error) {
	var v string
	err := s.db.QueryRow(
		`SELECT user_id FROM conversation_mutes WHERE conv_id = ? AND user_id = ?`,
		convID, userID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mute check: %w", err)
	}
	return true, nil
}

// ModMutes lists moderation mutes sorted by user id.
func (s *Store) ModMutes(convID string) ([]models.Mute, error) {
	rows, err := s.db.Query(
		`SELECT user_id, muted_by_user_id, muted_at_ms
		   FROM conversation_mutes WHERE conv_id = ? ORDER BY user_id ASC`,
		convID,
	)
	if err != nil {
		return nil, fmt.Errorf("mutes: %w", err)
	}
	defer rows.Close()

	var mutes []models.Mute
	for rows.Next() {
		var m models.Mute
		if err := rows.Scan(&m.UserID, &m.MutedBy, &m.MutedAtMs); err != nil {
			return nil, fmt.Errorf("mutes: scan: %w", err)
		}
		mutes = append(mutes, m)
	}
	return mutes, rows.Err()
}

// SetTitle updates the shared conversation title.
func (s *Store) SetTitle(convID, title string) error {
	res, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE conv_id = ?`, title, convID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound("unknown conversation %q", convID)
	}
	return nil
}

// SetLabel sets a member's private label.
func (s *Store) SetLabel(convID, userID, label string) error {
	return s.upsertUserMeta(convID, userID, `label = ?`, label)
}

// SetPinned sets a member's pin flag, stamping pinned_at_ms on pin.
func (s *Store) SetPinned(convID, userID string, pinned bool) error {
	pinnedAt := int64(0)
	if pinned {
		pinnedAt = s.nowMs()
	}
	now := s.nowMs()
	_, err := s.db.Exec(
		`INSERT INTO conversation_user_meta (conv_id, user_id, pinned, pinned_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(conv_id, user_id) DO UPDATE SET
		   pinned = excluded.pinned, pinned_at_ms = excluded.pinned_at_ms, updated_at_ms = excluded.updated_at_ms`,
		convID, userID, boolInt(pinned), pinnedAt, now,
	)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	return nil
}

// SetMuted sets a member's personal mute flag (notification preference, not
// moderation).
func (s *Store) SetMuted(convID, userID string, muted bool) error {
	return s.upsertUserMeta(convID, userID, `muted = ?`, boolInt(muted))
}

// SetArchived sets a member's archive flag.
func (s *Store) SetArchived(convID, userID string, archived bool) error {
	return s.upsertUserMeta(convID, userID, `archived = ?`, boolInt(archived))
}

func (s *Store) upsertUserMeta(convID, userID, setClause string, value any) error {
	now := s.nowMs()
	_, err := s.db.Exec(
		`INSERT INTO conversation_user_meta (conv_id, user_id, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(conv_id, user_id) DO NOTHING`,
		convID, userID, now,
	)
	if err != nil {
		return fmt.Errorf("user meta: insert: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE conversation_user_meta SET `+setClause+`, updated_at_ms = ? WHERE conv_id = ? AND user_id = ?`,
		value, now, convID, userID,
	)
	if err != nil {
		return fmt.Errorf("user meta: update: %w", err)
	}
	return nil
}

// MarkRead advances a member's read cursor. The target clamps to
// [earliest_seq-1, latest_seq] and never regresses; a nil toSeq means
// latest_seq. Returns the resulting (last_read_seq, unread_count).
func (s *Store) MarkRead(convID, userID string, toSeq *int64) (int64, int64, error) {
	bounds, err := s.ConvBounds(convID)
	if err != nil {
		return 0, 0, err
	}

	target := bounds.LatestSeq
	if toSeq != nil {
		target = *toSeq
	}
	if target > bounds.LatestSeq {
		target = bounds.LatestSeq
	}
	if floor := bounds.EarliestSeq - 1; target < floor {
		target = floor
	}
	if target < 0 {
		target = 0
	}

	now := s.nowMs()
	_, err = s.db.Exec(
		`INSERT INTO conversation_reads (conv_id, user_id, last_read_seq, updated_at_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conv_id, user_id) DO UPDATE SET
		   last_read_seq = MAX(last_read_seq, excluded.last_read_seq),
		   updated_at_ms = excluded.updated_at_ms`,
		convID, userID, target, now,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("mark read: %w", err)
	}

	var lastRead int64
	if err := s.db.QueryRow(
		`SELECT last_read_seq FROM conversation_reads WHERE conv_id = ? AND user_id = ?`,
		convID, userID,
	).Scan(&lastRead); err != nil {
		return 0, 0, fmt.Errorf("mark read: readback: %w", err)
	}
	return lastRead, unreadCount(bounds, lastRead), nil
}

// MarkAllRead advances the read cursor to latest in every conversation the
// user belongs to. Returns how many conversations were touched.
func (s *Store) MarkAllRead(userID string) (int, error) {
	rows, err := s.db.Query(`SELECT conv_id FROM conversation_members WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	convIDs, err := collectStrings(rows)
	if err != nil {
		return 0, err
	}
	for _, convID := range convIDs {
		if _, _, err := s.MarkRead(convID, userID, nil); err != nil {
			return 0, err
		}
	}
	return len(convIDs), nil
}

// ListConversations builds the per-user conversation list sorted by
// (pinned desc, pinned_at_ms desc, created_at_ms asc, conv_id asc).
func (s *Store) ListConversations(userID string, includeArchived bool) ([]models.ConversationRow, error) {
	rows, err := s.db.Query(
		`SELECT c.conv_id, m.role, c.title, c.created_at_ms,
		        COALESCE(um.label, ''), COALESCE(um.pinned, 0), COALESCE(um.pinned_at_ms, 0),
		        COALESCE(um.muted, 0), COALESCE(um.archived, 0),
		        COALESCE(r.last_read_seq, 0)
		   FROM conversation_members m
		   JOIN conversations c ON c.conv_id = m.conv_id
		   LEFT JOIN conversation_user_meta um ON um.conv_id = m.conv_id AND um.user_id = m.user_id
		   LEFT JOIN conversation_reads r ON r.conv_id = m.conv_id AND r.user_id = m.user_id
		  WHERE m.user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var items []models.ConversationRow
	for rows.Next() {
		var row models.ConversationRow
		var role string
		var pinned, muted, archived int
		if err := rows.Scan(&row.ConvID, &role, &row.Title, &row.CreatedAtMs,
			&row.Label, &pinned, &row.PinnedAtMs, &muted, &archived, &row.LastReadSeq); err != nil {
			return nil, fmt.Errorf("list conversations: scan: %w", err)
		}
		row.Role = models.Role(role)
		row.Pinned = pinned != 0
		row.Muted = muted != 0
		row.Archived = archived != 0
		if row.Archived && !includeArchived {
			continue
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		row := &items[i]
		bounds, err := s.ConvBounds(row.ConvID)
		if err != nil {
			return nil, err
		}
		row.EarliestSeq = bounds.EarliestSeq
		row.LatestSeq = bounds.LatestSeq
		row.LatestTsMs = bounds.LatestTsMs
		row.UnreadCount = unreadCount(bounds, row.LastReadSeq)

		members, err := s.Members(row.ConvID)
		if err != nil {
			return nil, err
		}
		row.MemberCount = len(members)
		if len(members) <= inlineMemberCap {
			for _, m := range members {
				row.Members = append(row.Members, m.UserID)
			}
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Pinned && a.PinnedAtMs != b.PinnedAtMs {
			return a.PinnedAtMs > b.PinnedAtMs
		}
		if a.CreatedAtMs != b.CreatedAtMs {
			return a.CreatedAtMs < b.CreatedAtMs
		}
		return a.ConvID < b.ConvID
	})
	return items, nil
}

func unreadCount(b Bounds, lastRead int64) int64 {
	floor := b.EarliestSeq - 1
	if lastRead > floor {
		floor = lastRead
	}
	if n := b.LatestSeq - floor; n > 0 {
		return n
	}
	return 0
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
