package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moorgate/pkg/models"
)

func TestCreateDMIdempotentForSamePair(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateDM("dm1", "alice", "bob", "gw.local"))
	require.NoError(t, st.CreateDM("dm1", "bob", "alice", "gw.local"))

	err := st.CreateDM("dm1", "alice", "carol", "gw.local")
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.AsGatewayError(err).Code)

	members, err := st.Members("dm1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].UserID)
	assert.Equal(t, "bob", members[1].UserID)
}

func TestCreateRoomOwnerRoleAndCap(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateRoom("r1", "alice", []string{"bob", "bob", "alice"}, "crew", "gw.local", 10))

	role, ok, err := st.MemberRole("r1", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleOwner, role)

	role, ok, err = st.MemberRole("r1", "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleMember, role)

	err = st.CreateRoom("r2", "alice", []string{"b", "c", "d"}, "", "gw.local", 3)
	require.Error(t, err)
	assert.Equal(t, models.CodeLimitExceeded, models.AsGatewayError(err).Code)

	err = st.CreateRoom("r1", "carol", nil, "", "gw.local", 10)
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, models.AsGatewayError(err).Code)
}

func TestInviteRespectsBansAndCap(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateRoom("r1", "alice", []string{"bob"}, "", "gw.local", 3))
	require.NoError(t, st.BanMembers("r1", "alice", []string{"bob"}))

	// A ban drops the membership.
	_, ok, err := st.MemberRole("r1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	err = st.AddMembers("r1", []string{"bob"}, 3)
	require.Error(t, err)
	assert.Equal(t, models.CodeForbidden, models.AsGatewayError(err).Code)

	require.NoError(t, st.UnbanMembers("r1", []string{"bob"}))
	require.NoError(t, st.AddMembers("r1", []string{"bob", "carol"}, 3))

	// Re-inviting an existing member does not count against the cap.
	require.NoError(t, st.AddMembers("r1", []string{"carol"}, 3))

	err = st.AddMembers("r1", []string{"dave"}, 3)
	require.Error(t, err)
	assert.Equal(t, models.CodeLimitExceeded, models.AsGatewayError(err).Code)
}

func TestOwnerIsProtected(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateRoom("r1", "alice", []string{"bob"}, "", "gw.local", 0))

	for _, err := range []error{
		st.RemoveMembers("r1", []string{"alice"}),
		st.BanMembers("r1", "bob", []string{"alice"}),
		st.SetRole("r1", "alice", models.RoleMember),
		st.ModMuteMembers("r1", "bob", []string{"alice"}),
	} {
		require.Error(t, err)
		assert.Equal(t, models.CodeForbidden, models.AsGatewayError(err).Code)
	}
}

func TestSetRoleUnknownMember(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateRoom("r1", "alice", nil, "", "gw.local", 0))
	err := st.SetRole("r1", "ghost", models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.AsGatewayError(err).Code)
}

func TestModMuteLifecycle(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateRoom("r1", "alice", []string{"bob"}, "", "gw.local", 0))
	require.NoError(t, st.ModMuteMembers("r1", "alice", []string{"bob"}))

	muted, err := st.IsModMuted("r1", "bob")
	require.NoError(t, err)
	assert.True(t, muted)

	mutes, err := st.ModMutes("r1")
	require.NoError(t, err)
	require.Len(t, mutes, 1)
	assert.Equal(t, "bob", mutes[0].UserID)
	assert.Equal(t, "alice", mutes[0].MutedBy)

	require.NoError(t, st.ModUnmuteMembers("r1", []string{"bob"}))
	muted, err = st.IsModMuted("r1", "bob")
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestMarkReadClampsAndNeverRegresses(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateDM("dm1", "alice", "bob", "gw.local"))
	for i := 1; i <= 10; i++ {
		_, _, err := st.Append("dm1", fmt.Sprintf("m%d", i), "ZW52", "d1")
		require.NoError(t, err)
	}

	lastRead, unread, err := st.MarkRead("dm1", "alice", ptr(int64(4)))
	require.NoError(t, err)
	assert.Equal(t, int64(4), lastRead)
	assert.Equal(t, int64(6), unread)

	// Regression attempts keep the higher cursor.
	lastRead, unread, err = st.MarkRead("dm1", "alice", ptr(int64(2)))
	require.NoError(t, err)
	assert.Equal(t, int64(4), lastRead)
	assert.Equal(t, int64(6), unread)

	// Past latest clamps down; nil means latest.
	lastRead, _, err = st.MarkRead("dm1", "alice", ptr(int64(99)))
	require.NoError(t, err)
	assert.Equal(t, int64(10), lastRead)

	lastRead, unread, err = st.MarkRead("dm1", "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), lastRead)
	assert.Equal(t, int64(0), unread)
}

func TestMarkReadFloorsAtPrunedWindow(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.CreateDM("dm1", "alice", "bob", "gw.local"))
	for i := 1; i <= 10; i++ {
		_, _, err := st.Append("dm1", fmt.Sprintf("m%d", i), "ZW52", "d1")
		require.NoError(t, err)
	}
	_, err := st.DeleteUpTo("dm1", 7)
	require.NoError(t, err)

	// Targets below the window clamp to earliest-1, so unread only counts
	// events that still exist.
	lastRead, unread, err := st.MarkRead("dm1", "alice", ptr(int64(2)))
	require.NoError(t, err)
	assert.Equal(t, int64(7), lastRead)
	assert.Equal(t, int64(3), unread)
}

func TestListConversationsOrderAndUnread(t *testing.T) {
	st := newTestStore(t)

	now := int64(1_000)
	st.SetClock(func() int64 { now++; return now })

	require.NoError(t, st.CreateDM("dm1", "alice", "bob", "gw.local"))
	require.NoError(t, st.CreateRoom("r1", "alice", []string{"bob"}, "crew", "gw.local", 0))
	require.NoError(t, st.CreateRoom("r2", "alice", nil, "", "gw.local", 0))

	_, _, err := st.Append("dm1", "m1", "ZW52", "d1")
	require.NoError(t, err)
	_, _, err = st.Append("dm1", "m2", "ZW52", "d1")
	require.NoError(t, err)
	_, _, err = st.MarkRead("dm1", "alice", ptr(int64(1)))
	require.NoError(t, err)

	require.NoError(t, st.SetPinned("r2", "alice", true))
	require.NoError(t, st.SetLabel("dm1", "alice", "bob-dm"))
	require.NoError(t, st.SetArchived("r1", "alice", true))

	items, err := st.ListConversations("alice", false)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Pinned first, then creation order.
	assert.Equal(t, "r2", items[0].ConvID)
	assert.True(t, items[0].Pinned)
	assert.Equal(t, "dm1", items[1].ConvID)
	assert.Equal(t, "bob-dm", items[1].Label)
	assert.Equal(t, int64(1), items[1].UnreadCount)
	assert.Equal(t, int64(2), items[1].LatestSeq)
	assert.Equal(t, []string{"alice", "bob"}, items[1].Members)

	items, err = st.ListConversations("alice", true)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "r1", items[2].ConvID)
	assert.True(t, items[2].Archived)
}

func ptr[T any](v T) *T { return &v }
