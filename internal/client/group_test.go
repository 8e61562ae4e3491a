package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCreateGroupNodeShape(t *testing.T) {
	t.Parallel()

	node := BuildCreateGroupNode("Family", []string{"111@s.whatsapp.net", "222@s.whatsapp.net"})

	require.Equal(t, "iq", node.Tag)
	require.Equal(t, "w:g2", node.Attrs["xmlns"])
	require.Equal(t, "set", node.Attrs["type"])
	require.Equal(t, "g.us", node.Attrs["to"])

	create := node.GetChild("create")
	require.NotNil(t, create)
	require.Equal(t, "Family", create.Attrs["subject"])
	require.Len(t, create.Children(), 2)
	require.Equal(t, "111@s.whatsapp.net", create.Children()[0].Attrs["jid"])
}

func TestBuildGroupParticipantsNodeUsesRequestedAction(t *testing.T) {
	t.Parallel()

	node := BuildGroupParticipantsNode("12345-group@g.us", GroupActionPromote, []string{"111@s.whatsapp.net"})

	require.Equal(t, "12345-group@g.us", node.Attrs["to"])
	promote := node.GetChild(GroupActionPromote)
	require.NotNil(t, promote)
	require.Len(t, promote.Children(), 1)
}

func TestBuildLeaveGroupNodeShape(t *testing.T) {
	t.Parallel()

	node := BuildLeaveGroupNode("12345-group@g.us")

	require.Equal(t, "g.us", node.Attrs["to"])
	leave := node.GetChild("leave")
	require.NotNil(t, leave)
	group := leave.GetChild("group")
	require.NotNil(t, group)
	require.Equal(t, "12345-group@g.us", group.Attrs["id"])
}

func TestCreateGroupRejectsWhenNotReady(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	_, err := c.CreateGroup("Family", []string{"111@s.whatsapp.net"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestUpdateGroupParticipantsRejectsWhenNotReady(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	err := c.UpdateGroupParticipants("12345-group@g.us", GroupActionAdd, []string{"111@s.whatsapp.net"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestLeaveGroupRejectsWhenNotReady(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	err := c.LeaveGroup("12345-group@g.us")
	require.ErrorIs(t, err, ErrNotConnected)
}
