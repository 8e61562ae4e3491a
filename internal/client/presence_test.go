package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPresenceNodeWithoutChatJIDOmitsTo(t *testing.T) {
	t.Parallel()

	node := BuildPresenceNode("", PresenceAvailable)
	require.Equal(t, "presence", node.Tag)
	require.Equal(t, PresenceAvailable, node.Attrs["type"])
	require.Empty(t, node.Attrs["to"])
}

func TestBuildPresenceNodeWithChatJIDSetsTo(t *testing.T) {
	t.Parallel()

	node := BuildPresenceNode("15551234567@s.whatsapp.net", PresenceComposing)
	require.Equal(t, PresenceComposing, node.Attrs["type"])
	require.Equal(t, "15551234567@s.whatsapp.net", node.Attrs["to"])
}

func TestSendPresenceRejectsWhenNotReady(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	err := c.SendPresence("", PresenceAvailable)
	require.ErrorIs(t, err, ErrNotConnected)
}
