package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryNodeEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		node *BinaryNode
	}{
		{
			name: "minimal node, no attrs no content",
			node: NewNode("iq", nil),
		},
		{
			name: "attrs preserve insertion order",
			node: func() *BinaryNode {
				n := NewNode("iq", nil)
				n.SetAttr("id", "abc.1")
				n.SetAttr("type", "get")
				n.SetAttr("xmlns", "w:p")
				return n
			}(),
		},
		{
			name: "jid-pair encoding for full jid",
			node: func() *BinaryNode {
				n := NewNode("message", nil)
				n.SetAttr("to", "1234567890@s.whatsapp.net")
				return n
			}(),
		},
		{
			name: "bare server string also encodes as jid-pair",
			node: func() *BinaryNode {
				n := NewNode("message", nil)
				n.SetAttr("to", "s.whatsapp.net")
				return n
			}(),
		},
		{
			name: "numeric jid-local uses nibble encoding",
			node: func() *BinaryNode {
				n := NewNode("message", nil)
				n.SetAttr("id", "5551234567")
				return n
			}(),
		},
		{
			name: "byte-string content",
			node: NewNode("body", []byte("hello, world")),
		},
		{
			name: "child node list",
			node: NewNode("iq", []*BinaryNode{
				NewNode("ping", nil),
				NewNode("query", []byte("data")),
			}),
		},
		{
			name: "unknown word falls back to raw binary token",
			node: func() *BinaryNode {
				n := NewNode("custom-tag-not-in-dictionary", nil)
				n.SetAttr("freeform-value", "not a dictionary word either")
				return n
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			encoded := EncodeBinaryNode(tt.node)
			decoded, err := DecodeBinaryNode(encoded)
			require.NoError(t, err)
			require.Equal(t, tt.node.Tag, decoded.Tag)
			require.Equal(t, tt.node.Attrs, decoded.Attrs)
			require.Equal(t, tt.node.orderedAttrKeys(), decoded.orderedAttrKeys())

			switch want := tt.node.Content.(type) {
			case nil:
				require.Nil(t, decoded.Content)
			case []byte:
				require.Equal(t, want, decoded.Content)
			case []*BinaryNode:
				got := decoded.Children()
				require.Len(t, got, len(want))
				for i := range want {
					require.Equal(t, want[i].Tag, got[i].Tag)
				}
			}
		})
	}
}

func TestBinaryNodeDecodeRejectsTrailingBytes(t *testing.T) {
	t.Parallel()

	encoded := EncodeBinaryNode(NewNode("iq", nil))
	_, err := DecodeBinaryNode(append(encoded, 0xFF))
	require.Error(t, err)
}

func TestBinaryNodeJidPairWithEmptyUserRoundTrips(t *testing.T) {
	t.Parallel()

	n := NewNode("iq", nil)
	n.SetAttr("to", "g.us")
	encoded := EncodeBinaryNode(n)
	decoded, err := DecodeBinaryNode(encoded)
	require.NoError(t, err)
	require.Equal(t, "g.us", decoded.Attrs["to"])
}

func TestDictionaryStaysWithinReservedTokenRange(t *testing.T) {
	t.Parallel()

	require.LessOrEqual(t, len(dictionaryTokens), tagListStart, "dictionary indices must not overrun the structural token range")
	for word := range jidServers {
		_, inDict := dictionaryIndex[word]
		require.False(t, inDict, "jid-server word %q must not also be a plain dictionary token", word)
	}
}
