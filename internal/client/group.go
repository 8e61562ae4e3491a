package client

import (
	"context"
	"time"

	"github.com/waconnect/waconnect-go/internal/core"
)

// Group participant actions, spec.md §6.
const (
	GroupActionAdd     = "add"
	GroupActionRemove  = "remove"
	GroupActionPromote = "promote"
	GroupActionDemote  = "demote"
)

// GroupResult is returned by CreateGroup.
type GroupResult struct {
	JID     string   `json:"jid"`
	Subject string   `json:"subject"`
	Members []string `json:"members"`
}

func buildParticipantNodes(jids []string) []*core.BinaryNode {
	nodes := make([]*core.BinaryNode, len(jids))
	for i, jid := range jids {
		p := core.NewNode("participant", nil)
		p.SetAttr("jid", jid)
		nodes[i] = p
	}
	return nodes
}

// BuildCreateGroupNode constructs the group-creation iq, spec.md §6.
func BuildCreateGroupNode(subject string, participants []string) *core.BinaryNode {
	create := core.NewNode("create", buildParticipantNodes(participants))
	create.SetAttr("subject", subject)
	iq := core.NewNode("iq", []*core.BinaryNode{create})
	iq.SetAttr("xmlns", "w:g2")
	iq.SetAttr("type", "set")
	iq.SetAttr("to", "g.us")
	return iq
}

// BuildGroupParticipantsNode constructs the add/remove/promote/demote iq
// for an existing group.
func BuildGroupParticipantsNode(groupJID, action string, participants []string) *core.BinaryNode {
	actionNode := core.NewNode(action, buildParticipantNodes(participants))
	iq := core.NewNode("iq", []*core.BinaryNode{actionNode})
	iq.SetAttr("xmlns", "w:g2")
	iq.SetAttr("type", "set")
	iq.SetAttr("to", groupJID)
	return iq
}

// BuildLeaveGroupNode constructs the leave-group iq.
func BuildLeaveGroupNode(groupJID string) *core.BinaryNode {
	group := core.NewNode("group", nil)
	group.SetAttr("id", groupJID)
	leave := core.NewNode("leave", []*core.BinaryNode{group})
	iq := core.NewNode("iq", []*core.BinaryNode{leave})
	iq.SetAttr("xmlns", "w:g2")
	iq.SetAttr("type", "set")
	iq.SetAttr("to", "g.us")
	return iq
}

// CreateGroup creates a group with the given subject and initial members.
func (c *WAClient) CreateGroup(subject string, participants []string) (*GroupResult, error) {
	c.mu.RLock()
	conn := c.conn
	ready := c.status == StatusReady
	c.mu.RUnlock()
	if !ready || conn == nil {
		return nil, ErrNotConnected
	}

	node := BuildCreateGroupNode(subject, participants)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := conn.Dispatcher().Query(ctx, node, nil)
	if err != nil {
		return nil, err
	}

	groupJID := ""
	if g := resp.GetChild("group"); g != nil {
		groupJID = g.Attrs["id"]
	}
	return &GroupResult{JID: groupJID, Subject: subject, Members: participants}, nil
}

// UpdateGroupParticipants adds, removes, promotes, or demotes members of
// an existing group.
func (c *WAClient) UpdateGroupParticipants(groupJID, action string, participants []string) error {
	c.mu.RLock()
	conn := c.conn
	ready := c.status == StatusReady
	c.mu.RUnlock()
	if !ready || conn == nil {
		return ErrNotConnected
	}

	node := BuildGroupParticipantsNode(groupJID, action, participants)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := conn.Dispatcher().Query(ctx, node, nil)
	return err
}

// LeaveGroup removes the local account from a group.
func (c *WAClient) LeaveGroup(groupJID string) error {
	c.mu.RLock()
	conn := c.conn
	ready := c.status == StatusReady
	c.mu.RUnlock()
	if !ready || conn == nil {
		return ErrNotConnected
	}

	node := BuildLeaveGroupNode(groupJID)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := conn.Dispatcher().Query(ctx, node, nil)
	return err
}
