// Package bridge carries lifecycle and progress actions between the phone
// and its companion wearable: discovery of reachable nodes, and a channel
// that queues actions while no node is bound.
package bridge

import (
	"context"
	"errors"
)

// ActionPath is the message path actions travel on.
const ActionPath = "/activity_tracker/action"

const (
	PhoneCapability = "phone_capability"
	WearCapability  = "wear_capability"
)

// Role is the side of the bridge the local device plays.
type Role string

const (
	RolePhone Role = "phone"
	RoleWear  Role = "wear"
)

// PeerCapability is the capability the other side advertises.
func (r Role) PeerCapability() string {
	if r == RoleWear {
		return PhoneCapability
	}
	return WearCapability
}

// OwnCapability is the capability the local device advertises.
func (r Role) OwnCapability() string {
	if r == RoleWear {
		return WearCapability
	}
	return PhoneCapability
}

var (
	// ErrTransportClosed ends discovery and listening for good.
	ErrTransportClosed = errors.New("transport closed")
	ErrAlreadyBound    = errors.New("a node is already bound")
)

type Node struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Nearby      bool   `json:"nearby"`
}

// Message is a raw inbound message addressed to the local node.
type Message struct {
	SourceNodeID string
	Path         string
	Data         []byte
}

// NodeClient lists nodes advertising a capability.
type NodeClient interface {
	ReachableNodes(ctx context.Context, capability string) ([]Node, error)
}

// MessageClient sends to and receives from remote nodes. The channel
// returned by Listen is closed when ctx is done or the transport closes.
type MessageClient interface {
	SendMessage(ctx context.Context, nodeID, path string, data []byte) error
	Listen(ctx context.Context, path string) (<-chan Message, error)
}
