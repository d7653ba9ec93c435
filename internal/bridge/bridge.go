package bridge

import (
	"context"

	"go.uber.org/zap"
)

// Bridge keeps a Channel bound to a reachable peer as discovery reports
// nodes coming and going.
type Bridge struct {
	discovery *Discovery
	channel   *Channel
	log       *zap.Logger
}

func New(discovery *Discovery, channel *Channel, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{discovery: discovery, channel: channel, log: log}
}

func (b *Bridge) Channel() *Channel {
	return b.channel
}

// Run follows discovery until ctx is done or discovery stops, then unbinds.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.channel.Unbind()

	for nodes := range b.discovery.Watch(ctx) {
		bound, ok := b.channel.BoundNode()
		if ok && !containsNode(nodes, bound.ID) {
			b.channel.Unbind()
			ok = false
		}
		if ok || len(nodes) == 0 {
			continue
		}
		if err := b.channel.Bind(ctx, preferred(nodes)); err != nil {
			b.log.Warn("bind failed", zap.Error(err))
		}
	}
	return ctx.Err()
}

func containsNode(nodes []Node, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// preferred picks the first nearby node, falling back to the first one.
func preferred(nodes []Node) Node {
	for _, n := range nodes {
		if n.Nearby {
			return n
		}
	}
	return nodes[0]
}
