package bridge

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"backend-activitytracker/internal/poll"

	"go.uber.org/zap"
)

// Discovery watches which peer nodes are reachable.
type Discovery struct {
	nodes      NodeClient
	capability string
	interval   time.Duration
	log        *zap.Logger
}

func NewDiscovery(nodes NodeClient, role Role, interval time.Duration, log *zap.Logger) *Discovery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Discovery{
		nodes:      nodes,
		capability: role.PeerCapability(),
		interval:   interval,
		log:        log.With(zap.String("capability", role.PeerCapability())),
	}
}

// Watch emits the reachable set whenever it changes, starting with the first
// observation. The channel is closed when ctx is done or the transport is
// closed; transient errors are retried and never surface. Watch may be
// called again to restart observation.
func (d *Discovery) Watch(ctx context.Context) <-chan []Node {
	out := make(chan []Node, 1)
	go func() {
		defer close(out)
		var last []Node
		first := true
		err := poll.Run(ctx, d.interval, func(ctx context.Context) error {
			nodes, err := d.nodes.ReachableNodes(ctx, d.capability)
			if errors.Is(err, ErrTransportClosed) {
				return poll.Stop(err)
			}
			if err != nil {
				d.log.Warn("node lookup failed", zap.Error(err))
				return err
			}
			if !first && sameNodes(last, nodes) {
				return nil
			}
			first = false
			last = nodes
			select {
			case out <- slices.Clone(nodes):
			case <-ctx.Done():
			}
			return nil
		})
		if errors.Is(err, ErrTransportClosed) {
			d.log.Info("node discovery stopped", zap.Error(err))
		}
	}()
	return out
}

// sameNodes compares the ID sets of a and b.
func sameNodes(a, b []Node) bool {
	return maps.Equal(nodeIDs(a), nodeIDs(b))
}

func nodeIDs(nodes []Node) map[string]struct{} {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	return ids
}
