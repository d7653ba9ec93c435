package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Channel delivers actions to at most one bound node. While nothing is
// bound, outbound actions wait in a volatile FIFO queue that is flushed on
// the next Bind.
type Channel struct {
	messages MessageClient
	log      *zap.Logger

	mu      sync.Mutex
	node    *Node
	queue   []Action
	closed  bool
	cancel  context.CancelFunc
	stopped chan struct{}

	inbound chan Action
}

func NewChannel(messages MessageClient, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		messages: messages,
		log:      log,
		inbound:  make(chan Action, 32),
	}
}

// Inbound delivers decoded actions from the bound node. It is closed by
// Close.
func (c *Channel) Inbound() <-chan Action {
	return c.inbound
}

// SendOrQueue transmits a to the bound node, or queues it when unbound.
// Transmission failures are logged and dropped; only encoding errors are
// returned.
func (c *Channel) SendOrQueue(ctx context.Context, a Action) error {
	data, err := Encode(a)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.node == nil {
		c.queue = append(c.queue, a)
		return nil
	}
	c.send(ctx, c.node.ID, a, data)
	return nil
}

// Bind attaches the channel to node. The inbound subscription is opened
// first; only once it succeeds is the binding committed, the queue flushed
// in order and cleared, and inbound delivery started. A failed subscription
// leaves the channel unbound with its queue intact.
func (c *Channel) Bind(ctx context.Context, node Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("bind %s: %w", node.ID, ErrTransportClosed)
	}
	if c.node != nil {
		return fmt.Errorf("bind %s while bound to %s: %w", node.ID, c.node.ID, ErrAlreadyBound)
	}

	lctx, cancel := context.WithCancel(ctx)
	msgs, err := c.messages.Listen(lctx, ActionPath)
	if err != nil {
		cancel()
		return fmt.Errorf("listen on %s: %w", ActionPath, err)
	}

	bound := node
	c.node = &bound
	for _, a := range c.queue {
		data, _ := Encode(a)
		c.send(ctx, node.ID, a, data)
	}
	c.queue = nil

	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.listen(lctx, node.ID, msgs, c.stopped)

	c.log.Info("companion bound", zap.String("node_id", node.ID), zap.String("node", node.DisplayName))
	return nil
}

// Unbind detaches from the current node and waits for its listener to stop.
func (c *Channel) Unbind() {
	c.mu.Lock()
	cancel, stopped := c.cancel, c.stopped
	if c.node != nil {
		c.log.Info("companion unbound", zap.String("node_id", c.node.ID))
	}
	c.node, c.cancel, c.stopped = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
}

func (c *Channel) BoundNode() (Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.node == nil {
		return Node{}, false
	}
	return *c.node, true
}

// Pending is the number of queued actions.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close unbinds, drops the queue and closes Inbound.
func (c *Channel) Close() {
	c.Unbind()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.queue = nil
	close(c.inbound)
}

func (c *Channel) send(ctx context.Context, nodeID string, a Action, data []byte) {
	if err := c.messages.SendMessage(ctx, nodeID, ActionPath, data); err != nil {
		c.log.Warn("dropping action", zap.String("node_id", nodeID),
			zap.String("action", a.actionType()), zap.Error(err))
	}
}

func (c *Channel) listen(ctx context.Context, nodeID string, msgs <-chan Message, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.SourceNodeID != nodeID {
				continue
			}
			a, err := Decode(msg.Data)
			if err != nil {
				c.log.Warn("dropping inbound action", zap.String("node_id", nodeID), zap.Error(err))
				continue
			}
			select {
			case c.inbound <- a:
			case <-ctx.Done():
				return
			}
		}
	}
}
