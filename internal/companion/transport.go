// Package companion implements the bridge transport on redis: nodes advertise
// capabilities as expiring keys and every node has an inbox list per path, so
// messages sent before the peer listens wait for it.
package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"backend-activitytracker/internal/bridge"
	"backend-activitytracker/internal/poll"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	nodePrefix  = "bridge:node:"
	inboxPrefix = "bridge:inbox:"
	DefaultTTL  = 15 * time.Second

	// InboxTTL bounds how long unread messages survive an absent peer.
	InboxTTL = 10 * time.Minute
	// popTimeout is how long one BLPOP blocks before ctx is checked again;
	// redis counts blocking timeouts in whole seconds.
	popTimeout = time.Second
)

type Transport struct {
	rdb   *redis.Client
	local bridge.Node
	ttl   time.Duration
	log   *zap.Logger
}

type envelope struct {
	Source string `json:"source"`
	Data   []byte `json:"data"`
}

func New(rdb *redis.Client, local bridge.Node, ttl time.Duration, log *zap.Logger) *Transport {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{rdb: rdb, local: local, ttl: ttl, log: log.With(zap.String("node_id", local.ID))}
}

// Advertise publishes the local node under capability until the TTL runs out.
func (t *Transport) Advertise(ctx context.Context, capability string) error {
	payload, err := json.Marshal(t.local)
	if err != nil {
		return err
	}
	if err := t.rdb.Set(ctx, nodeKey(capability, t.local.ID), payload, t.ttl).Err(); err != nil {
		return t.wrap("advertise", err)
	}
	return nil
}

// KeepAdvertising refreshes the advertisement at a third of the TTL until ctx
// is done, then withdraws it.
func (t *Transport) KeepAdvertising(ctx context.Context, capability string) error {
	err := poll.Run(ctx, t.ttl/3, func(ctx context.Context) error {
		err := t.Advertise(ctx, capability)
		if errors.Is(err, bridge.ErrTransportClosed) {
			return poll.Stop(err)
		}
		if err != nil {
			t.log.Warn("advertise failed", zap.Error(err))
		}
		return err
	})

	withdrawCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = t.Withdraw(withdrawCtx, capability)
	return err
}

func (t *Transport) Withdraw(ctx context.Context, capability string) error {
	if err := t.rdb.Del(ctx, nodeKey(capability, t.local.ID)).Err(); err != nil {
		return t.wrap("withdraw", err)
	}
	return nil
}

func (t *Transport) ReachableNodes(ctx context.Context, capability string) ([]bridge.Node, error) {
	var keys []string
	iter := t.rdb.Scan(ctx, 0, nodeKey(capability, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, t.wrap("scan nodes", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := t.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, t.wrap("load nodes", err)
	}

	nodes := make([]bridge.Node, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var n bridge.Node
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			t.log.Warn("skipping malformed node entry", zap.Error(err))
			continue
		}
		if n.ID == t.local.ID {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// SendMessage appends to the recipient's inbox. Delivery does not depend on
// the recipient listening yet.
func (t *Transport) SendMessage(ctx context.Context, nodeID, path string, data []byte) error {
	payload, err := json.Marshal(envelope{Source: t.local.ID, Data: data})
	if err != nil {
		return err
	}
	key := inboxKey(nodeID, path)
	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.Expire(ctx, key, InboxTTL)
		return nil
	})
	if err != nil {
		return t.wrap("push", err)
	}
	return nil
}

// Listen pops the local inbox for path until ctx is done. Each message is
// delivered to one listener exactly once.
func (t *Transport) Listen(ctx context.Context, path string) (<-chan bridge.Message, error) {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return nil, t.wrap("listen", err)
	}

	key := inboxKey(t.local.ID, path)
	out := make(chan bridge.Message, 16)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := t.rdb.BLPop(ctx, popTimeout, key).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, redis.ErrClosed) {
					t.log.Info("companion inbox closed", zap.Error(err))
					return
				}
				t.log.Warn("companion inbox pop failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(popTimeout):
				}
				continue
			}

			// res is [key, value]
			var env envelope
			if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
				t.log.Warn("dropping malformed companion message", zap.Error(err))
				continue
			}
			select {
			case out <- bridge.Message{SourceNodeID: env.Source, Path: path, Data: env.Data}:
			case <-ctx.Done():
				t.requeue(key, res[1])
				return
			}
		}
	}()
	return out, nil
}

// requeue puts a popped but undelivered message back at the head of the
// inbox for the next listener.
func (t *Transport) requeue(key, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := t.rdb.LPush(ctx, key, payload).Err(); err != nil {
		t.log.Warn("companion message lost on unbind", zap.Error(err))
	}
}

func (t *Transport) wrap(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w", op, bridge.ErrTransportClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nodeKey(capability, nodeID string) string {
	return nodePrefix + capability + ":" + nodeID
}

func inboxKey(nodeID, path string) string {
	return inboxPrefix + nodeID + ":" + strings.TrimPrefix(path, "/")
}
