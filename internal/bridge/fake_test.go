package bridge

import (
	"context"
	"errors"
	"sync"
)

type sentMessage struct {
	nodeID string
	path   string
	action Action
}

// fakeTransport is an in-memory NodeClient and MessageClient.
type fakeTransport struct {
	mu        sync.Mutex
	nodes     []Node
	lookupErr []error
	lookups   int
	sent      []sentMessage
	sendErr   error
	listeners []chan Message
	listenErr []error
}

var errFlaky = errors.New("flaky transport")

func (f *fakeTransport) ReachableNodes(_ context.Context, _ string) ([]Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if len(f.lookupErr) > 0 {
		err := f.lookupErr[0]
		f.lookupErr = f.lookupErr[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]Node, len(f.nodes))
	copy(out, f.nodes)
	return out, nil
}

func (f *fakeTransport) setNodes(nodes ...Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = nodes
}

func (f *fakeTransport) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupErr = append(f.lookupErr, errs...)
}

func (f *fakeTransport) SendMessage(_ context.Context, nodeID, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	a, err := Decode(data)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{nodeID: nodeID, path: path, action: a})
	return nil
}

func (f *fakeTransport) Listen(_ context.Context, _ string) (<-chan Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.listenErr) > 0 {
		err := f.listenErr[0]
		f.listenErr = f.listenErr[1:]
		if err != nil {
			return nil, err
		}
	}
	ch := make(chan Message, 16)
	f.listeners = append(f.listeners, ch)
	return ch, nil
}

func (f *fakeTransport) deliver(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.listeners {
		select {
		case l <- msg:
		default:
		}
	}
}

func (f *fakeTransport) sentActions() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Action, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.action
	}
	return out
}

func (f *fakeTransport) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}
