package driver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"cloudqueues-driver/internal/pkg/queue"
)

// fakeService is an in-memory queue.Service that records the calls the
// driver makes against it.
type fakeService struct {
	queues map[string]*fakeQueue
	nextID int

	claimCalls  int
	deleteCalls int
	listCalls   int

	// failWith, when set, is returned by every queue operation.
	failWith error
}

func newFakeService(names ...string) *fakeService {
	s := &fakeService{queues: make(map[string]*fakeQueue)}
	for _, n := range names {
		s.queues[n] = &fakeQueue{}
	}
	return s
}

func (s *fakeService) ListQueues(ctx context.Context) ([]string, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	var names []string
	for n := range s.queues {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (s *fakeService) CreateQueue(ctx context.Context, name string) (queue.Queue, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	if _, ok := s.queues[name]; !ok {
		s.queues[name] = &fakeQueue{}
	}
	return s.Queue(name), nil
}

func (s *fakeService) Queue(name string) queue.Queue {
	return &fakeHandle{svc: s, name: name}
}

func (s *fakeService) Info() queue.Info {
	return queue.Info{
		ClientID: "3381af92-2b9e-11e3-b191-71861300734c",
		Name:     "cloudQueues",
		URL:      "https://ord.queues.api.rackspacecloud.com/v1/123456",
		Region:   "ORD",
		URLType:  "publicURL",
	}
}

// push adds bodies straight to a queue, bypassing the driver.
func (s *fakeService) push(name string, bodies ...string) {
	q := s.queues[name]
	for _, b := range bodies {
		s.nextID++
		q.msgs = append(q.msgs, &fakeMessage{id: fmt.Sprintf("m%d", s.nextID), body: b})
	}
}

type fakeQueue struct {
	msgs []*fakeMessage
}

type fakeMessage struct {
	id      string
	body    string
	ttl     time.Duration
	claimID string
}

type fakeHandle struct {
	svc  *fakeService
	name string
}

func (h *fakeHandle) lookup() (*fakeQueue, error) {
	if h.svc.failWith != nil {
		return nil, h.svc.failWith
	}
	q, ok := h.svc.queues[h.name]
	if !ok {
		return nil, fmt.Errorf("fake: queue %s: %w", h.name, queue.ErrNotFound)
	}
	return q, nil
}

func (h *fakeHandle) Name() string { return h.name }

func (h *fakeHandle) Delete(ctx context.Context) error {
	if _, err := h.lookup(); err != nil {
		return err
	}
	delete(h.svc.queues, h.name)
	return nil
}

func (h *fakeHandle) Stats(ctx context.Context) (queue.Stats, error) {
	q, err := h.lookup()
	if err != nil {
		return queue.Stats{}, err
	}
	var st queue.Stats
	for _, m := range q.msgs {
		if m.claimID != "" {
			st.Claimed++
		} else {
			st.Free++
		}
	}
	st.Total = len(q.msgs)
	return st, nil
}

func (h *fakeHandle) CreateMessages(ctx context.Context, msgs ...queue.NewMessage) error {
	q, err := h.lookup()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		h.svc.nextID++
		q.msgs = append(q.msgs, &fakeMessage{id: fmt.Sprintf("m%d", h.svc.nextID), body: m.Body, ttl: m.TTL})
	}
	return nil
}

func (h *fakeHandle) ClaimMessages(ctx context.Context, limit int, ttl time.Duration) ([]queue.Claimed, error) {
	h.svc.claimCalls++
	q, err := h.lookup()
	if err != nil {
		return nil, err
	}
	claimID := fmt.Sprintf("c%d", h.svc.claimCalls)
	var out []queue.Claimed
	for _, m := range q.msgs {
		if len(out) == limit {
			break
		}
		if m.claimID != "" {
			continue
		}
		m.claimID = claimID
		out = append(out, queue.Claimed{
			Body:    m.body,
			Receipt: "/v1/queues/" + h.name + "/messages/" + m.id + "?claim_id=" + claimID,
			ClaimID: claimID,
		})
	}
	return out, nil
}

func (h *fakeHandle) DeleteClaimed(ctx context.Context, c queue.Claimed) error {
	h.svc.deleteCalls++
	q, err := h.lookup()
	if err != nil {
		return err
	}
	for i, m := range q.msgs {
		receipt := "/v1/queues/" + h.name + "/messages/" + m.id + "?claim_id=" + m.claimID
		if m.claimID != "" && receipt == c.Receipt {
			q.msgs = slices.Delete(q.msgs, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("fake: receipt %s: %w", c.Receipt, queue.ErrNotFound)
}

func (h *fakeHandle) ListMessages(ctx context.Context) queue.MessageIterator {
	h.svc.listCalls++
	q, err := h.lookup()
	if err != nil {
		return &fakeIterator{err: err}
	}
	it := &fakeIterator{}
	for _, m := range q.msgs {
		if m.claimID == "" {
			it.msgs = append(it.msgs, queue.Message{ID: m.id, Body: m.body})
		}
	}
	return it
}

type fakeIterator struct {
	msgs []queue.Message
	pos  int
	err  error
}

func (it *fakeIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.msgs) {
		return false
	}
	it.pos++
	return true
}

func (it *fakeIterator) Message() queue.Message { return it.msgs[it.pos-1] }

func (it *fakeIterator) Err() error { return it.err }
