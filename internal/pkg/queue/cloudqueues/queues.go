package cloudqueues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"cloudqueues-driver/internal/pkg/queue"
)

const (
	listPageSize = 10

	minTTL      = 60 * time.Second
	maxClaimTTL = 43200 * time.Second
	maxTTL      = 1209600 * time.Second

	MaxClaimLimit = 20
)

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

func nextLink(links []link) string {
	for _, l := range links {
		if l.Rel == "next" {
			return l.Href
		}
	}
	return ""
}

// ListQueues walks every page of the queue listing. A 204 means no queues.
func (c *Client) ListQueues(ctx context.Context) ([]string, error) {
	var names []string
	ref := "queues?limit=" + strconv.Itoa(listPageSize)
	for ref != "" {
		var page struct {
			Queues []struct {
				Name string `json:"name"`
			} `json:"queues"`
			Links []link `json:"links"`
		}
		status, err := c.do(ctx, http.MethodGet, ref, nil, &page)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNoContent || len(page.Queues) == 0 {
			break
		}
		for _, q := range page.Queues {
			names = append(names, q.Name)
		}
		ref = nextLink(page.Links)
	}
	return names, nil
}

// CreateQueue creates name. Creating an existing queue is not an error.
func (c *Client) CreateQueue(ctx context.Context, name string) (queue.Queue, error) {
	q := &Queue{client: c, name: name}
	if _, err := c.do(ctx, http.MethodPut, q.path(), nil, nil); err != nil {
		return nil, err
	}
	return q, nil
}

// Queue implements queue.Service.
func (c *Client) Queue(name string) queue.Queue {
	return &Queue{client: c, name: name}
}

// Queue is a handle on one remote queue.
type Queue struct {
	client *Client
	name   string
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) path() string {
	return "queues/" + url.PathEscape(q.name)
}

func (q *Queue) Delete(ctx context.Context) error {
	_, err := q.client.do(ctx, http.MethodDelete, q.path(), nil, nil)
	return err
}

func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	var out struct {
		Messages struct {
			Claimed int `json:"claimed"`
			Free    int `json:"free"`
			Total   int `json:"total"`
		} `json:"messages"`
	}
	if _, err := q.client.do(ctx, http.MethodGet, q.path()+"/stats", nil, &out); err != nil {
		return queue.Stats{}, err
	}
	return queue.Stats{
		Claimed: out.Messages.Claimed,
		Free:    out.Messages.Free,
		Total:   out.Messages.Total,
	}, nil
}

type messageBody struct {
	TTL  int    `json:"ttl"`
	Body string `json:"body"`
}

func (q *Queue) CreateMessages(ctx context.Context, msgs ...queue.NewMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	in := make([]messageBody, 0, len(msgs))
	for _, m := range msgs {
		in = append(in, messageBody{
			TTL:  seconds(clampDuration(m.TTL, minTTL, maxTTL)),
			Body: m.Body,
		})
	}
	_, err := q.client.do(ctx, http.MethodPost, q.path()+"/messages", in, nil)
	return err
}

type claimedMessage struct {
	Href string          `json:"href"`
	TTL  int             `json:"ttl"`
	Age  int             `json:"age"`
	Body json.RawMessage `json:"body"`
}

// ClaimMessages claims up to limit messages. A 204 response means the queue
// had nothing to claim.
func (q *Queue) ClaimMessages(ctx context.Context, limit int, ttl time.Duration) ([]queue.Claimed, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxClaimLimit {
		limit = MaxClaimLimit
	}
	in := struct {
		TTL   int `json:"ttl"`
		Grace int `json:"grace"`
	}{
		TTL:   seconds(clampDuration(ttl, minTTL, maxClaimTTL)),
		Grace: seconds(clampDuration(q.client.Config.ClaimGrace, minTTL, maxClaimTTL)),
	}

	var out []claimedMessage
	status, err := q.client.do(ctx, http.MethodPost, q.path()+"/claims?limit="+strconv.Itoa(limit), in, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}

	claims := make([]queue.Claimed, 0, len(out))
	for _, m := range out {
		claims = append(claims, queue.Claimed{
			Body:    decodeBody(m.Body),
			Receipt: m.Href,
			ClaimID: claimIDFromHref(m.Href),
		})
	}
	return claims, nil
}

// DeleteClaimed deletes a claimed message through its href, which carries
// the claim id. A 403 means the claim expired and the message was claimed
// again by someone else; it is reported as queue.ErrNotFound since this
// receipt can never succeed.
func (q *Queue) DeleteClaimed(ctx context.Context, c queue.Claimed) error {
	if c.Receipt == "" {
		return fmt.Errorf("cloudqueues: claimed message on %s has no href", q.name)
	}
	_, err := q.client.do(ctx, http.MethodDelete, c.Receipt, nil, nil)
	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: claim lost: %w", queue.ErrNotFound, err)
	}
	return err
}

func (q *Queue) ListMessages(ctx context.Context) queue.MessageIterator {
	return &messageIterator{
		ctx:    ctx,
		client: q.client,
		next:   q.path() + "/messages?echo=true&limit=" + strconv.Itoa(listPageSize),
	}
}

type messageIterator struct {
	ctx    context.Context
	client *Client
	next   string

	page []queue.Message
	pos  int
	cur  queue.Message
	err  error
}

func (it *messageIterator) Next() bool {
	for it.pos >= len(it.page) {
		if it.err != nil || it.next == "" {
			return false
		}
		it.fetch()
	}
	it.cur = it.page[it.pos]
	it.pos++
	return true
}

func (it *messageIterator) fetch() {
	var out struct {
		Messages []claimedMessage `json:"messages"`
		Links    []link           `json:"links"`
	}
	status, err := it.client.do(it.ctx, http.MethodGet, it.next, nil, &out)
	if err != nil {
		it.err = err
		return
	}
	it.page = it.page[:0]
	it.pos = 0
	if status == http.StatusNoContent || len(out.Messages) == 0 {
		it.next = ""
		return
	}
	for _, m := range out.Messages {
		it.page = append(it.page, queue.Message{
			ID:   messageIDFromHref(m.Href),
			Body: decodeBody(m.Body),
		})
	}
	it.next = nextLink(out.Links)
}

func (it *messageIterator) Message() queue.Message { return it.cur }

func (it *messageIterator) Err() error { return it.err }

// decodeBody unquotes JSON string bodies and returns any other JSON verbatim.
func decodeBody(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func claimIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("claim_id")
}

func messageIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
