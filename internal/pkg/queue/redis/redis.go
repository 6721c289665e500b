package redisQueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cloudqueues-driver/internal/pkg/queue"
)

const listPageSize = 10

// RedisActions implements queue.Service on Redis. Each queue is a list of
// ready message ids, a hash of bodies and a sorted set of claimed ids scored
// by claim expiry.
type RedisActions struct {
	Client *redis.Client // Redis client
	Config *Config       // Configuration for Redis queue
}

type Config struct {
	Endpoint  string // shown by Info
	KeyPrefix string // prefix for every key, e.g. "queue-"
}

var _ queue.Service = (*RedisActions)(nil)

// New creates a new redis client.
func New(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:       addr,
		DB:         db,
		MaxRetries: 10,
	})
}

func (r *RedisActions) queuesKey() string {
	return r.Config.KeyPrefix + "queues"
}

func (r *RedisActions) ListQueues(ctx context.Context) ([]string, error) {
	names, err := r.Client.SMembers(ctx, r.queuesKey()).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func (r *RedisActions) CreateQueue(ctx context.Context, name string) (queue.Queue, error) {
	if err := r.Client.SAdd(ctx, r.queuesKey(), name).Err(); err != nil {
		return nil, err
	}
	return r.Queue(name), nil
}

func (r *RedisActions) Queue(name string) queue.Queue {
	base := r.Config.KeyPrefix + "q:" + name
	return &Queue{
		actions:    r,
		name:       name,
		readyKey:   base + ":ready",
		msgsKey:    base + ":msgs",
		claimedKey: base + ":claimed",
		claimsKey:  base + ":claims",
	}
}

func (r *RedisActions) Info() queue.Info {
	return queue.Info{
		Name: "redis",
		URL:  r.Config.Endpoint,
	}
}

// Queue is a handle on one Redis-backed queue.
type Queue struct {
	actions *RedisActions
	name    string

	readyKey   string // LIST of message ids
	msgsKey    string // HASH id -> body
	claimedKey string // ZSET id -> claim expiry (unix ms)
	claimsKey  string // HASH id -> claim token
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) mustExist(ctx context.Context) error {
	ok, err := q.actions.Client.SIsMember(ctx, q.actions.queuesKey(), q.name).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("redis: queue %s: %w", q.name, queue.ErrNotFound)
	}
	return nil
}

func (q *Queue) Delete(ctx context.Context) error {
	if err := q.mustExist(ctx); err != nil {
		return err
	}
	_, err := q.actions.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, q.actions.queuesKey(), q.name)
		pipe.Del(ctx, q.readyKey, q.msgsKey, q.claimedKey, q.claimsKey)
		return nil
	})
	return err
}

func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	if err := q.mustExist(ctx); err != nil {
		return queue.Stats{}, err
	}
	var free *redis.IntCmd
	var claimed *redis.IntCmd
	_, err := q.actions.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		free = pipe.LLen(ctx, q.readyKey)
		claimed = pipe.ZCard(ctx, q.claimedKey)
		return nil
	})
	if err != nil {
		return queue.Stats{}, err
	}
	return queue.Stats{
		Claimed: int(claimed.Val()),
		Free:    int(free.Val()),
		Total:   int(free.Val() + claimed.Val()),
	}, nil
}

// CreateMessages appends msgs to the ready list. Message TTLs are not
// enforced by this backend.
func (q *Queue) CreateMessages(ctx context.Context, msgs ...queue.NewMessage) error {
	if err := q.mustExist(ctx); err != nil {
		return err
	}
	_, err := q.actions.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range msgs {
			id := uuid.NewString()
			pipe.HSet(ctx, q.msgsKey, id, m.Body)
			pipe.RPush(ctx, q.readyKey, id)
		}
		return nil
	})
	return err
}

// claimScript requeues expired claims at the head of the ready list, oldest
// first, then claims up to ARGV[2] ready ids under token ARGV[4]. Ids whose
// body is gone are dropped. It replies with id/body pairs, or nil when the
// queue is not registered.
//
// KEYS: queues, ready, msgs, claimed, claims
// ARGV: queue name, limit, now (unix ms), claim expiry (unix ms), token
var claimScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	return false
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', ARGV[3])
for i = #expired, 1, -1 do
	if redis.call('ZREM', KEYS[4], expired[i]) == 1 then
		redis.call('HDEL', KEYS[5], expired[i])
		redis.call('LPUSH', KEYS[2], expired[i])
	end
end
local ids = redis.call('LRANGE', KEYS[2], 0, tonumber(ARGV[2]) - 1)
if #ids > 0 then
	redis.call('LTRIM', KEYS[2], #ids, -1)
end
local out = {}
for _, id in ipairs(ids) do
	local body = redis.call('HGET', KEYS[3], id)
	if body then
		redis.call('ZADD', KEYS[4], ARGV[4], id)
		redis.call('HSET', KEYS[5], id, ARGV[5])
		out[#out + 1] = id
		out[#out + 1] = body
	end
end
return out
`)

// deleteScript removes message ARGV[1] if it is still claimed under token
// ARGV[2]. Replies 1 on success and 0 when the claim is gone.
//
// KEYS: msgs, claimed, claims
var deleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

// ClaimMessages claims up to limit ready messages for ttl. Claims that have
// expired are returned to the queue first. The whole step runs as one script
// so concurrent claimers never see the same message twice.
func (q *Queue) ClaimMessages(ctx context.Context, limit int, ttl time.Duration) ([]queue.Claimed, error) {
	now := time.Now()
	token := uuid.NewString()
	keys := []string{q.actions.queuesKey(), q.readyKey, q.msgsKey, q.claimedKey, q.claimsKey}
	pairs, err := claimScript.Run(ctx, q.actions.Client, keys,
		q.name, max(limit, 1), now.UnixMilli(), now.Add(ttl).UnixMilli(), token,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: queue %s: %w", q.name, queue.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	claims := make([]queue.Claimed, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		claims = append(claims, queue.Claimed{
			Body:    pairs[i+1],
			Receipt: pairs[i] + ":" + token,
			ClaimID: token,
		})
	}
	return claims, nil
}

// DeleteClaimed removes a claimed message if the claim still holds.
func (q *Queue) DeleteClaimed(ctx context.Context, c queue.Claimed) error {
	id, token, ok := strings.Cut(c.Receipt, ":")
	if !ok {
		return fmt.Errorf("redis: malformed receipt %q", c.Receipt)
	}
	deleted, err := deleteScript.Run(ctx, q.actions.Client,
		[]string{q.msgsKey, q.claimedKey, q.claimsKey}, id, token,
	).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("redis: claim on message %s is gone: %w", id, queue.ErrNotFound)
	}
	return nil
}

func (q *Queue) ListMessages(ctx context.Context) queue.MessageIterator {
	return &messageIterator{ctx: ctx, q: q}
}

type messageIterator struct {
	ctx   context.Context
	q     *Queue
	start int64
	done  bool

	page []queue.Message
	pos  int
	cur  queue.Message
	err  error
}

func (it *messageIterator) Next() bool {
	for it.pos >= len(it.page) {
		if it.done || it.err != nil {
			return false
		}
		it.fetch()
	}
	it.cur = it.page[it.pos]
	it.pos++
	return true
}

func (it *messageIterator) fetch() {
	if it.start == 0 {
		if err := it.q.mustExist(it.ctx); err != nil {
			it.err = err
			return
		}
	}
	client := it.q.actions.Client
	ids, err := client.LRange(it.ctx, it.q.readyKey, it.start, it.start+listPageSize-1).Result()
	if err != nil {
		it.err = err
		return
	}
	it.page = it.page[:0]
	it.pos = 0
	if len(ids) < listPageSize {
		it.done = true
	}
	if len(ids) == 0 {
		return
	}
	it.start += int64(len(ids))

	bodies, err := client.HMGet(it.ctx, it.q.msgsKey, ids...).Result()
	if err != nil {
		it.err = err
		return
	}
	for i, v := range bodies {
		body, _ := v.(string)
		it.page = append(it.page, queue.Message{ID: ids[i], Body: body})
	}
}

func (it *messageIterator) Message() queue.Message { return it.cur }

func (it *messageIterator) Err() error { return it.err }
