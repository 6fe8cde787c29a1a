package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisStore is a Store kept in Redis. Each session is a JSON header under
// <prefix><id>, its parts a hash under <prefix><id>:parts, and a sorted set
// <prefix>index orders sessions by last update for the sweeper.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	group  singleflight.Group
}

// maxTxRetries bounds optimistic transaction retries when a watched key
// changes underneath us.
const maxTxRetries = 5

type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	ZScore(ctx context.Context, key string, member string) *redis.FloatCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

type redisHeader struct {
	ObjectKey string    `json:"objectKey"`
	UploadID  string    `json:"uploadId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewRedisStore wraps client. prefix namespaces every key the store writes
// and defaults to "ossgate:session:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ossgate:session:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) headerKey(id string) string {
	return r.prefix + id
}

func (r *RedisStore) partsKey(id string) string {
	return r.prefix + id + ":parts"
}

func (r *RedisStore) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisStore) load(ctx context.Context, c redisReader, id string) (*Session, error) {
	raw, err := c.Get(ctx, r.headerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %q: %w", id, err)
	}

	var h redisHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", id, err)
	}

	s := &Session{
		CorrelationID: id,
		ObjectKey:     h.ObjectKey,
		UploadID:      h.UploadID,
		Parts:         make(map[int]Part),
		CreatedAt:     h.CreatedAt.UTC(),
		UpdatedAt:     h.CreatedAt.UTC(),
	}

	score, err := c.ZScore(ctx, r.indexKey(), id).Result()
	if err == nil {
		s.UpdatedAt = time.UnixMilli(int64(score)).UTC()
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	fields, err := c.HGetAll(ctx, r.partsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load parts of %q: %w", id, err)
	}
	for field, value := range fields {
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("session %q has invalid part %q", id, field)
		}

		var p Part
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			return nil, fmt.Errorf("decode part %d of %q: %w", n, id, err)
		}
		p.Number = n
		s.Parts[n] = p
	}
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return r.load(ctx, r.client, id)
}

func (r *RedisStore) GetOrCreate(ctx context.Context, id string, create CreateFunc) (*Session, bool, error) {
	if create == nil {
		return nil, false, errors.New("create function must not be nil")
	}

	leader := false
	v, err, _ := r.group.Do(id, func() (any, error) {
		leader = true

		existing, err := r.load(ctx, r.client, id)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}

		fresh, err := create(ctx)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, errors.New("create returned no session")
		}
		fresh = stamp(fresh, id)

		header, err := json.Marshal(redisHeader{
			ObjectKey: fresh.ObjectKey,
			UploadID:  fresh.UploadID,
			CreatedAt: fresh.CreatedAt,
		})
		if err != nil {
			return nil, err
		}

		ok, err := r.client.SetNX(ctx, r.headerKey(id), header, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("store session %q: %w", id, err)
		}
		if !ok {
			return r.load(ctx, r.client, id)
		}

		err = r.client.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(fresh.UpdatedAt.UnixMilli()),
			Member: id,
		}).Err()
		if err != nil {
			return nil, fmt.Errorf("index session %q: %w", id, err)
		}
		return createdSession{fresh}, nil
	})
	if err != nil {
		return nil, false, err
	}

	switch s := v.(type) {
	case createdSession:
		return s.Session.Clone(), leader, nil
	case *Session:
		return s.Clone(), false, nil
	default:
		return nil, false, fmt.Errorf("unexpected result %T", v)
	}
}

func (r *RedisStore) AppendPart(ctx context.Context, id string, part Part) (bool, error) {
	value, err := json.Marshal(Part{ETag: part.ETag, Size: part.Size})
	if err != nil {
		return false, err
	}
	field := strconv.Itoa(part.Number)

	for range maxTxRetries {
		added := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, r.headerKey(id)).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrSessionNotFound
			}

			present, err := tx.HExists(ctx, r.partsKey(id), field).Result()
			if err != nil || present {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, r.partsKey(id), field, value)
				pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(now().UnixMilli()), Member: id})
				return nil
			})
			added = err == nil
			return err
		}, r.headerKey(id), r.partsKey(id))

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return added, nil
	}
	return false, fmt.Errorf("append part %d to %q: %w", part.Number, id, redis.TxFailedErr)
}

func (r *RedisStore) Remove(ctx context.Context, id string) (*Session, error) {
	return r.remove(ctx, id, func(*Session) bool { return true })
}

func (r *RedisStore) RemoveUpload(ctx context.Context, id string, uploadID string) (*Session, error) {
	return r.remove(ctx, id, func(s *Session) bool { return s.UploadID == uploadID })
}

func (r *RedisStore) remove(ctx context.Context, id string, match func(*Session) bool) (*Session, error) {
	for range maxTxRetries {
		var removed *Session
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			s, err := r.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if !match(s) {
				return ErrSessionNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, r.headerKey(id), r.partsKey(id))
				pipe.ZRem(ctx, r.indexKey(), id)
				return nil
			})
			if err == nil {
				removed = s
			}
			return err
		}, r.headerKey(id), r.partsKey(id))

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return removed, nil
	}
	return nil, fmt.Errorf("remove session %q: %w", id, redis.TxFailedErr)
}

func (r *RedisStore) Expired(ctx context.Context, olderThan time.Time) ([]*Session, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}

	expired := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.load(ctx, r.client, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		expired = append(expired, s)
	}
	return expired, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
