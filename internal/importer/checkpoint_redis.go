package importer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const defaultRedisPrefix = "leadflow:import:checkpoint:"

// RedisCheckpointStore keeps one JSON value per job. Keys never expire.
type RedisCheckpointStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCheckpointStore creates a store on rdb. An empty prefix uses the
// default key prefix.
func NewRedisCheckpointStore(rdb *redis.Client, prefix string) *RedisCheckpointStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCheckpointStore{rdb: rdb, prefix: prefix}
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "importer: parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "importer: ping redis")
	}
	return rdb, nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	data, err := s.rdb.Get(ctx, s.prefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, eris.Wrapf(err, "importer: load checkpoint %s", jobID)
	}
	return decodeCheckpoint(data)
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "importer: encode checkpoint")
	}
	if err := s.rdb.Set(ctx, s.prefix+cp.JobID, data, 0).Err(); err != nil {
		return eris.Wrapf(err, "importer: save checkpoint %s", cp.JobID)
	}
	return nil
}
