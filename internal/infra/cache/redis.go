package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"evidencia/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	backendRedis   = "redis"
	redisKeyPrefix = "evidencia:proof:"
)

// Redis shares cached records between instances.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

type cachedProof struct {
	ID               string `json:"id"`
	ContentHash      string `json:"hash"`
	Timestamp        int64  `json:"timestamp"`
	Filename         string `json:"filename,omitempty"`
	Mimetype         string `json:"mimetype,omitempty"`
	MediaReference   string `json:"imageUrl,omitempty"`
	AnchorTxRef      string `json:"txHash,omitempty"`
	AnchorNote       string `json:"note,omitempty"`
	VerificationURI  string `json:"uri,omitempty"`
	VerificationCode string `json:"qr,omitempty"`
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, id string) (*domain.ProofRecord, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		missesTotal.WithLabelValues(backendRedis).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc cachedProof
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, err
	}
	hitsTotal.WithLabelValues(backendRedis).Inc()
	record := domain.ProofRecord(doc)
	return &record, true, nil
}

func (r *Redis) Put(ctx context.Context, record domain.ProofRecord) error {
	if record.ID == "" {
		return nil
	}
	raw, err := json.Marshal(cachedProof(record))
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+record.ID, raw, r.ttl).Err()
}
