package cancellation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiredGrace keeps an expired request around long enough for a late
// verification to be answered with ErrExpired instead of ErrNoRequest.
const expiredGrace = 10 * time.Minute

// recordMismatchScript decrements the attempt counter only if the pending
// request is still the one the caller checked against.
// KEYS[1] = request key
// ARGV[1] = request id
var recordMismatchScript = redis.NewScript(`
local id = redis.call("HGET", KEYS[1], "id")
if not id or id ~= ARGV[1] then
    return -1
end
local left = redis.call("HINCRBY", KEYS[1], "attempts_remaining", -1)
if left < 0 then
    left = 0
end
return left
`)

// removeScript deletes the request only if it is still the one the caller
// checked against.
// KEYS[1] = request key
// ARGV[1] = request id
var removeScript = redis.NewScript(`
local id = redis.call("HGET", KEYS[1], "id")
if not id or id ~= ARGV[1] then
    return 0
end
return redis.call("DEL", KEYS[1])
`)

// RedisRequestStore keeps pending requests in Redis hashes so every service
// instance sees the same attempts and expiry.
type RedisRequestStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRequestStore(client redis.UniversalClient) *RedisRequestStore {
	return &RedisRequestStore{client: client, prefix: "cancellation:"}
}

func (s *RedisRequestStore) key(assignmentID string) string {
	return s.prefix + assignmentID
}

func (s *RedisRequestStore) Put(ctx context.Context, req Request) error {
	key := s.key(req.AssignmentID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"id", req.ID,
			"assignment_id", req.AssignmentID,
			"reason", req.Reason,
			"code_hash", req.CodeHash,
			"code_issued_at", req.CodeIssuedAt.UnixNano(),
			"code_expires_at", req.CodeExpiresAt.UnixNano(),
			"attempts_remaining", req.AttemptsRemaining,
		)
		pipe.PExpireAt(ctx, key, req.CodeExpiresAt.Add(expiredGrace))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store cancellation request: %w", err)
	}
	return nil
}

func (s *RedisRequestStore) Get(ctx context.Context, assignmentID string) (Request, error) {
	fields, err := s.client.HGetAll(ctx, s.key(assignmentID)).Result()
	if err != nil {
		return Request{}, fmt.Errorf("failed to load cancellation request: %w", err)
	}
	if len(fields) == 0 {
		return Request{}, ErrNoRequest
	}
	return decodeRequest(fields)
}

func (s *RedisRequestStore) RecordMismatch(ctx context.Context, assignmentID, requestID string) (int, error) {
	left, err := recordMismatchScript.Run(ctx, s.client, []string{s.key(assignmentID)}, requestID).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	if left < 0 {
		return 0, ErrNoRequest
	}
	return left, nil
}

func (s *RedisRequestStore) Remove(ctx context.Context, assignmentID, requestID string) (bool, error) {
	n, err := removeScript.Run(ctx, s.client, []string{s.key(assignmentID)}, requestID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to remove cancellation request: %w", err)
	}
	return n == 1, nil
}

func decodeRequest(fields map[string]string) (Request, error) {
	issued, err1 := strconv.ParseInt(fields["code_issued_at"], 10, 64)
	expires, err2 := strconv.ParseInt(fields["code_expires_at"], 10, 64)
	attempts, err3 := strconv.Atoi(fields["attempts_remaining"])
	if err := errors.Join(err1, err2, err3); err != nil {
		return Request{}, fmt.Errorf("corrupt cancellation request: %w", err)
	}
	return Request{
		ID:                fields["id"],
		AssignmentID:      fields["assignment_id"],
		Reason:            fields["reason"],
		CodeHash:          fields["code_hash"],
		CodeIssuedAt:      time.Unix(0, issued).UTC(),
		CodeExpiresAt:     time.Unix(0, expires).UTC(),
		AttemptsRemaining: attempts,
	}, nil
}
