// Package session tracks the live device sessions of an identity in Redis:
// one blob per session plus a per-user index ordered by creation time, which
// is what the fixed-size FIFO session cap is enforced against.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("session: redis unavailable")

// Store is a Redis-backed session store.
//
//	Keys: <prefix>:<sessionID> -> blob, <prefix>u:<userID> -> ZSET(sessionID, createdAt).
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID int64) string {
	return fmt.Sprintf("%su:%d", s.prefix, userID)
}

// Save persists a session and indexes it under its user. The blob TTL
// tracks the session's absolute expiry; the index entry is scored by
// creation time so ListForUser returns sessions oldest-first.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session: already expired")
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.ZAdd(ctx, s.userKey(sess.UserID), redis.Z{
			Score:  float64(sess.CreatedAt),
			Member: sess.ID,
		})
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// ListForUser returns the user's sessions in creation order (oldest first).
// Index entries whose blob has expired are pruned as a side effect.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]*Session, error) {
	ids, err := s.redis.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.ID = ids[i]
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return sessions, nil
}

// EnforceQuota makes room for one upcoming session: with exactly max live
// sessions the single oldest is deleted; above max (concurrent-login races)
// everything but the newest max-1 goes in one pass. Must run before the
// insert that would exceed the cap. Returns the number of evicted sessions.
func (s *Store) EnforceQuota(ctx context.Context, userID int64, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	var evict []*Session
	switch {
	case len(sessions) == max:
		evict = sessions[:1]
	case len(sessions) > max:
		evict = sessions[:len(sessions)-(max-1)]
	}

	for _, sess := range evict {
		if err := s.DeleteByID(ctx, userID, sess.ID); err != nil {
			return 0, err
		}
	}

	return len(evict), nil
}

// FindByAccessToken returns the user's session holding exactly this access
// token, or nil when no session does (revoked or rotated token).
func (s *Store) FindByAccessToken(ctx context.Context, userID int64, accessToken string) (*Session, error) {
	return s.findBy(ctx, userID, func(sess *Session) bool {
		return sess.AccessToken == accessToken
	})
}

// FindByRefreshToken returns the user's session holding exactly this
// refresh token, or nil.
func (s *Store) FindByRefreshToken(ctx context.Context, userID int64, refreshToken string) (*Session, error) {
	return s.findBy(ctx, userID, func(sess *Session) bool {
		return sess.RefreshToken == refreshToken
	})
}

// Rotate locates the session matching oldRefreshToken and swaps both tokens
// in place, keeping ID, fingerprint, and expiry. Reports false when no
// session matched; the caller treats that as a silent no-op because guards
// have already rejected divergent flows.
func (s *Store) Rotate(ctx context.Context, userID int64, oldRefreshToken, accessToken, refreshToken string) (bool, error) {
	sess, err := s.FindByRefreshToken(ctx, userID, oldRefreshToken)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}

	sess.AccessToken = accessToken
	sess.RefreshToken = refreshToken

	data, err := Encode(sess)
	if err != nil {
		return false, err
	}

	pttl, err := s.redis.PTTL(ctx, s.key(sess.ID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		// Row vanished between the read and the write; rotation loses.
		return false, nil
	}

	if err := s.redis.Set(ctx, s.key(sess.ID), data, pttl).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return true, nil
}

// CheckExpired deletes the session and reports true when its expiry has
// passed. Safe to call on already-deleted sessions; a live session is an
// untouched false.
func (s *Store) CheckExpired(ctx context.Context, sess *Session) (bool, error) {
	if sess == nil || !sess.Expired(time.Now()) {
		return false, nil
	}
	if err := s.DeleteByID(ctx, sess.UserID, sess.ID); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteByID removes a session blob and its index entry. Idempotent.
func (s *Store) DeleteByID(ctx context.Context, userID int64, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.ZRem(ctx, s.userKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteByRefreshToken is a lookup-then-delete; a missing token is a no-op.
func (s *Store) DeleteByRefreshToken(ctx context.Context, userID int64, refreshToken string) error {
	sess, err := s.FindByRefreshToken(ctx, userID, refreshToken)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	return s.DeleteByID(ctx, userID, sess.ID)
}

// Count returns the number of live sessions tracked for a user.
func (s *Store) Count(ctx context.Context, userID int64) (int, error) {
	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *Store) findBy(ctx context.Context, userID int64, match func(*Session) bool) (*Session, error) {
	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if match(sess) {
			return sess, nil
		}
	}
	return nil, nil
}
