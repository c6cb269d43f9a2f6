package otp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("otp: redis unavailable")

// SuspiciousEntry is one over-cap record as seen by the admin listing.
type SuspiciousEntry struct {
	Key       string
	Emails    []string
	UpdatedAt int64
}

// Store keeps OTP records in Redis, one blob per anonymous key, plus a set
// of keys whose mail counter has reached the cap. That set is what the
// cross-record suspicion scan walks instead of the whole keyspace.
//
//	Keys: <prefix>:<userKey> -> blob, <prefix>susp -> SET(userKey).
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	capLimit  int
	retention time.Duration
}

// NewStore creates an OTP record [Store]. capLimit is the mail-attempt cap
// that marks a record suspicious; retention bounds how long records (and
// their block effect) survive without updates.
func NewStore(redisClient redis.UniversalClient, prefix string, capLimit int, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "ao"
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Store{
		redis:     redisClient,
		prefix:    prefix,
		capLimit:  capLimit,
		retention: retention,
	}
}

func (s *Store) key(userKey string) string {
	return s.prefix + ":" + userKey
}

func (s *Store) suspiciousKey() string {
	return s.prefix + "susp"
}

// Get loads the record for an anonymous key; (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, userKey string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(userKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	record, err := Decode(data)
	if err != nil {
		return nil, err
	}
	record.Key = userKey
	return record, nil
}

// Save writes the record (stamping UpdatedAt) and keeps the suspicious
// index in sync with the record's mail counter. Every write refreshes the
// retention TTL, so active abusers never age out while still abusing.
func (s *Store) Save(ctx context.Context, record *Record) error {
	record.UpdatedAt = time.Now().Unix()

	data, err := Encode(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(record.Key), data, s.retention)
		if record.MailAttempts >= s.capLimit {
			pipe.SAdd(ctx, s.suspiciousKey(), record.Key)
		} else {
			pipe.SRem(ctx, s.suspiciousKey(), record.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// SuspiciousHashes returns the stored fingerprint hashes of records at or
// over the mail cap. When narrowEmail is non-empty only records that have
// seen that email are considered (the first-attempt narrowing rule).
// Index members whose record has aged out are pruned as a side effect.
func (s *Store) SuspiciousHashes(ctx context.Context, narrowEmail string) ([]string, error) {
	records, err := s.suspiciousRecords(ctx)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(records))
	for _, record := range records {
		if narrowEmail != "" && !record.SawEmail(narrowEmail) {
			continue
		}
		hashes = append(hashes, record.FingerprintHash)
	}
	return hashes, nil
}

// ListSuspicious returns over-cap records for the admin surface, filtered
// by an optional email substring and paged newest-update-first.
func (s *Store) ListSuspicious(ctx context.Context, searchMail string, page, pageSize int) ([]SuspiciousEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	records, err := s.suspiciousRecords(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]SuspiciousEntry, 0, len(records))
	for _, record := range records {
		if searchMail != "" && !matchesMail(record, searchMail) {
			continue
		}
		entries = append(entries, SuspiciousEntry{
			Key:       record.Key,
			Emails:    append([]string(nil), record.Emails...),
			UpdatedAt: record.UpdatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt > entries[j].UpdatedAt
	})

	start := (page - 1) * pageSize
	if start >= len(entries) {
		return []SuspiciousEntry{}, nil
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], nil
}

// ResetKey clears a key's record and index entry (administrative unblock).
func (s *Store) ResetKey(ctx context.Context, userKey string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(userKey))
		pipe.SRem(ctx, s.suspiciousKey(), userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func matchesMail(record *Record, search string) bool {
	for _, email := range record.Emails {
		if strings.Contains(email, search) {
			return true
		}
	}
	return false
}

func (s *Store) suspiciousRecords(ctx context.Context) ([]*Record, error) {
	keys, err := s.redis.SMembers(ctx, s.suspiciousKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, s.key(k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(keys))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, keys[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		record, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		record.Key = keys[i]
		if record.MailAttempts < s.capLimit {
			// Index lag after an administrative counter reset.
			stale = append(stale, keys[i])
			continue
		}
		records = append(records, record)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.suspiciousKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return records, nil
}
