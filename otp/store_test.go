package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newOtpStoreTest(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewStore(rdb, "ao", 5, 30*24*time.Hour)
}

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	record := &Record{
		Key:             "anon-key",
		Emails:          []string{"a@x.com", "b@x.com"},
		Code:            "1234",
		FingerprintHash: "$2a$07$hash",
		MailAttempts:    2,
		CodeAttempts:    1,
		UpdatedAt:       time.Now().Unix(),
	}

	data, err := Encode(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded.Key = record.Key

	if decoded.Code != record.Code || decoded.FingerprintHash != record.FingerprintHash {
		t.Fatalf("decoded %+v, want %+v", decoded, record)
	}
	if decoded.MailAttempts != 2 || decoded.CodeAttempts != 1 {
		t.Fatalf("counters lost: %+v", decoded)
	}
	if len(decoded.Emails) != 2 || decoded.Emails[0] != "a@x.com" || decoded.Emails[1] != "b@x.com" {
		t.Fatalf("emails lost: %v", decoded.Emails)
	}
}

func TestAddEmailDeduplicates(t *testing.T) {
	record := NewRecord("k", "a@x.com", "1234", "hash")
	record.AddEmail("a@x.com")
	record.AddEmail("b@x.com")
	record.AddEmail("b@x.com")

	if len(record.Emails) != 2 {
		t.Fatalf("emails %v, want 2 unique entries", record.Emails)
	}
}

func TestGetMissingRecordIsNil(t *testing.T) {
	store := newOtpStoreTest(t)

	record, err := store.Get(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record, got %+v", record)
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	store := newOtpStoreTest(t)
	ctx := context.Background()

	record := NewRecord("anon", "a@x.com", "4321", "hash")
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, "anon")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil || loaded.Code != "4321" || loaded.MailAttempts != AttemptsStartValue {
		t.Fatalf("loaded %+v", loaded)
	}
	if loaded.UpdatedAt == 0 {
		t.Fatal("save must stamp UpdatedAt")
	}
}

func TestSuspiciousIndexTracksMailCap(t *testing.T) {
	store := newOtpStoreTest(t)
	ctx := context.Background()

	clean := NewRecord("clean", "a@x.com", "1111", "clean-hash")
	if err := store.Save(ctx, clean); err != nil {
		t.Fatalf("save clean: %v", err)
	}

	abuser := NewRecord("abuser", "spam@x.com", "2222", "abuser-hash")
	abuser.MailAttempts = 6
	if err := store.Save(ctx, abuser); err != nil {
		t.Fatalf("save abuser: %v", err)
	}

	hashes, err := store.SuspiciousHashes(ctx, "")
	if err != nil {
		t.Fatalf("suspicious hashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != "abuser-hash" {
		t.Fatalf("hashes %v, want only the over-cap record", hashes)
	}
}

func TestSuspiciousHashesEmailNarrowing(t *testing.T) {
	store := newOtpStoreTest(t)
	ctx := context.Background()

	other := NewRecord("other", "other@x.com", "1111", "other-hash")
	other.MailAttempts = 5
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("save: %v", err)
	}

	same := NewRecord("same", "target@x.com", "2222", "same-hash")
	same.MailAttempts = 5
	if err := store.Save(ctx, same); err != nil {
		t.Fatalf("save: %v", err)
	}

	hashes, err := store.SuspiciousHashes(ctx, "target@x.com")
	if err != nil {
		t.Fatalf("suspicious hashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != "same-hash" {
		t.Fatalf("hashes %v, want only the same-email record", hashes)
	}

	all, err := store.SuspiciousHashes(ctx, "")
	if err != nil {
		t.Fatalf("suspicious hashes: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unnarrowed scan returned %d records, want 2", len(all))
	}
}

func TestListSuspiciousSearchAndPaging(t *testing.T) {
	store := newOtpStoreTest(t)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		record := NewRecord(key, key+"@spam.com", "1111", "h")
		record.MailAttempts = 7
		if err := store.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	entries, err := store.ListSuspicious(ctx, "", 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("page 1 size %d, want 2", len(entries))
	}

	entries, err = store.ListSuspicious(ctx, "k2@", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "k2" {
		t.Fatalf("search result %+v, want k2 only", entries)
	}
}

func TestListSuspiciousOrdersNewestFirst(t *testing.T) {
	store := newOtpStoreTest(t)
	ctx := context.Background()

	// Save stamps UpdatedAt with the wall clock, so distinct timestamps go
	// through raw writes plus a manual index entry.
	base := time.Now().Unix()
	for i, key := range []string{"old", "mid", "new"} {
		record := NewRecord(key, key+"@x.com", "1111", "h")
		record.MailAttempts = 7
		record.UpdatedAt = base + int64(i)

		data, err := Encode(record)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := store.redis.Set(ctx, store.key(key), data, 0).Err(); err != nil {
			t.Fatalf("raw save: %v", err)
		}
		if err := store.redis.SAdd(ctx, store.suspiciousKey(), key).Err(); err != nil {
			t.Fatalf("index: %v", err)
		}
	}

	entries, err := store.ListSuspicious(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries %d, want 3", len(entries))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if entries[i].Key != want {
			t.Fatalf("position %d is %q, want %q", i, entries[i].Key, want)
		}
	}
}

func TestResetKeyClearsRecordAndIndex(t *testing.T) {
	store := newOtpStoreTest(t)
	ctx := context.Background()

	record := NewRecord("blocked", "a@x.com", "1111", "h")
	record.MailAttempts = 9
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.ResetKey(ctx, "blocked"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	loaded, err := store.Get(ctx, "blocked")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded != nil {
		t.Fatal("record must be gone after reset")
	}

	hashes, err := store.SuspiciousHashes(ctx, "")
	if err != nil {
		t.Fatalf("suspicious hashes: %v", err)
	}
	if len(hashes) != 0 {
		t.Fatalf("index not cleared: %v", hashes)
	}
}

func TestGenerateCodeShape(t *testing.T) {
	code, err := GenerateCode(4)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != 4 {
		t.Fatalf("code %q, want 4 digits", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit in code %q", code)
		}
	}

	if _, err := GenerateCode(2); err == nil {
		t.Fatal("too-short code length must be rejected")
	}
}
