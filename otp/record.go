// Package otp stores the per-anonymous-key abuse records behind the
// one-time email code flow: attempt counters, the live code, the emails the
// key has targeted, and the fingerprint of the device that opened the record.
package otp

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"strings"
	"time"
)

const recordFormatVersionCurrent = 1

// AttemptsStartValue is where both counters begin on a fresh code cycle.
const AttemptsStartValue = 1

// Record is one anonymous key's OTP state. An empty Code means the last
// code was consumed (email verified for this key); MailAttempts only ever
// grows and past the cap the key is refused until administrative reset.
type Record struct {
	Key             string
	Emails          []string
	Code            string
	FingerprintHash string
	MailAttempts    int
	CodeAttempts    int
	UpdatedAt       int64
}

// NewRecord opens a record for a key's first code.
func NewRecord(key, email, code, fingerprintHash string) *Record {
	return &Record{
		Key:             key,
		Emails:          []string{email},
		Code:            code,
		FingerprintHash: fingerprintHash,
		MailAttempts:    AttemptsStartValue,
		CodeAttempts:    AttemptsStartValue,
		UpdatedAt:       time.Now().Unix(),
	}
}

// SawEmail reports whether this key has ever requested a code for email.
func (r *Record) SawEmail(email string) bool {
	for _, seen := range r.Emails {
		if seen == email {
			return true
		}
	}
	return false
}

// AddEmail appends email to the seen set if it is new. The set is
// append-only and deduplicated.
func (r *Record) AddEmail(email string) {
	if !r.SawEmail(email) {
		r.Emails = append(r.Emails, email)
	}
}

// Consumed reports whether the record has no live code.
func (r *Record) Consumed() bool {
	return r.Code == ""
}

// Age returns how long ago the record was last mutated.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(r.UpdatedAt, 0))
}

// GenerateCode mints a numeric one-time code of the given length.
func GenerateCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("otp: invalid code length")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// Encode serializes a record to the binary blob stored in Redis. The
// anonymous key is the storage key and is not part of the blob.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if r.MailAttempts < 0 || r.MailAttempts > 65535 || r.CodeAttempts < 0 || r.CodeAttempts > 65535 {
		return nil, errors.New("otp: counter out of range")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(r.MailAttempts)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(r.CodeAttempts)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.UpdatedAt); err != nil {
		return nil, err
	}

	if err := writeString(&buf, r.Code); err != nil {
		return nil, err
	}
	if err := writeString(&buf, r.FingerprintHash); err != nil {
		return nil, err
	}

	if len(r.Emails) > 65535 {
		return nil, errors.New("otp: too many emails")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.Emails))); err != nil {
		return nil, err
	}
	for _, email := range r.Emails {
		if err := writeString(&buf, email); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. The caller fills in Key from
// the storage key.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("otp: invalid record version")
	}

	r := &Record{}

	var mailAttempts, codeAttempts uint16
	if err := binary.Read(reader, binary.BigEndian, &mailAttempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &codeAttempts); err != nil {
		return nil, err
	}
	r.MailAttempts = int(mailAttempts)
	r.CodeAttempts = int(codeAttempts)

	if err := binary.Read(reader, binary.BigEndian, &r.UpdatedAt); err != nil {
		return nil, err
	}

	if r.Code, err = readString(reader); err != nil {
		return nil, err
	}
	if r.FingerprintHash, err = readString(reader); err != nil {
		return nil, err
	}

	var emailCount uint16
	if err := binary.Read(reader, binary.BigEndian, &emailCount); err != nil {
		return nil, err
	}
	r.Emails = make([]string, 0, emailCount)
	for i := 0; i < int(emailCount); i++ {
		email, err := readString(reader)
		if err != nil {
			return nil, err
		}
		r.Emails = append(r.Emails, email)
	}

	return r, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("otp: record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
