package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

// Encode serializes a session to the binary blob stored in Redis. The
// session ID is the storage key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if err := binary.Write(&buf, binary.BigEndian, s.UserID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{s.FingerprintHash, s.AccessToken, s.RefreshToken} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. The caller fills in ID from
// the storage key.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	if err := binary.Read(reader, binary.BigEndian, &s.UserID); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{&s.FingerprintHash, &s.AccessToken, &s.RefreshToken} {
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*field = v
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("session field too long")
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
