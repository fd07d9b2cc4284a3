// Package protocol holds the byte-level encodings of the Cadence
// characteristic values and the request ledger.
package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

// CurrentTimeLength is the size of a Current Time characteristic value.
const CurrentTimeLength = 10

// Current Time adjust reason bits.
const (
	AdjustManual         byte = 1 << 0
	AdjustExternalSource byte = 1 << 1
	AdjustTimeZone       byte = 1 << 2
	AdjustDST            byte = 1 << 3
)

// centralText is how centrals encode strings written to the blister pack
// characteristic: UTF-16, big endian unless a byte order mark says otherwise.
var centralText = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// EncodeFlag encodes a boolean characteristic as a single byte.
func EncodeFlag(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeFlag reads a single byte boolean. Any non-zero byte is true.
func DecodeFlag(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, errors.Errorf("flag must be 1 byte, got %d", len(data))
	}
	return data[0] != 0, nil
}

// DecodeText decodes a UTF-16 string written by a central.
func DecodeText(data []byte) (string, error) {
	if len(data)%2 != 0 {
		return "", errors.Errorf("utf-16 payload has odd length %d", len(data))
	}
	out, err := centralText.NewDecoder().Bytes(data)
	if err != nil {
		return "", errors.Wrap(err, "decode utf-16")
	}
	return string(out), nil
}

// EncodeText encodes s the way a central would write it, without a byte
// order mark.
func EncodeText(s string) ([]byte, error) {
	enc := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrap(err, "encode utf-16")
	}
	return out, nil
}

// EncodeCurrentTime encodes t as a Current Time characteristic value:
// exact time 256 followed by the adjust reason.
func EncodeCurrentTime(t time.Time, adjust byte) []byte {
	b := make([]byte, CurrentTimeLength)
	binary.LittleEndian.PutUint16(b[0:2], uint16(t.Year()))
	b[2] = byte(t.Month())
	b[3] = byte(t.Day())
	b[4] = byte(t.Hour())
	b[5] = byte(t.Minute())
	b[6] = byte(t.Second())
	b[7] = dayOfWeek(t.Weekday())
	b[8] = byte(t.Nanosecond() / (int(time.Second) / 256))
	b[9] = adjust
	return b
}

// DecodeCurrentTime is the inverse of EncodeCurrentTime. The result is in
// loc; a nil loc means UTC.
func DecodeCurrentTime(data []byte, loc *time.Location) (time.Time, byte, error) {
	if len(data) != CurrentTimeLength {
		return time.Time{}, 0, errors.Errorf("current time must be %d bytes, got %d", CurrentTimeLength, len(data))
	}
	if loc == nil {
		loc = time.UTC
	}
	year := int(binary.LittleEndian.Uint16(data[0:2]))
	month := time.Month(data[2])
	if month < time.January || month > time.December {
		return time.Time{}, 0, errors.Errorf("invalid month %d", data[2])
	}
	nsec := int(data[8]) * (int(time.Second) / 256)
	t := time.Date(year, month, int(data[3]), int(data[4]), int(data[5]), int(data[6]), nsec, loc)
	return t, data[9], nil
}

// dayOfWeek maps to the Bluetooth numbering, Monday = 1 to Sunday = 7.
func dayOfWeek(d time.Weekday) byte {
	if d == time.Sunday {
		return 7
	}
	return byte(d)
}

// LogPayload logs a characteristic value in a readable format
func LogPayload(direction, target string, data []byte) {
	log.Debugf("%s %s: len=%d, data=%s", direction, target, len(data), hex.EncodeToString(data))
}
