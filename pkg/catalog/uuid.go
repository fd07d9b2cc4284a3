package catalog

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// BaseUUID is the Bluetooth base UUID that 16- and 32-bit short forms expand onto.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ParseUUID parses a 16-bit ("1805"), 32-bit or 128-bit textual UUID into its
// normalized 128-bit form. Two ids are equal iff their normalized forms are.
func ParseUUID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(s), "0x"))

	switch len(s) {
	case 4, 8:
		raw, err := hex.DecodeString(s)
		if err != nil {
			return uuid.Nil, errors.Wrapf(err, "invalid short uuid %q", s)
		}
		u := BaseUUID
		copy(u[4-len(raw):4], raw)
		return u, nil
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "invalid uuid %q", s)
	}
	return u, nil
}

// MustParseUUID is like ParseUUID but panics on malformed input. It is only
// used for the compile-time constants of the catalog.
func MustParseUUID(s string) uuid.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// UUID16 expands a 16-bit assigned number onto the base UUID.
func UUID16(n uint16) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint16(u[2:4], n)
	return u
}

// ShortForm returns the 16-bit assigned number of u if u lies on the base UUID.
func ShortForm(u uuid.UUID) (uint16, bool) {
	if u[0] != 0 || u[1] != 0 {
		return 0, false
	}
	for i := 4; i < len(u); i++ {
		if u[i] != BaseUUID[i] {
			return 0, false
		}
	}
	return binary.BigEndian.Uint16(u[2:4]), true
}

// FormatUUID renders u the way it is written in the catalog: short form for
// standardized attributes, upper-case 128-bit form otherwise.
func FormatUUID(u uuid.UUID) string {
	if n, ok := ShortForm(u); ok {
		return fmt.Sprintf("%04X", n)
	}
	return strings.ToUpper(u.String())
}
