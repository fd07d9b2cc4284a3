// Package catalog holds the immutable definitions of every GATT service the
// emulated Cadence peripheral can expose.
package catalog

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrUnknownServiceKind is returned for a kind outside the closed enumeration.
var ErrUnknownServiceKind = errors.New("unknown service kind")

// Service UUIDs
var (
	CurrentTimeServiceUUID        = MustParseUUID("1805")
	CadenceCaseServiceUUID        = MustParseUUID("66CF34AF-224D-4A34-A90F-955F816ABE02")
	CadenceBlisterPackServiceUUID = MustParseUUID("A0DD7243-53AE-42F9-BF2B-5981D5C30EA6")
)

// Characteristic UUIDs
var (
	CurrentTimeCharUUID              = MustParseUUID("2A2B")
	CaseOpenClosedCharUUID           = MustParseUUID("651FD921-CADD-4B3F-816E-BF80285C496E")
	BlisterPackPlacedRemovedCharUUID = MustParseUUID("4DE63F41-3C3F-4A56-9875-A723BF4BE3A3")
	BlisterPackDetectionCharUUID     = MustParseUUID("CFEC9272-B8AF-4F9D-9B5E-2788CC1925EF")
)

// MaxAttributeLength is the largest attribute value ATT allows.
const MaxAttributeLength = 512

// ServiceKind identifies one of the services the catalog knows how to build
type ServiceKind int

const (
	CurrentTime ServiceKind = iota
	CadenceCase
	CadenceBlisterPack
)

func (k ServiceKind) String() string {
	switch k {
	case CurrentTime:
		return "currentTime"
	case CadenceCase:
		return "cadenceCase"
	case CadenceBlisterPack:
		return "cadenceBlisterPack"
	default:
		return "Unknown"
	}
}

// Kinds returns every known service kind in catalog order.
func Kinds() []ServiceKind {
	return []ServiceKind{CurrentTime, CadenceCase, CadenceBlisterPack}
}

// ParseKind maps a kind name (case-insensitive) back to its ServiceKind.
func ParseKind(name string) (ServiceKind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(k.String(), strings.TrimSpace(name)) {
			return k, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownServiceKind, "%q", name)
}

// Property is the set of GATT operations a characteristic supports.
type Property uint8

// Bit values match the characteristic properties field of the declaration.
const (
	PropRead   Property = 0x02
	PropWrite  Property = 0x08
	PropNotify Property = 0x10
)

// Has reports whether every bit of q is set.
func (p Property) Has(q Property) bool { return p&q == q }

func (p Property) String() string {
	var parts []string
	if p.Has(PropRead) {
		parts = append(parts, "read")
	}
	if p.Has(PropWrite) {
		parts = append(parts, "write")
	}
	if p.Has(PropNotify) {
		parts = append(parts, "notify")
	}
	return strings.Join(parts, "|")
}

// Permission is the set of access rights on a characteristic value.
type Permission uint8

const (
	PermReadable Permission = 1 << iota
	PermWriteable
)

// Has reports whether every bit of q is set.
func (p Permission) Has(q Permission) bool { return p&q == q }

func (p Permission) String() string {
	var parts []string
	if p.Has(PermReadable) {
		parts = append(parts, "readable")
	}
	if p.Has(PermWriteable) {
		parts = append(parts, "writeable")
	}
	return strings.Join(parts, "|")
}

// CharacteristicDefinition describes one characteristic. A nil Initial value
// means the value is computed on every access until something is cached.
type CharacteristicDefinition struct {
	ID          uuid.UUID
	Name        string
	Properties  Property
	Permissions Permission
	Initial     []byte
	MaxLength   int
}

// ServiceDefinition describes a service and its ordered characteristics.
type ServiceDefinition struct {
	ID              uuid.UUID
	Kind            ServiceKind
	Primary         bool
	Characteristics []CharacteristicDefinition
}

// Characteristic returns the definition with the given id, if the service owns it.
func (s ServiceDefinition) Characteristic(id uuid.UUID) (CharacteristicDefinition, bool) {
	for _, c := range s.Characteristics {
		if c.ID == id {
			return c, true
		}
	}
	return CharacteristicDefinition{}, false
}

// Define returns the fixed definition of a service kind. The returned value
// shares nothing with the catalog, so callers may keep or modify it.
func Define(kind ServiceKind) (ServiceDefinition, error) {
	switch kind {
	case CurrentTime:
		return ServiceDefinition{
			ID:      CurrentTimeServiceUUID,
			Kind:    kind,
			Primary: false,
			Characteristics: []CharacteristicDefinition{
				readNotify(CurrentTimeCharUUID, "currentTimeDisplay"),
			},
		}, nil
	case CadenceCase:
		return ServiceDefinition{
			ID:      CadenceCaseServiceUUID,
			Kind:    kind,
			Primary: true,
			Characteristics: []CharacteristicDefinition{
				readNotify(CaseOpenClosedCharUUID, "caseOpenClosed"),
			},
		}, nil
	case CadenceBlisterPack:
		return ServiceDefinition{
			ID:      CadenceBlisterPackServiceUUID,
			Kind:    kind,
			Primary: true,
			Characteristics: []CharacteristicDefinition{
				{
					ID:          BlisterPackPlacedRemovedCharUUID,
					Name:        "blisterPackPlacedRemoved",
					Properties:  PropNotify | PropWrite | PropRead,
					Permissions: PermReadable | PermWriteable,
					MaxLength:   MaxAttributeLength,
				},
				readNotify(BlisterPackDetectionCharUUID, "blisterPackDetection"),
			},
		}, nil
	default:
		return ServiceDefinition{}, errors.Wrapf(ErrUnknownServiceKind, "kind %d", int(kind))
	}
}

func readNotify(id uuid.UUID, name string) CharacteristicDefinition {
	return CharacteristicDefinition{
		ID:          id,
		Name:        name,
		Properties:  PropNotify | PropRead,
		Permissions: PermReadable,
		MaxLength:   MaxAttributeLength,
	}
}

// Name returns the catalog name of a characteristic id, or its formatted UUID.
func Name(id uuid.UUID) string {
	for _, k := range Kinds() {
		def, _ := Define(k)
		if c, ok := def.Characteristic(id); ok {
			return c.Name
		}
	}
	return FormatUUID(id)
}
