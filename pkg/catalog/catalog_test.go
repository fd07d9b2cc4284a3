package catalog

import (
	"testing"

	"github.com/pkg/errors"
)

func TestDefine_AllKinds(t *testing.T) {
	tests := []struct {
		kind      ServiceKind
		id        string
		primary   bool
		charCount int
	}{
		{CurrentTime, "00001805-0000-1000-8000-00805f9b34fb", false, 1},
		{CadenceCase, "66cf34af-224d-4a34-a90f-955f816abe02", true, 1},
		{CadenceBlisterPack, "a0dd7243-53ae-42f9-bf2b-5981d5c30ea6", true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			def, err := Define(tt.kind)
			if err != nil {
				t.Fatalf("Define(%s) failed: %v", tt.kind, err)
			}
			if def.ID.String() != tt.id {
				t.Errorf("Expected service id %s, got %s", tt.id, def.ID)
			}
			if def.Primary != tt.primary {
				t.Errorf("Expected primary=%v, got %v", tt.primary, def.Primary)
			}
			if len(def.Characteristics) != tt.charCount {
				t.Errorf("Expected %d characteristics, got %d", tt.charCount, len(def.Characteristics))
			}
			for _, c := range def.Characteristics {
				if !c.Properties.Has(PropNotify | PropRead) {
					t.Errorf("Characteristic %s should be notify|read, got %s", c.Name, c.Properties)
				}
				if c.Initial != nil {
					t.Errorf("Characteristic %s should be dynamic", c.Name)
				}
			}
		})
	}
}

func TestDefine_BlisterPackPermissions(t *testing.T) {
	def, err := Define(CadenceBlisterPack)
	if err != nil {
		t.Fatal(err)
	}

	placed, ok := def.Characteristic(BlisterPackPlacedRemovedCharUUID)
	if !ok {
		t.Fatal("placed/removed characteristic missing")
	}
	if !placed.Permissions.Has(PermReadable | PermWriteable) {
		t.Errorf("placed/removed should be readable|writeable, got %s", placed.Permissions)
	}
	if !placed.Properties.Has(PropWrite) {
		t.Errorf("placed/removed should support write, got %s", placed.Properties)
	}

	detection, ok := def.Characteristic(BlisterPackDetectionCharUUID)
	if !ok {
		t.Fatal("detection characteristic missing")
	}
	if detection.Permissions.Has(PermWriteable) {
		t.Error("detection must not be writeable")
	}
}

func TestDefine_UnknownKind(t *testing.T) {
	_, err := Define(ServiceKind(42))
	if !errors.Is(err, ErrUnknownServiceKind) {
		t.Errorf("Expected ErrUnknownServiceKind, got %v", err)
	}
}

func TestDefine_ReturnsIndependentCopies(t *testing.T) {
	a, _ := Define(CadenceCase)
	a.Characteristics[0].Name = "mutated"

	b, _ := Define(CadenceCase)
	if b.Characteristics[0].Name == "mutated" {
		t.Error("Define must not share state between calls")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}

	if got, err := ParseKind(" CADENCECASE "); err != nil || got != CadenceCase {
		t.Errorf("ParseKind should be case-insensitive, got %v, %v", got, err)
	}

	if _, err := ParseKind("heartRate"); !errors.Is(err, ErrUnknownServiceKind) {
		t.Errorf("Expected ErrUnknownServiceKind, got %v", err)
	}
}

func TestParseUUID_Normalization(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"1805", "00001805-0000-1000-8000-00805F9B34FB"},
		{"0x2a2b", "2A2B"},
		{"00002a2b", "2a2b"},
		{"66CF34AF-224D-4A34-A90F-955F816ABE02", "66cf34af224d4a34a90f955f816abe02"},
	}

	for _, tt := range tests {
		a, err := ParseUUID(tt.a)
		if err != nil {
			t.Fatalf("ParseUUID(%q) failed: %v", tt.a, err)
		}
		b, err := ParseUUID(tt.b)
		if err != nil {
			t.Fatalf("ParseUUID(%q) failed: %v", tt.b, err)
		}
		if a != b {
			t.Errorf("Expected %q and %q to normalize equal: %s != %s", tt.a, tt.b, a, b)
		}
	}

	if _, err := ParseUUID("zz05"); err == nil {
		t.Error("Expected error for malformed short uuid")
	}
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Error("Expected error for malformed uuid")
	}
}

func TestShortForm(t *testing.T) {
	if n, ok := ShortForm(CurrentTimeCharUUID); !ok || n != 0x2A2B {
		t.Errorf("Expected 0x2A2B short form, got %#x, %v", n, ok)
	}
	if _, ok := ShortForm(CadenceCaseServiceUUID); ok {
		t.Error("Custom 128-bit uuid should not have a short form")
	}
	if UUID16(0x1805) != CurrentTimeServiceUUID {
		t.Error("UUID16 should match the parsed short form")
	}
	if FormatUUID(CurrentTimeServiceUUID) != "1805" {
		t.Errorf("Expected 1805, got %s", FormatUUID(CurrentTimeServiceUUID))
	}
	if FormatUUID(CadenceCaseServiceUUID) != "66CF34AF-224D-4A34-A90F-955F816ABE02" {
		t.Errorf("Unexpected format: %s", FormatUUID(CadenceCaseServiceUUID))
	}
}

func TestName(t *testing.T) {
	if Name(CaseOpenClosedCharUUID) != "caseOpenClosed" {
		t.Errorf("Unexpected name: %s", Name(CaseOpenClosedCharUUID))
	}
	if Name(UUID16(0x2A00)) != "2A00" {
		t.Errorf("Unknown ids should format as uuid, got %s", Name(UUID16(0x2A00)))
	}
}
