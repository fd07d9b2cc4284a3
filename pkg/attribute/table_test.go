package attribute

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jwoglom/fakecadence/pkg/catalog"
)

func newCadenceTable(t *testing.T) *Table {
	t.Helper()
	table := NewTable()
	for _, k := range []catalog.ServiceKind{catalog.CadenceCase, catalog.CadenceBlisterPack} {
		if err := table.AddService(k); err != nil {
			t.Fatalf("AddService(%s) failed: %v", k, err)
		}
	}
	return table
}

func TestTable_LookupAddedPairs(t *testing.T) {
	table := newCadenceTable(t)

	for _, kind := range []catalog.ServiceKind{catalog.CadenceCase, catalog.CadenceBlisterPack} {
		def, _ := catalog.Define(kind)
		for _, c := range def.Characteristics {
			got, ok := table.Lookup(def.ID, c.ID)
			if !ok {
				t.Fatalf("Lookup(%s, %s) returned not found", def.ID, c.ID)
			}
			if got.Definition.ID != c.ID || got.Definition.Properties != c.Properties {
				t.Errorf("Lookup returned wrong definition: %+v", got.Definition)
			}
			if got.Lifecycle != Unpublished {
				t.Errorf("Expected Unpublished, got %s", got.Lifecycle)
			}
			if got.Cached {
				t.Errorf("Dynamic characteristic %s should not be cached", c.Name)
			}
		}
	}
}

func TestTable_LookupMissingPairs(t *testing.T) {
	table := newCadenceTable(t)

	tests := []struct {
		name    string
		service uuid.UUID
		char    uuid.UUID
	}{
		{"unknown service", catalog.CurrentTimeServiceUUID, catalog.CurrentTimeCharUUID},
		{"unknown characteristic", catalog.CadenceCaseServiceUUID, catalog.CurrentTimeCharUUID},
		{"characteristic of another service", catalog.CadenceCaseServiceUUID, catalog.BlisterPackDetectionCharUUID},
		{"nil ids", uuid.Nil, uuid.Nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := table.Lookup(tt.service, tt.char); ok {
				t.Error("Expected lookup to miss")
			}
		})
	}
}

func TestTable_DuplicateService(t *testing.T) {
	table := newCadenceTable(t)

	if err := table.SetValue(catalog.CadenceCaseServiceUUID, catalog.CaseOpenClosedCharUUID, []byte{0x01}); err != nil {
		t.Fatal(err)
	}

	err := table.AddService(catalog.CadenceCase)
	if !errors.Is(err, ErrDuplicateService) {
		t.Fatalf("Expected ErrDuplicateService, got %v", err)
	}

	got, _ := table.Lookup(catalog.CadenceCaseServiceUUID, catalog.CaseOpenClosedCharUUID)
	if !bytes.Equal(got.Value, []byte{0x01}) {
		t.Errorf("Duplicate add must not overwrite cached value, got %x", got.Value)
	}
	if table.Len() != 2 {
		t.Errorf("Expected 2 services, got %d", table.Len())
	}
}

func TestTable_PublishAll(t *testing.T) {
	empty := NewTable()
	if _, err := empty.PublishAll(); !errors.Is(err, ErrCatalogEmpty) {
		t.Errorf("Expected ErrCatalogEmpty, got %v", err)
	}

	table := newCadenceTable(t)
	defs, err := table.PublishAll()
	if err != nil {
		t.Fatalf("PublishAll failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("Expected 2 definitions, got %d", len(defs))
	}
	if defs[0].ID != catalog.CadenceCaseServiceUUID || defs[1].ID != catalog.CadenceBlisterPackServiceUUID {
		t.Error("Definitions should be returned in insertion order")
	}

	for _, c := range table.Characteristics() {
		if c.Lifecycle != Published {
			t.Errorf("%s should be Published", c.Key)
		}
	}
}

func TestTable_SetValue(t *testing.T) {
	table := newCadenceTable(t)

	value := []byte("hello")
	if err := table.SetValue(catalog.CadenceBlisterPackServiceUUID, catalog.BlisterPackPlacedRemovedCharUUID, value); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	value[0] = 'X'

	got, ok := table.Lookup(catalog.CadenceBlisterPackServiceUUID, catalog.BlisterPackPlacedRemovedCharUUID)
	if !ok || !got.Cached {
		t.Fatal("Expected cached value")
	}
	if string(got.Value) != "hello" {
		t.Errorf("Table must copy values, got %q", got.Value)
	}

	got.Value[0] = 'Y'
	again, _ := table.Lookup(catalog.CadenceBlisterPackServiceUUID, catalog.BlisterPackPlacedRemovedCharUUID)
	if string(again.Value) != "hello" {
		t.Errorf("Lookup must return a copy, got %q", again.Value)
	}

	err := table.SetValue(catalog.CurrentTimeServiceUUID, catalog.CurrentTimeCharUUID, []byte{0})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	err = table.SetValue(catalog.CadenceCaseServiceUUID, catalog.BlisterPackDetectionCharUUID, []byte{0})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTable_ServiceIDs(t *testing.T) {
	table := newCadenceTable(t)
	ids := table.ServiceIDs()
	if len(ids) != 2 || ids[0] != catalog.CadenceCaseServiceUUID {
		t.Errorf("Unexpected service ids: %v", ids)
	}

	ids[0] = uuid.Nil
	if table.ServiceIDs()[0] != catalog.CadenceCaseServiceUUID {
		t.Error("ServiceIDs must return a copy")
	}
}

func TestKey_String(t *testing.T) {
	k := NewKey(catalog.CadenceCaseServiceUUID, catalog.CaseOpenClosedCharUUID)
	if k.String() != "66CF34AF-224D-4A34-A90F-955F816ABE02/caseOpenClosed" {
		t.Errorf("Unexpected key string: %s", k)
	}
}
