package idstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/phuslu/log"
)

func openTemp(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "ids.yaml")
	st, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	st.SetLogger(log.Logger{Level: log.PanicLevel})
	return st, path
}

func TestEmptyStore(t *testing.T) {
	st, _ := openTemp(t)
	if _, ok := st.Get(); ok {
		t.Fatal("empty store should have no ids")
	}
}

func TestSaveAndReload(t *testing.T) {
	st, path := openTemp(t)
	if err := st.Save("  VH-001 ", "DR-7"); err != nil {
		t.Fatal(err)
	}
	ids, ok := st.Get()
	if !ok || ids.VehicleId != "VH-001" || ids.DriverId != "DR-7" {
		t.Fatalf("unexpected ids %+v %v", ids, ok)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ids, ok = reopened.Get()
	if !ok || ids.VehicleId != "VH-001" || ids.DriverId != "DR-7" {
		t.Fatalf("ids not persisted %+v %v", ids, ok)
	}
}

func TestSaveRequiresBoth(t *testing.T) {
	st, path := openTemp(t)
	if err := st.Save("VH-001", " "); !errors.Is(err, ErrEmptyId) {
		t.Fatalf("expected ErrEmptyId, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("nothing should be written")
	}
}

func TestClear(t *testing.T) {
	st, path := openTemp(t)
	if err := st.Save("VH-001", "DR-7"); err != nil {
		t.Fatal(err)
	}
	if err := st.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, ok := st.Get(); ok {
		t.Fatal("ids should be cleared")
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reopened.Get(); ok {
		t.Fatal("clear should be persisted")
	}
}
