package store

import (
	"os"
	"path/filepath"
	"testing"
)

// driverCase lets the contract tests below run identically against both
// the file and sqlite drivers; the two must present identical semantics.
type driverCase struct {
	name string
	open func(t *testing.T) Store
}

func driverCases() []driverCase {
	return []driverCase{
		{
			name: "file",
			open: func(t *testing.T) Store {
				s, err := OpenFile(filepath.Join(t.TempDir(), "state.json"))
				if err != nil {
					t.Fatalf("OpenFile: %v", err)
				}
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
				if err != nil {
					t.Fatalf("OpenSQLite: %v", err)
				}
				return s
			},
		},
	}
}

func TestStoreGetSetDel(t *testing.T) {
	t.Parallel()

	for _, dc := range driverCases() {
		dc := dc
		t.Run(dc.name, func(t *testing.T) {
			t.Parallel()
			s := dc.open(t)
			defer s.Close()

			if _, ok, err := s.Get("missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false", ok, err)
			}

			if err := s.Set("k1", "v1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, ok, err := s.Get("k1")
			if err != nil || !ok || v != "v1" {
				t.Fatalf("Get(k1) = %q, %v, %v; want v1, true, nil", v, ok, err)
			}

			if err := s.Set("k1", "v2"); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			v, _, _ = s.Get("k1")
			if v != "v2" {
				t.Errorf("Get(k1) after overwrite = %q, want v2", v)
			}

			if err := s.Del("k1"); err != nil {
				t.Fatalf("Del: %v", err)
			}
			if _, ok, _ := s.Get("k1"); ok {
				t.Error("expected k1 absent after Del")
			}

			if err := s.Del("never-existed"); err != nil {
				t.Errorf("Del of absent key should be a no-op, got %v", err)
			}
		})
	}
}

func TestStoreKeysByPrefix(t *testing.T) {
	t.Parallel()

	for _, dc := range driverCases() {
		dc := dc
		t.Run(dc.name, func(t *testing.T) {
			t.Parallel()
			s := dc.open(t)
			defer s.Close()

			_ = s.Set("near_market_submit_attempt:job1:bid1", "a")
			_ = s.Set("near_market_submit_attempt:job2:bid2", "b")
			_ = s.Set("near_market_withdrawn_bid:bid3", "c")
			// Differs from the marker prefix only where it has underscores;
			// a driver treating _ as a wildcard would wrongly match it.
			_ = s.Set("nearXmarketXsubmitXattempt:job3:bid3", "d")

			keys, err := s.Keys("near_market_submit_attempt:")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 2 {
				t.Fatalf("Keys() returned %d entries, want 2: %v", len(keys), keys)
			}
		})
	}
}

func TestFileStoreReopenPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s1, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := s1.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s1.Close()

	s2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen OpenFile: %v", err)
	}
	defer s2.Close()
	v, ok, err := s2.Get("k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get(k) after reopen = %q, %v, %v; want v, true, nil", v, ok, err)
	}
}

func TestFileStoreSurvivesCrashMidWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s1, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := s1.Set("k", "committed"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s1.Close()

	// A crash between writing the temp file and renaming it leaves a
	// truncated sibling behind. The store must keep serving the last
	// renamed state and never read the partial temp.
	if err := os.WriteFile(path+".tmp", []byte(`{"k":"trunc`), 0o600); err != nil {
		t.Fatalf("write partial temp: %v", err)
	}

	s2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen OpenFile: %v", err)
	}
	defer s2.Close()
	v, ok, err := s2.Get("k")
	if err != nil || !ok || v != "committed" {
		t.Fatalf("Get(k) after simulated crash = %q, %v, %v; want committed, true, nil", v, ok, err)
	}
}

func TestSQLiteStoreReopenPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	s1, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s1.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen OpenSQLite: %v", err)
	}
	defer s2.Close()
	v, ok, err := s2.Get("k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get(k) after reopen = %q, %v, %v; want v, true, nil", v, ok, err)
	}
}
