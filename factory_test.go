package connkit

import (
	"testing"
	"time"
)

func TestNewFactory_NilDefaults(t *testing.T) {
	_, err := NewFactory(nil)
	if !IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestNewFactory_InvalidSSLMode(t *testing.T) {
	opts := testOpts()
	opts.UseSSL = true
	opts.SSLMode = SSLMode("bogus")

	_, err := NewFactory(opts)
	if !IsConfig(err) {
		t.Errorf("a bad connection string must fail at construction, got %v", err)
	}
}

func TestNewFactory_DoesNotMutateCallerOptions(t *testing.T) {
	opts := &Options{Database: "d"}
	f, err := NewFactory(opts, withOpener(func(o *Options) (Handle, error) {
		return &fakeHandle{}, nil
	}))
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}

	if opts.Host != "" {
		t.Error("the caller's options must not be mutated by defaulting")
	}
	if f.Defaults().Host != "localhost" {
		t.Error("the factory's own defaults must be fully defaulted")
	}
}

func TestFactory_ConnectionIDsAreUnique(t *testing.T) {
	h := &fakeHandle{}
	f := newTestFactory(t, testOpts(), h)

	seen := make(map[int64]bool)
	var prev int64
	for i := 0; i < 10; i++ {
		conn, err := f.NewConnection()
		if err != nil {
			t.Fatalf("NewConnection failed: %v", err)
		}
		id := conn.ID()
		if seen[id] {
			t.Fatalf("duplicate connection id %d", id)
		}
		if id <= prev {
			t.Fatalf("ids must be strictly increasing: %d after %d", id, prev)
		}
		seen[id] = true
		prev = id
	}
}

func TestFactory_NewConnectionWithDoesNotMutateDefaults(t *testing.T) {
	h := &fakeHandle{}
	f := newTestFactory(t, testOpts(), h)

	conn, err := f.NewConnectionWith(func(o *Options) {
		o.Host = "other"
		o.MaxPoolSize = 99
		o.IsPrimary = true
	})
	if err != nil {
		t.Fatalf("NewConnectionWith failed: %v", err)
	}

	if conn.Options().Host != "other" || !conn.IsPrimary() {
		t.Error("the callback's changes must apply to the new connection")
	}

	d := f.Defaults()
	if d.Host != "h" || d.MaxPoolSize != 20 || d.IsPrimary {
		t.Error("the callback must act on a clone, never on the defaults")
	}
}

func TestFactory_NewConnectionFromClonesCallerOptions(t *testing.T) {
	h := &fakeHandle{}
	f := newTestFactory(t, testOpts(), h)

	opts := testOpts()
	conn, err := f.NewConnectionFrom(opts)
	if err != nil {
		t.Fatalf("NewConnectionFrom failed: %v", err)
	}

	opts.Host = "mutated"
	if conn.Options().Host != "h" {
		t.Error("mutating the caller's options must not affect the connection")
	}
}

func TestFactory_NilArguments(t *testing.T) {
	h := &fakeHandle{}
	f := newTestFactory(t, testOpts(), h)

	if _, err := f.NewConnectionFrom(nil); !IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
	if _, err := f.NewConnectionWith(nil); !IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestFactory_NewPrimaryConnection(t *testing.T) {
	h := &fakeHandle{}
	opts := testOpts()
	opts.MaxPoolSize = 10

	f := newTestFactory(t, opts, h)
	conn, err := f.NewPrimaryConnection()
	if err != nil {
		t.Fatalf("NewPrimaryConnection failed: %v", err)
	}

	if !conn.IsPrimary() {
		t.Error("expected IsPrimary=true")
	}
	co := conn.Options()
	if !co.DisableAutoClose {
		t.Error("a primary connection must have auto-close disabled")
	}
	if co.MaxPoolSize != 10 {
		t.Error("the remaining defaults must carry over unchanged")
	}

	// The defaults themselves stay non-primary.
	if f.Defaults().IsPrimary {
		t.Error("NewPrimaryConnection must not mutate the defaults")
	}
}

func TestFactory_DefaultsReturnsCopy(t *testing.T) {
	h := &fakeHandle{}
	f := newTestFactory(t, testOpts(), h)

	d := f.Defaults()
	d.Host = "mutated"
	d.AutoCloseTimeout = time.Hour

	if f.Defaults().Host == "mutated" {
		t.Error("Defaults must return an independent copy")
	}
}
