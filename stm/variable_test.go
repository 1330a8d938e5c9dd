package stm

import "testing"

func TestVarGetSetRoundTrips(t *testing.T) {
	v := NewVar(int32(-7))

	var got int32
	err := Atomic(func() error {
		cur, err := v.Get()
		if err != nil {
			return err
		}
		got = cur
		return v.Set(cur * 2)
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if got != -7 {
		t.Fatalf("Get() = %d, want -7", got)
	}

	if err := AtomicRead(func() error {
		var err error
		got, err = v.Get()
		return err
	}); err != nil {
		t.Fatalf("AtomicRead: %v", err)
	}
	if got != -14 {
		t.Fatalf("Get() after Set = %d, want -14", got)
	}
}

func TestVarByteWidth(t *testing.T) {
	v := NewVar(uint8(200))

	if err := Atomic(func() error {
		return v.Add(10)
	}); err != nil {
		t.Fatalf("Atomic: %v", err)
	}

	var got uint8
	if err := AtomicRead(func() error {
		var err error
		got, err = v.Get()
		return err
	}); err != nil {
		t.Fatalf("AtomicRead: %v", err)
	}
	if got != 210 {
		t.Fatalf("Get() = %d, want 210", got)
	}
}

func TestVarUnsafeAccessBypassesEngine(t *testing.T) {
	v := NewVar(uint64(1))
	v.UnsafeWrite(42)
	if got := v.UnsafeRead(); got != 42 {
		t.Fatalf("UnsafeRead() = %d, want 42", got)
	}
}
