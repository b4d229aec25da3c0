package app

import "testing"

func TestResolvePort(t *testing.T) {
	t.Setenv("POOL_PORT_VALID", "12345")
	if got := resolvePort("POOL_PORT_VALID", 8090); got != 12345 {
		t.Fatalf("resolvePort returned %d, want 12345", got)
	}

	t.Setenv("POOL_PORT_INVALID", "not-a-number")
	if got := resolvePort("POOL_PORT_INVALID", 8090); got != 8090 {
		t.Fatalf("resolvePort with invalid value returned %d, want fallback 8090", got)
	}

	t.Setenv("POOL_PORT_ZERO", "0")
	if got := resolvePort("POOL_PORT_ZERO", 8090); got != 8090 {
		t.Fatalf("resolvePort with zero value returned %d, want fallback 8090", got)
	}

	t.Setenv("POOL_PORT_RANGE", "70000")
	if got := resolvePort("POOL_PORT_RANGE", 8090); got != 8090 {
		t.Fatalf("resolvePort with out-of-range value returned %d, want fallback 8090", got)
	}
}

func TestResolvePortUnsetUsesFallback(t *testing.T) {
	if got := resolvePort("POOL_PORT_UNSET", 8090); got != 8090 {
		t.Fatalf("resolvePort returned %d, want fallback 8090", got)
	}
}
