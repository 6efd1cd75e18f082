package env

import "testing"

func TestStrReturnsFallbackWhenUnset(t *testing.T) {
	t.Setenv("ENV_TEST_STR", "")
	if got := Str("ENV_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("Str = %q, want fallback", got)
	}
}

func TestStrReturnsSetValue(t *testing.T) {
	t.Setenv("ENV_TEST_STR", "configured")
	if got := Str("ENV_TEST_STR", "fallback"); got != "configured" {
		t.Fatalf("Str = %q, want configured", got)
	}
}

func TestIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("ENV_TEST_INT", "42")
	if got := Int("ENV_TEST_INT", 7); got != 42 {
		t.Fatalf("Int = %d, want 42", got)
	}
	t.Setenv("ENV_TEST_INT", "not-a-number")
	if got := Int("ENV_TEST_INT", 7); got != 7 {
		t.Fatalf("Int = %d, want fallback 7 on parse error", got)
	}
}

func TestFloatParsesOrFallsBack(t *testing.T) {
	t.Setenv("ENV_TEST_FLOAT", "3.5")
	if got := Float("ENV_TEST_FLOAT", 1.0); got != 3.5 {
		t.Fatalf("Float = %v, want 3.5", got)
	}
	t.Setenv("ENV_TEST_FLOAT", "nope")
	if got := Float("ENV_TEST_FLOAT", 1.0); got != 1.0 {
		t.Fatalf("Float = %v, want fallback 1.0 on parse error", got)
	}
}

func TestBoolParsesOrFallsBack(t *testing.T) {
	t.Setenv("ENV_TEST_BOOL", "true")
	if got := Bool("ENV_TEST_BOOL", false); !got {
		t.Fatal("Bool = false, want true")
	}
	t.Setenv("ENV_TEST_BOOL", "")
	if got := Bool("ENV_TEST_BOOL", true); !got {
		t.Fatal("Bool = false, want fallback true on unset")
	}
	t.Setenv("ENV_TEST_BOOL", "maybe")
	if got := Bool("ENV_TEST_BOOL", true); !got {
		t.Fatal("Bool = false, want fallback true on parse error")
	}
}
