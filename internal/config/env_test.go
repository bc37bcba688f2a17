package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("WRENCH_TEST_STR", "value")

	if got := String("WRENCH_TEST_STR", "def"); got != "value" {
		t.Errorf("String = %s, want value", got)
	}
	if got := String("WRENCH_TEST_UNSET", "def"); got != "def" {
		t.Errorf("String = %s, want def", got)
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want int
	}{
		{"valid", "42", 42},
		{"empty", "", 7},
		{"malformed", "forty", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WRENCH_TEST_INT", tt.val)
			if got := Int("WRENCH_TEST_INT", 7); got != tt.want {
				t.Errorf("Int = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("WRENCH_TEST_DUR", "250ms")
	if got := Duration("WRENCH_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration = %v, want 250ms", got)
	}

	t.Setenv("WRENCH_TEST_DUR", "soon")
	if got := Duration("WRENCH_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
}

func TestIsSet(t *testing.T) {
	t.Setenv("WRENCH_TEST_SET", "x")
	if !IsSet("WRENCH_TEST_SET") {
		t.Error("IsSet should be true")
	}
	if IsSet("WRENCH_TEST_UNSET") {
		t.Error("IsSet should be false")
	}
}
