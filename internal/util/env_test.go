package util

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("ICAPP_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("ICAPP_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"20s", 20 * time.Second},
		{"30m", 30 * time.Minute},
		{"45", 45 * time.Second},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("ICAPP_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("ICAPP_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 0.5},
		{"0.9", 0.9},
		{" 1 ", 1},
		{"hot", 0.5},
	}
	for _, tt := range tests {
		t.Setenv("ICAPP_TEST_FLOAT", tt.value)
		if got := ParseFloatEnv("ICAPP_TEST_FLOAT", 0.5); got != tt.want {
			t.Errorf("ParseFloatEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseListEnv(t *testing.T) {
	t.Setenv("ICAPP_TEST_LIST", " k1, ,k2,k3 ,")
	if diff := cmp.Diff([]string{"k1", "k2", "k3"}, ParseListEnv("ICAPP_TEST_LIST")); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if got := SplitList(""); got != nil {
		t.Errorf("expected nil for empty list, got %v", got)
	}
}
