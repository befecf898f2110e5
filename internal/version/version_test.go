package version

import "testing"

func TestStringIsNotEmpty(t *testing.T) {
	s := String()
	if s == "" {
		t.Fatal("String() returned empty output")
	}
}
