package utils

import "testing"

func TestTruncateString(t *testing.T) {
	if got := TruncateString("hello", 10); got != "hello" {
		t.Errorf("TruncateString short: %q", got)
	}
	if got := TruncateString("hello world", 5); got != "hello..." {
		t.Errorf("TruncateString long: %q", got)
	}
	if got := TruncateString("abc", 0); got != "" {
		t.Errorf("TruncateString zero: %q", got)
	}
}
