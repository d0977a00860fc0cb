package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+91 98765-43210": "9876543210",
		"098765 43210":    "9876543210",
		"9876543210":      "9876543210",
		"":                "",
		"12345":           "12345",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}
