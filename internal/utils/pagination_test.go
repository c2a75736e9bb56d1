package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestClampPageSize(t *testing.T) {
	cases := []struct {
		n, def, max int
		want        int
	}{
		// in range -> as requested
		{25, 50, 200, 25},
		{200, 50, 200, 200},
		// non-positive -> default
		{0, 50, 200, 50},
		{-3, 50, 200, 50},
		// above max -> capped
		{201, 50, 200, 200},
		{9999, 50, 200, 200},
	}

	for _, tc := range cases {
		if got := ClampPageSize(tc.n, tc.def, tc.max); got != tc.want {
			t.Fatalf("ClampPageSize(%d, %d, %d) = %d; want %d", tc.n, tc.def, tc.max, got, tc.want)
		}
	}
}
