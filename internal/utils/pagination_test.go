package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// absent query parameter
		{"", 20, 20},
		// well-formed values, including the shapes clients actually send
		{"25", 20, 25},
		{"-1", 20, -1},
		{"007", 20, 7},
		// junk degrades to the default; no trimming is done
		{"all", 20, 20},
		{" 25", 20, 20},
		// out of int range
		{"999999999999999999999999", 20, 20},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}
