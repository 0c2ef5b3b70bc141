package keygen

import "testing"

func TestNext(t *testing.T) {
	cases := map[string]string{
		"":   "0",
		"0":  "1",
		"8":  "9",
		"9":  "a",
		"z":  "10",
		"1z": "20",
		"zz": "100",
	}
	for in, want := range cases {
		if got := Next(in); got != want {
			t.Errorf("Next(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompareMonotonic(t *testing.T) {
	key := "0"
	for i := 0; i < 500; i++ {
		next := Next(key)
		if Compare(key, next) >= 0 {
			t.Fatalf("Compare(%q, %q) should be negative", key, next)
		}
		key = next
	}
}
