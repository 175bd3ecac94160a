package tcb

import "testing"

func TestValid(t *testing.T) {
	cases := []struct {
		name string
		h    Header
		want bool
	}{
		{"zero self", Header{Self: 0, Length: HeaderSize}, false},
		{"short length", Header{Self: 0xdead0000, Length: HeaderSize - 1}, false},
		{"well formed", Header{Self: 0xdead0000, Length: HeaderSize}, true},
		{"larger length ok", Header{Self: 0xdead0000, Length: HeaderSize + 64}, true},
	}
	for _, c := range cases {
		if got := Valid(c.h); got != c.want {
			t.Errorf("%s: Valid(%+v) = %v, want %v", c.name, c.h, got, c.want)
		}
	}
}
