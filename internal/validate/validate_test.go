package validate

import "testing"

func TestIsValidPort(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"4222", true},
		{"65535", true},
		{"65536", false},
		{"-1", false},
		{"+80", true},
		{"-0", true},
		{"", false},
		{"abc", false},
		{" 80", false},
		{"80 ", false},
		{"8.0", false},
		{"99999999999999999999", false},
	}
	for _, c := range cases {
		if got := IsValidPort(c.in); got != c.want {
			t.Errorf("IsValidPort(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestIsValidIPv4(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"192.168.1.1", true},
		{"0.0.0.0", true},
		{"255.255.255.255", true},
		{"1.2.3.4.", true},
		{"1.2.3.4..", true},
		{"010.1.1.1", true},
		{"256.1.1.1", false},
		{"1.2.3", false},
		{"1.2.3.4.5", false},
		{"1..2.3", false},
		{".1.2.3", false},
		{"a.b.c.d", false},
		{"1.2.3.-4", false},
		{"", false},
		{".", false},
	}
	for _, c := range cases {
		if got := IsValidIPv4(c.in); got != c.want {
			t.Errorf("IsValidIPv4(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
