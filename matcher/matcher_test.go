package matcher

import "testing"

func TestCompareAllRulesMustMatch(t *testing.T) {
	m := New()
	if !m.AddRule(0, []byte{0x01, 0x02}) {
		t.Fatal("AddRule rejected a small rule")
	}
	if !m.AddRule(4, []byte{0xAA}) {
		t.Fatal("AddRule rejected a small rule")
	}

	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"exact match", []byte{0x01, 0x02, 0x00, 0x00, 0xAA}, true},
		{"first rule fails", []byte{0x01, 0x03, 0x00, 0x00, 0xAA}, false},
		{"second rule fails", []byte{0x01, 0x02, 0x00, 0x00, 0xBB}, false},
		{"too short for second rule", []byte{0x01, 0x02}, false},
		{"empty", nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := m.Compare(c.data); got != c.want {
				t.Fatalf("Compare(%x) = %v, want %v", c.data, got, c.want)
			}
		})
	}
}

func TestAddRuleCapacity(t *testing.T) {
	m := New()
	// Each rule costs 2 + len(data) bytes; fill to exactly 16.
	if !m.AddRule(0, make([]byte, 6)) { // 8 bytes used
		t.Fatal("first rule should fit")
	}
	if !m.AddRule(0, make([]byte, 6)) { // 16 bytes used
		t.Fatal("second rule should fit exactly")
	}
	if m.AddRule(0, []byte{0x00}) {
		t.Fatal("third rule should overflow MaxLen")
	}
}

func TestEmptyMatcherMatchesAnything(t *testing.T) {
	m := New()
	if !m.IsEmpty() {
		t.Fatal("new matcher should be empty")
	}
	if !m.Compare([]byte{1, 2, 3}) {
		t.Fatal("empty matcher should match any data")
	}
	if !m.Compare(nil) {
		t.Fatal("empty matcher should match nil data")
	}
}

func TestIsSameAndCopy(t *testing.T) {
	m := New()
	m.AddRule(0, []byte{0x01})
	m.AddRule(2, []byte{0xFF, 0xEE})

	cp := m.Copy()
	if !m.IsSame(cp) {
		t.Fatal("copy should report as same")
	}

	other := New()
	other.AddRule(0, []byte{0x01})
	if m.IsSame(other) {
		t.Fatal("different rule counts should not be same")
	}
}
