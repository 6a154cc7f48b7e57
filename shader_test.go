package vkframe

import "testing"

func TestCheckSPIRV(t *testing.T) {
	valid := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}
	tests := []struct {
		name string
		code []byte
		ok   bool
	}{
		{"valid header", valid, true},
		{"empty", nil, false},
		{"partial word", valid[:6], false},
		{"big endian magic", []byte{0x07, 0x23, 0x02, 0x03}, false},
	}
	for _, tt := range tests {
		if err := checkSPIRV(tt.code); (err == nil) != tt.ok {
			t.Errorf("%s: err = %v, want ok %v", tt.name, err, tt.ok)
		}
	}
	if words := sliceUint32(valid); len(words) != 2 {
		t.Errorf("%d words, want 2", len(words))
	}
}
