package vkframe

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func family(present bool, bits ...vk.QueueFlagBits) queueFamilyInfo {
	var flags vk.QueueFlags
	for _, b := range bits {
		flags |= vk.QueueFlags(b)
	}
	return queueFamilyInfo{flags: flags, count: 1, present: present}
}

func TestSelectQueueFamilies(t *testing.T) {
	const (
		g = vk.QueueGraphicsBit
		c = vk.QueueComputeBit
		x = vk.QueueTransferBit
	)
	tests := []struct {
		name        string
		families    []queueFamilyInfo
		needPresent bool
		want        QueueFamilies
		wantErr     bool
	}{
		{
			name:        "single universal family",
			families:    []queueFamilyInfo{family(true, g, c, x)},
			needPresent: true,
			want:        QueueFamilies{},
		},
		{
			name:        "dedicated compute and transfer",
			families:    []queueFamilyInfo{family(true, g, c, x), family(false, c, x), family(false, x)},
			needPresent: true,
			want:        QueueFamilies{Graphics: 0, Compute: 1, Transfer: 2, Present: 0},
		},
		{
			name:        "graphics prefers the presenting family",
			families:    []queueFamilyInfo{family(false, g, c), family(true, g, c)},
			needPresent: true,
			want:        QueueFamilies{Graphics: 1, Compute: 1, Transfer: 1, Present: 1},
		},
		{
			name:        "separate present family",
			families:    []queueFamilyInfo{family(false, g, c, x), family(true, x)},
			needPresent: true,
			want:        QueueFamilies{Graphics: 0, Compute: 0, Transfer: 1, Present: 1},
		},
		{
			name:     "headless ignores present support",
			families: []queueFamilyInfo{family(false, g, c)},
			want:     QueueFamilies{},
		},
		{
			name:        "nothing presents",
			families:    []queueFamilyInfo{family(false, g, c)},
			needPresent: true,
			wantErr:     true,
		},
		{
			name:     "no graphics",
			families: []queueFamilyInfo{family(true, c, x)},
			wantErr:  true,
		},
		{
			name:     "empty family skipped",
			families: []queueFamilyInfo{{flags: vk.QueueFlags(g | c), count: 0}, family(false, g, c)},
			want:     QueueFamilies{Graphics: 1, Compute: 1, Transfer: 1, Present: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectQueueFamilies(tt.families, tt.needPresent)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("got %+v, want an error", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestQueueFamiliesUnique(t *testing.T) {
	q := QueueFamilies{Graphics: 2, Compute: 0, Transfer: 2, Present: 1}
	got := q.Unique()
	want := []uint32{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("Unique = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Unique = %v, want %v", got, want)
		}
	}
	if !q.SeparatePresent() {
		t.Error("present on family 1 not reported separate")
	}
	for role, want := range map[QueueRole]uint32{QueueGraphics: 2, QueueCompute: 0, QueueTransfer: 2, QueuePresent: 1} {
		if got := q.Index(role); got != want {
			t.Errorf("Index(%s) = %d, want %d", role, got, want)
		}
	}
}
