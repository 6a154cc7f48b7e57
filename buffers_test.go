package vkframe

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func TestCheckRange(t *testing.T) {
	tests := []struct {
		size, offset, n uint64
		ok              bool
	}{
		{size: 64, offset: 0, n: 64, ok: true},
		{size: 64, offset: 32, n: 32, ok: true},
		{size: 64, offset: 64, n: 0, ok: true},
		{size: 64, offset: 33, n: 32, ok: false},
		{size: 64, offset: 65, n: 0, ok: false},
		{size: 64, offset: 1, n: ^uint64(0), ok: false},
	}
	for _, tt := range tests {
		err := checkRange(tt.size, tt.offset, tt.n)
		if (err == nil) != tt.ok {
			t.Errorf("checkRange(%d, %d, %d) = %v, want ok %v", tt.size, tt.offset, tt.n, err, tt.ok)
		}
	}
}

func TestCommandBufferKeepAlive(t *testing.T) {
	cmd := &CommandBuffer{}
	released := 0
	cmd.keepAlive(func() { released++ })
	cmd.keepAlive(func() { released++ })
	if released != 0 {
		t.Fatal("released before the command buffer was reset")
	}
	cmd.releaseKept()
	if released != 2 {
		t.Fatalf("released %d, want 2", released)
	}
	cmd.releaseKept()
	if released != 2 {
		t.Errorf("released twice: %d", released)
	}
}

func TestBufferReferences(t *testing.T) {
	b := &Buffer{refs: 1}
	b.retain()
	b.Destroy()
	if b.refs != 1 {
		t.Fatalf("refs = %d, want 1", b.refs)
	}

	defer func() {
		if recover() == nil {
			t.Error("destroying a released buffer did not panic")
		}
	}()
	(&Buffer{}).Destroy()
}

func TestBufferDescriptorInfo(t *testing.T) {
	b := &Buffer{size: 256}
	if got := b.DescriptorInfo(0, 0).Range; got != vk.DeviceSize(vk.WholeSize) {
		t.Errorf("zero size range = %d, want whole size", got)
	}
	info := b.DescriptorInfo(64, 128)
	if info.Offset != 64 || info.Range != 128 {
		t.Errorf("info = %d/%d, want 64/128", info.Offset, info.Range)
	}
}

func TestBufferMapRequiresHostVisible(t *testing.T) {
	b := &Buffer{size: 16, props: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)}
	if _, err := b.Map(); err == nil {
		t.Error("mapped device-local memory")
	}
	if err := b.SetData(make([]byte, 32), 0); err == nil {
		t.Error("SetData past the end accepted")
	}
	if b.Bytes() != nil {
		t.Error("Bytes of an unmapped buffer")
	}
}
