package vkframe

import (
	"testing"
	"time"

	vk "github.com/vulkan-go/vulkan"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no frames", func(c *Config) { c.FramesInFlight = 0 }},
		{"too many frames", func(c *Config) { c.FramesInFlight = MaxFramesInFlight + 1 }},
		{"no timeout", func(c *Config) { c.FenceTimeout = 0 }},
		{"no acquire attempts", func(c *Config) { c.AcquireAttempts = 0 }},
		{"no descriptor sets", func(c *Config) { c.MaxDescriptorSets = 0 }},
		{"no recording threads", func(c *Config) { c.RecordingThreads = 0 }},
	}
	for _, tt := range tests {
		c := DefaultConfig()
		tt.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: accepted", tt.name)
		}
	}
}

func TestConfigFromUsage(t *testing.T) {
	base := NewUsage("defaults")
	base.Ints[UsageFramesInFlight] = 3
	base.Ints[UsageUniformBuffers] = 12
	base.Strings[UsagePresentMode] = "fifo"

	u := NewUsage("app")
	u.Linked = base
	u.Strings[UsageAppName] = "demo"
	u.Ints[UsageFramesInFlight] = 1
	u.Ints[UsageFenceTimeoutMs] = 250
	u.Bools[UsageValidation] = true

	c, err := ConfigFromUsage(u)
	if err != nil {
		t.Fatal(err)
	}
	if c.AppName != "demo" || c.FramesInFlight != 1 {
		t.Errorf("app %q frames %d, want demo/1", c.AppName, c.FramesInFlight)
	}
	if c.FenceTimeout != 250*time.Millisecond {
		t.Errorf("timeout = %s", c.FenceTimeout)
	}
	if c.DescriptorCapacity.UniformBuffers != 12 {
		t.Errorf("uniform capacity %d from linked usage, want 12", c.DescriptorCapacity.UniformBuffers)
	}
	if c.PreferredPresentMode != vk.PresentModeFifo {
		t.Errorf("present mode %d, want FIFO", c.PreferredPresentMode)
	}
	if len(c.ValidationLayers) != 1 {
		t.Errorf("validation layers %v", c.ValidationLayers)
	}
	if c.DescriptorCapacity.StorageImages != DefaultConfig().DescriptorCapacity.StorageImages {
		t.Error("unset key did not keep its default")
	}
}

func TestConfigFromUsageErrors(t *testing.T) {
	bad := NewUsage("bad")
	bad.Strings[UsagePresentMode] = "vsync-ish"
	if _, err := ConfigFromUsage(bad); err == nil {
		t.Error("unknown present mode accepted")
	}

	for _, key := range []string{UsageStorageBuffers, UsageMaxSets} {
		negative := NewUsage("negative")
		negative.Ints[key] = -1
		if c, err := ConfigFromUsage(negative); err == nil {
			t.Errorf("negative %s accepted: max sets %d", key, c.MaxDescriptorSets)
		}
	}

	if c, err := ConfigFromUsage(nil); err != nil || c.FramesInFlight != DefaultConfig().FramesInFlight {
		t.Errorf("nil usage: %+v, %v", c, err)
	}
}
