package vkframe

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Usage is a named property bag. Usages may be chained through Linked, lookups
// walk the chain and the first usage holding a key wins. It mirrors a JSON
// object so callers can fill it from whatever configuration source they own.
type Usage struct {
	Name    string
	Strings map[string]string
	Ints    map[string]int
	Bools   map[string]bool
	Floats  map[string]float32
	Linked  *Usage
}

func NewUsage(name string) *Usage {
	return &Usage{
		Name:    name,
		Strings: make(map[string]string),
		Ints:    make(map[string]int),
		Bools:   make(map[string]bool),
		Floats:  make(map[string]float32),
	}
}

func (u *Usage) String(key string) (string, bool) {
	for c := u; c != nil; c = c.Linked {
		if v, ok := c.Strings[key]; ok {
			return v, true
		}
	}
	return "", false
}

func (u *Usage) Int(key string) (int, bool) {
	for c := u; c != nil; c = c.Linked {
		if v, ok := c.Ints[key]; ok {
			return v, true
		}
	}
	return 0, false
}

func (u *Usage) Bool(key string) (bool, bool) {
	for c := u; c != nil; c = c.Linked {
		if v, ok := c.Bools[key]; ok {
			return v, true
		}
	}
	return false, false
}

// Usage keys understood by ConfigFromUsage.
const (
	UsageAppName          = "AppName"
	UsageFramesInFlight   = "FramesInFlight"
	UsageValidation       = "Validation"
	UsageFenceTimeoutMs   = "FenceTimeoutMs"
	UsageRecordingThreads = "RecordingThreads"
	UsageMaxSets          = "MaxDescriptorSets"
	UsageUniformBuffers   = "UniformBuffers"
	UsageSamplers         = "CombinedSamplers"
	UsageStorageImages    = "StorageImages"
	UsageStorageBuffers   = "StorageBuffers"
	UsagePresentMode      = "PresentMode"
)

// Config holds every tunable of the core.
type Config struct {
	AppName          string
	FramesInFlight   int
	ValidationLayers []string
	DeviceExtensions []string

	PreferredFormat      vk.Format
	PreferredColorSpace  vk.ColorSpace
	PreferredPresentMode vk.PresentMode
	OffscreenFormat      vk.Format

	// FenceTimeout bounds every fence wait. Exceeding it is fatal.
	FenceTimeout time.Duration
	// AcquireAttempts bounds swapchain resets while acquiring one frame.
	AcquireAttempts int

	DescriptorCapacity DescriptorCapacity
	MaxDescriptorSets  uint32
	RecordingThreads   int
}

// MaxFramesInFlight bounds Config.FramesInFlight.
const MaxFramesInFlight = 3

func DefaultConfig() Config {
	return Config{
		AppName:              "vkframe",
		FramesInFlight:       2,
		DeviceExtensions:     []string{"VK_KHR_swapchain"},
		PreferredFormat:      vk.FormatB8g8r8a8Unorm,
		PreferredColorSpace:  vk.ColorSpaceSrgbNonlinear,
		PreferredPresentMode: vk.PresentModeMailbox,
		OffscreenFormat:      vk.FormatR16g16b16a16Sfloat,
		FenceTimeout:         5 * time.Second,
		AcquireAttempts:      3,
		DescriptorCapacity: DescriptorCapacity{
			UniformBuffers:   256,
			CombinedSamplers: 256,
			StorageImages:    64,
			StorageBuffers:   64,
		},
		MaxDescriptorSets: 256,
		RecordingThreads:  1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.FramesInFlight < 1 || c.FramesInFlight > MaxFramesInFlight:
		return errors.Newf("frames in flight must be within [1, %d], got %d", MaxFramesInFlight, c.FramesInFlight)
	case c.FenceTimeout <= 0:
		return errors.Newf("fence timeout must be positive, got %s", c.FenceTimeout)
	case c.AcquireAttempts < 1:
		return errors.Newf("acquire attempts must be positive, got %d", c.AcquireAttempts)
	case c.MaxDescriptorSets == 0:
		return errors.New("descriptor pool needs at least one set")
	case c.RecordingThreads < 1:
		return errors.Newf("recording threads must be positive, got %d", c.RecordingThreads)
	}
	return nil
}

var presentModes = map[string]vk.PresentMode{
	"immediate": vk.PresentModeImmediate,
	"mailbox":   vk.PresentModeMailbox,
	"fifo":      vk.PresentModeFifo,
	"relaxed":   vk.PresentModeFifoRelaxed,
}

// ConfigFromUsage overlays the keys present in u on DefaultConfig.
func ConfigFromUsage(u *Usage) (Config, error) {
	c := DefaultConfig()
	if u == nil {
		return c, nil
	}
	if v, ok := u.String(UsageAppName); ok {
		c.AppName = v
	}
	if v, ok := u.Int(UsageFramesInFlight); ok {
		c.FramesInFlight = v
	}
	if v, ok := u.Bool(UsageValidation); ok && v {
		c.ValidationLayers = []string{"VK_LAYER_KHRONOS_validation"}
	}
	if v, ok := u.Int(UsageFenceTimeoutMs); ok {
		c.FenceTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := u.Int(UsageRecordingThreads); ok {
		c.RecordingThreads = v
	}
	counts := []struct {
		key string
		dst *uint32
	}{
		{UsageMaxSets, &c.MaxDescriptorSets},
		{UsageUniformBuffers, &c.DescriptorCapacity.UniformBuffers},
		{UsageSamplers, &c.DescriptorCapacity.CombinedSamplers},
		{UsageStorageImages, &c.DescriptorCapacity.StorageImages},
		{UsageStorageBuffers, &c.DescriptorCapacity.StorageBuffers},
	}
	for _, e := range counts {
		if v, ok := u.Int(e.key); ok {
			if v < 0 {
				return c, errors.Newf("usage %q: %s must not be negative", u.Name, e.key)
			}
			*e.dst = uint32(v)
		}
	}
	if v, ok := u.String(UsagePresentMode); ok {
		mode, known := presentModes[v]
		if !known {
			return c, errors.Newf("usage %q: unknown present mode %q", u.Name, v)
		}
		c.PreferredPresentMode = mode
	}
	return c, c.Validate()
}
