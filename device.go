package vkframe

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DeviceContext owns the instance, the logical device and its queues. It is
// shared by every resource created from it: constructors retain it and
// Destroy releases it, the device itself goes away with the last holder.
type DeviceContext struct {
	cfg      Config
	instance *instanceInfo
	surface  vk.Surface

	gpu         vk.PhysicalDevice
	device      vk.Device
	properties  vk.PhysicalDeviceProperties
	memoryTypes []vk.MemoryPropertyFlags
	families    QueueFamilies

	queues map[QueueRole]*Queue
	// one lock per family, roles sharing a family share the lock
	locks map[uint32]*sync.Mutex

	refs int32
}

// NewDeviceContext creates the instance, the presentation surface (when a
// display is given), selects a GPU and queue families and creates the device.
// The caller holds the first reference and must Release it.
func NewDeviceContext(cfg Config, display Display) (ctx *DeviceContext, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inst, err := newInstance(cfg, display)
	if err != nil {
		return nil, err
	}
	c := &DeviceContext{cfg: cfg, instance: inst, surface: vk.NullSurface, refs: 1}
	defer func() {
		if err != nil {
			c.destroy()
		}
	}()

	if display != nil {
		surface, err := display.CreateSurface(inst.handle)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "create surface"), ErrResourceCreation)
		}
		c.surface = surface
	}
	if err := c.pickPhysicalDevice(display != nil); err != nil {
		return nil, err
	}
	if err := c.createDevice(); err != nil {
		return nil, err
	}
	Logger().Info("vulkan: device ready",
		"gpu", vk.ToString(c.properties.DeviceName[:]),
		"graphics", c.families.Graphics, "compute", c.families.Compute,
		"transfer", c.families.Transfer, "present", c.families.Present)
	return c, nil
}

func (c *DeviceContext) pickPhysicalDevice(needPresent bool) error {
	var count uint32
	if err := NewError(vk.EnumeratePhysicalDevices(c.instance.handle, &count, nil)); err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}
	if count == 0 {
		return errors.Mark(errors.New("vulkan error: no GPU devices found"), ErrResourceCreation)
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := NewError(vk.EnumeratePhysicalDevices(c.instance.handle, &count, gpus)); err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}

	// Discrete GPUs win over the rest, otherwise the first suitable one.
	var chosen vk.PhysicalDevice
	var chosenFamilies QueueFamilies
	var chosenProps vk.PhysicalDeviceProperties
	for _, gpu := range gpus {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()
		props.Limits.Deref()

		families, err := selectQueueFamilies(queryQueueFamilies(gpu, c.surface), needPresent)
		if err != nil {
			Logger().Debug("vulkan: skipping gpu", "gpu", vk.ToString(props.DeviceName[:]), "err", err)
			continue
		}
		available, err := DeviceExtensions(gpu)
		if err != nil {
			continue
		}
		if _, missing := checkExisting(available, c.cfg.DeviceExtensions); len(missing) > 0 {
			Logger().Debug("vulkan: skipping gpu", "gpu", vk.ToString(props.DeviceName[:]), "missing", missing)
			continue
		}
		if chosen == nil || props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			chosen, chosenFamilies, chosenProps = gpu, families, props
			if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
				break
			}
		}
	}
	if chosen == nil {
		return errors.Mark(errors.New("no GPU offers the required queues and extensions"), ErrResourceCreation)
	}
	c.gpu = chosen
	c.families = chosenFamilies
	c.properties = chosenProps

	var mem vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(c.gpu, &mem)
	mem.Deref()
	c.memoryTypes = make([]vk.MemoryPropertyFlags, mem.MemoryTypeCount)
	for i := range c.memoryTypes {
		mem.MemoryTypes[i].Deref()
		c.memoryTypes[i] = mem.MemoryTypes[i].PropertyFlags
	}
	return nil
}

func (c *DeviceContext) createDevice() error {
	unique := c.families.Unique()
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(unique))
	for _, family := range unique {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}
	extensions := safeStrings(c.cfg.DeviceExtensions)

	var device vk.Device
	ret := vk.CreateDevice(c.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(c.instance.layers)),
		PpEnabledLayerNames:     c.instance.layers,
	}, nil, &device)
	if err := creationError(ret, "create device"); err != nil {
		return err
	}
	c.device = device

	c.locks = make(map[uint32]*sync.Mutex, len(unique))
	handles := make(map[uint32]vk.Queue, len(unique))
	for _, family := range unique {
		var q vk.Queue
		vk.GetDeviceQueue(device, family, 0, &q)
		handles[family] = q
		c.locks[family] = &sync.Mutex{}
	}
	c.queues = make(map[QueueRole]*Queue, 4)
	for _, role := range []QueueRole{QueueGraphics, QueueCompute, QueueTransfer, QueuePresent} {
		family := c.families.Index(role)
		c.queues[role] = &Queue{Family: family, handle: handles[family], lock: c.locks[family]}
	}
	return nil
}

func (c *DeviceContext) Config() Config                          { return c.cfg }
func (c *DeviceContext) Device() vk.Device                       { return c.device }
func (c *DeviceContext) PhysicalDevice() vk.PhysicalDevice       { return c.gpu }
func (c *DeviceContext) Instance() vk.Instance                   { return c.instance.handle }
func (c *DeviceContext) Surface() vk.Surface                     { return c.surface }
func (c *DeviceContext) Families() QueueFamilies                 { return c.families }
func (c *DeviceContext) Properties() vk.PhysicalDeviceProperties { return c.properties }
func (c *DeviceContext) MemoryTypes() []vk.MemoryPropertyFlags   { return c.memoryTypes }
func (c *DeviceContext) Queue(role QueueRole) *Queue             { return c.queues[role] }

// Submit enqueues work on the queue of role, serialized with every other
// submission to the same family.
func (c *DeviceContext) Submit(role QueueRole, infos []vk.SubmitInfo, fence vk.Fence) error {
	return c.queues[role].Submit(infos, fence)
}

// WaitIdle blocks until the device finished all queued work. Every family
// lock is held meanwhile so no submission races the wait.
func (c *DeviceContext) WaitIdle() error {
	for _, family := range c.families.Unique() {
		c.locks[family].Lock()
		defer c.locks[family].Unlock()
	}
	return NewError(vk.DeviceWaitIdle(c.device))
}

// Retain adds a holder.
func (c *DeviceContext) Retain() *DeviceContext {
	atomic.AddInt32(&c.refs, 1)
	return c
}

// Release drops a holder. The last release waits for the device to go idle
// and destroys device, surface and instance.
func (c *DeviceContext) Release() {
	switch n := atomic.AddInt32(&c.refs, -1); {
	case n == 0:
		c.destroy()
	case n < 0:
		panic("vkframe: DeviceContext released more often than retained")
	}
}

func (c *DeviceContext) destroy() {
	if c.device != nil {
		vk.DeviceWaitIdle(c.device)
		vk.DestroyDevice(c.device, nil)
		c.device = nil
	}
	if c.surface != vk.NullSurface {
		vk.DestroySurface(c.instance.handle, c.surface, nil)
		c.surface = vk.NullSurface
	}
	c.instance.destroy()
	Logger().Info("vulkan: device destroyed")
}
