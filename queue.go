package vkframe

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// QueueRole names the kind of work a queue is used for.
type QueueRole int

const (
	QueueGraphics QueueRole = iota
	QueueCompute
	QueueTransfer
	QueuePresent
)

func (r QueueRole) String() string {
	switch r {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	case QueuePresent:
		return "present"
	}
	return "unknown"
}

// QueueFamilies holds the family index selected for every role. Several
// roles may share one family.
type QueueFamilies struct {
	Graphics uint32
	Compute  uint32
	Transfer uint32
	Present  uint32
}

func (q QueueFamilies) Index(role QueueRole) uint32 {
	switch role {
	case QueueCompute:
		return q.Compute
	case QueueTransfer:
		return q.Transfer
	case QueuePresent:
		return q.Present
	}
	return q.Graphics
}

// Unique returns the distinct family indices in ascending order.
func (q QueueFamilies) Unique() []uint32 {
	set := map[uint32]struct{}{q.Graphics: {}, q.Compute: {}, q.Transfer: {}, q.Present: {}}
	out := make([]uint32, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SeparatePresent is true when presentation happens on another family than
// graphics, which forces concurrent sharing of swapchain images.
func (q QueueFamilies) SeparatePresent() bool {
	return q.Present != q.Graphics
}

type queueFamilyInfo struct {
	flags   vk.QueueFlags
	count   uint32
	present bool
}

func (f queueFamilyInfo) has(bit vk.QueueFlagBits) bool {
	return f.count > 0 && f.flags&vk.QueueFlags(bit) != 0
}

// selectQueueFamilies picks one family per role. Graphics prefers a family
// that can also present. Compute and transfer prefer dedicated families so
// async work does not contend with rendering.
func selectQueueFamilies(families []queueFamilyInfo, needPresent bool) (QueueFamilies, error) {
	const none = ^uint32(0)
	sel := QueueFamilies{Graphics: none, Compute: none, Transfer: none, Present: none}

	for i, f := range families {
		if !f.has(vk.QueueGraphicsBit) {
			continue
		}
		if sel.Graphics == none {
			sel.Graphics = uint32(i)
		}
		if needPresent && f.present {
			sel.Graphics = uint32(i)
			break
		}
	}
	if sel.Graphics == none {
		return sel, errors.New("no queue family supports graphics")
	}

	if !needPresent {
		sel.Present = sel.Graphics
	} else if families[sel.Graphics].present {
		sel.Present = sel.Graphics
	} else {
		for i, f := range families {
			if f.count > 0 && f.present {
				sel.Present = uint32(i)
				break
			}
		}
		if sel.Present == none {
			return sel, errors.New("no queue family can present to the surface")
		}
	}

	for i, f := range families {
		if f.has(vk.QueueComputeBit) && !f.has(vk.QueueGraphicsBit) {
			sel.Compute = uint32(i)
			break
		}
	}
	if sel.Compute == none {
		if families[sel.Graphics].has(vk.QueueComputeBit) {
			sel.Compute = sel.Graphics
		} else {
			for i, f := range families {
				if f.has(vk.QueueComputeBit) {
					sel.Compute = uint32(i)
					break
				}
			}
		}
	}
	if sel.Compute == none {
		return sel, errors.New("no queue family supports compute")
	}

	// Graphics and compute families implicitly support transfers.
	for i, f := range families {
		if f.has(vk.QueueTransferBit) && !f.has(vk.QueueGraphicsBit) && !f.has(vk.QueueComputeBit) {
			sel.Transfer = uint32(i)
			break
		}
	}
	if sel.Transfer == none {
		sel.Transfer = sel.Graphics
	}
	return sel, nil
}

func queryQueueFamilies(gpu vk.PhysicalDevice, surface vk.Surface) []queueFamilyInfo {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)

	out := make([]queueFamilyInfo, count)
	for i := range props {
		props[i].Deref()
		out[i] = queueFamilyInfo{flags: props[i].QueueFlags, count: props[i].QueueCount}
		if surface != vk.NullSurface {
			var supported vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(gpu, uint32(i), surface, &supported)
			out[i].present = supported.B()
		}
	}
	return out
}

// Queue is a device queue of one family. Submissions to it must hold the
// family lock, Submit and Present do.
type Queue struct {
	Family uint32
	handle vk.Queue
	lock   *sync.Mutex
}

func (q *Queue) VK() vk.Queue {
	return q.handle
}

// Submit enqueues the submit infos under the family lock.
func (q *Queue) Submit(infos []vk.SubmitInfo, fence vk.Fence) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	return NewError(vk.QueueSubmit(q.handle, uint32(len(infos)), infos, fence))
}

// Present queues presentation under the family lock and returns the raw
// result so callers can tell stale swapchains apart.
func (q *Queue) Present(info *vk.PresentInfo) vk.Result {
	q.lock.Lock()
	defer q.lock.Unlock()
	return vk.QueuePresent(q.handle, info)
}

func (q *Queue) WaitIdle() error {
	q.lock.Lock()
	defer q.lock.Unlock()
	return NewError(vk.QueueWaitIdle(q.handle))
}
