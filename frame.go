package vkframe

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// FrameState is the phase of the frame currently driven by an Orchestrator.
type FrameState int

const (
	StateIdle FrameState = iota
	StateFenceWait
	StateAcquire
	StateRecord
	StateSubmit
	StatePresent
)

func (s FrameState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFenceWait:
		return "fence-wait"
	case StateAcquire:
		return "acquire"
	case StateRecord:
		return "record"
	case StateSubmit:
		return "submit"
	case StatePresent:
		return "present"
	}
	return fmt.Sprintf("FrameState(%d)", int(s))
}

// FramePacer tracks which submission last used every frame slot and whether
// its fence has been observed. Submission N uses slot N mod frames, so a slot
// is writable exactly when the fence of submission N-frames was seen.
type FramePacer struct {
	mu     sync.Mutex
	frames int
	next   uint64
	slots  []pacerSlot
}

type pacerSlot struct {
	pending bool
	number  uint64
}

func NewFramePacer(frames int) *FramePacer {
	return &FramePacer{frames: frames, slots: make([]pacerSlot, frames)}
}

func (p *FramePacer) Frames() int { return p.frames }

// Next returns the number and slot of the next submission.
func (p *FramePacer) Next() (number uint64, slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next, int(p.next % uint64(p.frames))
}

// Observed records that the fence of slot's last submission signaled.
func (p *FramePacer) Observed(slot int) {
	p.mu.Lock()
	p.slots[slot].pending = false
	p.mu.Unlock()
}

// Writable reports whether the CPU may write the per-frame data of slot.
func (p *FramePacer) Writable(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.slots[slot].pending
}

// Submitted records submission number on its slot and advances the count.
func (p *FramePacer) Submitted(number uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if number != p.next {
		return errors.AssertionFailedf("submission %d out of order, expected %d", number, p.next)
	}
	slot := int(number % uint64(p.frames))
	if p.slots[slot].pending {
		return errors.AssertionFailedf("slot %d reused by submission %d before the fence of submission %d was observed",
			slot, number, p.slots[slot].number)
	}
	p.slots[slot] = pacerSlot{pending: true, number: number}
	p.next++
	return nil
}

// Frame is handed to the record callback.
type Frame struct {
	Slot   int
	Number uint64
	Image  uint32
	Cmd    *CommandBuffer

	pacer *FramePacer
}

// Writable reports whether per-frame data of the frame's slot may be written.
func (f *Frame) Writable() bool {
	return f.pacer.Writable(f.Slot)
}

// FrameBackend performs the GPU side of each phase for an Orchestrator.
type FrameBackend interface {
	// WaitSlot blocks until the fence of slot's last submission signals.
	WaitSlot(slot int, timeout time.Duration) error
	// AcquireImage acquires the next swapchain image for slot.
	AcquireImage(slot int, timeout time.Duration) (uint32, error)
	// BeginSlot resets and begins slot's primary command buffer.
	BeginSlot(slot int, image uint32) (*CommandBuffer, error)
	// EndSlot ends slot's primary command buffer.
	EndSlot(slot int) error
	// ResetSlot unsignals slot's fence.
	ResetSlot(slot int) error
	// SubmitSlot submits slot's ended command buffer, signaling slot's fence.
	SubmitSlot(slot int, image uint32) error
	// PresentImage presents image once slot's submission finished.
	PresentImage(slot int, image uint32) error
	// Recreate rebuilds the swapchain and everything depending on it.
	Recreate() error
}

// Orchestrator drives frames through fence wait, acquire, record, submit and
// present, keeping at most FramesInFlight frames on the GPU.
type Orchestrator struct {
	backend  FrameBackend
	pacer    *FramePacer
	timeout  time.Duration
	attempts int

	mu         sync.Mutex
	state      FrameState
	needsReset bool
}

func NewOrchestrator(backend FrameBackend, cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		backend:  backend,
		pacer:    NewFramePacer(cfg.FramesInFlight),
		timeout:  cfg.FenceTimeout,
		attempts: cfg.AcquireAttempts,
	}, nil
}

func (o *Orchestrator) Pacer() *FramePacer { return o.pacer }

func (o *Orchestrator) State() FrameState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s FrameState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// NotifyResize schedules a swapchain reset after the next present.
func (o *Orchestrator) NotifyResize() {
	o.mu.Lock()
	o.needsReset = true
	o.mu.Unlock()
}

func (o *Orchestrator) takeReset() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.needsReset
	o.needsReset = false
	return r
}

// recreate rebuilds the swapchain. A surface that cannot be presented to yet
// (zero extent) leaves the reset pending and reports false.
func (o *Orchestrator) recreate() (bool, error) {
	if err := o.backend.Recreate(); err != nil {
		if IsStale(err) {
			o.NotifyResize()
			return false, nil
		}
		return false, errors.Wrap(err, "recreate swapchain")
	}
	return true, nil
}

// Frame renders one frame, calling record between begin and end of the
// slot's command buffer. Stale swapchains are recovered from without error;
// a frame may then be skipped. Fence timeouts are reported as
// ErrSynchronizationTimeout and leave the device in an unknown state.
func (o *Orchestrator) Frame(record func(*Frame) error) error {
	defer o.setState(StateIdle)
	number, slot := o.pacer.Next()

	o.setState(StateFenceWait)
	if err := o.backend.WaitSlot(slot, o.timeout); err != nil {
		return errors.Wrapf(err, "frame %d slot %d", number, slot)
	}
	o.pacer.Observed(slot)

	if o.takeReset() {
		if ok, err := o.recreate(); !ok {
			return err
		}
	}

	o.setState(StateAcquire)
	var image uint32
	for attempt := 1; ; attempt++ {
		var err error
		image, err = o.backend.AcquireImage(slot, o.timeout)
		if err == nil {
			break
		}
		if !IsStale(err) {
			return errors.Wrapf(err, "frame %d", number)
		}
		Logger().Warn("vulkan: stale swapchain on acquire", "frame", number, "attempt", attempt)
		if attempt >= o.attempts {
			o.NotifyResize()
			return nil
		}
		if ok, err := o.recreate(); !ok {
			return err
		}
	}

	o.setState(StateRecord)
	cmd, err := o.backend.BeginSlot(slot, image)
	if err != nil {
		o.NotifyResize()
		return errors.Wrapf(err, "begin frame %d", number)
	}
	frame := &Frame{Slot: slot, Number: number, Image: image, Cmd: cmd, pacer: o.pacer}
	if err := runRecord(record, frame); err != nil {
		// The acquired image's semaphore is left signaled, only a reset
		// gets the slot back into a usable state.
		o.NotifyResize()
		return errors.Wrapf(err, "record frame %d", number)
	}

	o.setState(StateSubmit)
	if err := o.backend.EndSlot(slot); err != nil {
		o.NotifyResize()
		return errors.Wrapf(err, "end frame %d", number)
	}
	// Once the fence is reset the submit is the only thing signaling it.
	if err := o.backend.ResetSlot(slot); err != nil {
		return errors.Wrapf(err, "reset fence of slot %d", slot)
	}
	if err := o.backend.SubmitSlot(slot, image); err != nil {
		return errors.Wrapf(err, "submit frame %d", number)
	}
	if err := o.pacer.Submitted(number); err != nil {
		return err
	}

	o.setState(StatePresent)
	err = o.backend.PresentImage(slot, image)
	switch {
	case err == nil:
	case IsStale(err):
		Logger().Warn("vulkan: stale swapchain on present", "frame", number)
		o.NotifyResize()
	default:
		return errors.Wrapf(err, "present frame %d", number)
	}
	if o.takeReset() {
		if _, err := o.recreate(); err != nil {
			return err
		}
	}
	return nil
}

func runRecord(record func(*Frame) error, frame *Frame) (err error) {
	defer checkErr(&err)
	if record == nil {
		return nil
	}
	return record(frame)
}
