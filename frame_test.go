package vkframe

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	lin "github.com/xlab/linmath"
)

func TestFramePacer(t *testing.T) {
	p := NewFramePacer(2)
	for i := uint64(0); i < 2; i++ {
		n, slot := p.Next()
		if n != i || slot != int(i) {
			t.Fatalf("Next = %d/%d, want %d/%d", n, slot, i, i)
		}
		if !p.Writable(slot) {
			t.Fatalf("fresh slot %d not writable", slot)
		}
		if err := p.Submitted(n); err != nil {
			t.Fatal(err)
		}
		if p.Writable(slot) {
			t.Fatalf("slot %d writable while submission %d is pending", slot, n)
		}
	}

	n, slot := p.Next()
	if n != 2 || slot != 0 {
		t.Fatalf("Next = %d/%d, want 2/0", n, slot)
	}
	if err := p.Submitted(n); err == nil {
		t.Fatal("slot 0 reused before the fence of submission 0 was observed")
	}
	p.Observed(0)
	if !p.Writable(0) {
		t.Fatal("slot 0 not writable after its fence was observed")
	}
	if err := p.Submitted(5); err == nil {
		t.Fatal("out of order submission accepted")
	}
	if err := p.Submitted(2); err != nil {
		t.Fatal(err)
	}
}

func TestFrameStateString(t *testing.T) {
	names := map[FrameState]string{
		StateIdle:      "idle",
		StateFenceWait: "fence-wait",
		StateAcquire:   "acquire",
		StateRecord:    "record",
		StateSubmit:    "submit",
		StatePresent:   "present",
		FrameState(42): "FrameState(42)",
	}
	for s, want := range names {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

// fakeBackend simulates a GPU that finishes a slot's work whenever its fence
// is waited on.
type fakeBackend struct {
	signaled []bool
	waited   []bool // fence waited since the slot's last submit
	images   uint32
	next     uint32

	staleAcquires int
	stalePresents int
	recreateErrs  []error
	waitErr       error
	endErr        error

	calls     []string
	submits   []int
	recreates int
}

func newFakeBackend(frames int) *fakeBackend {
	b := &fakeBackend{signaled: make([]bool, frames), waited: make([]bool, frames), images: 3}
	for i := range b.signaled {
		b.signaled[i] = true
		b.waited[i] = true
	}
	return b
}

func (b *fakeBackend) WaitSlot(slot int, timeout time.Duration) error {
	b.calls = append(b.calls, "wait")
	if b.waitErr != nil {
		return b.waitErr
	}
	b.signaled[slot] = true
	b.waited[slot] = true
	return nil
}

func (b *fakeBackend) AcquireImage(slot int, timeout time.Duration) (uint32, error) {
	b.calls = append(b.calls, "acquire")
	if b.staleAcquires > 0 {
		b.staleAcquires--
		return 0, errors.Mark(errors.New("out of date"), ErrSwapchainStale)
	}
	idx := b.next
	b.next = (b.next + 1) % b.images
	return idx, nil
}

func (b *fakeBackend) BeginSlot(slot int, image uint32) (*CommandBuffer, error) {
	b.calls = append(b.calls, "begin")
	return &CommandBuffer{}, nil
}

func (b *fakeBackend) EndSlot(slot int) error {
	b.calls = append(b.calls, "end")
	if b.endErr != nil {
		err := b.endErr
		b.endErr = nil
		return err
	}
	return nil
}

func (b *fakeBackend) ResetSlot(slot int) error {
	b.calls = append(b.calls, "reset")
	if !b.signaled[slot] {
		return errors.Newf("reset of unsignaled fence %d", slot)
	}
	b.signaled[slot] = false
	return nil
}

func (b *fakeBackend) SubmitSlot(slot int, image uint32) error {
	b.calls = append(b.calls, "submit")
	b.submits = append(b.submits, slot)
	b.waited[slot] = false
	return nil
}

func (b *fakeBackend) PresentImage(slot int, image uint32) error {
	b.calls = append(b.calls, "present")
	if b.stalePresents > 0 {
		b.stalePresents--
		return errors.Mark(errors.New("suboptimal"), ErrSwapchainStale)
	}
	return nil
}

func (b *fakeBackend) Recreate() error {
	b.calls = append(b.calls, "recreate")
	if len(b.recreateErrs) > 0 {
		err := b.recreateErrs[0]
		b.recreateErrs = b.recreateErrs[1:]
		if err != nil {
			return err
		}
	}
	b.recreates++
	return nil
}

func (b *fakeBackend) countCalls(name string) int {
	n := 0
	for _, c := range b.calls {
		if c == name {
			n++
		}
	}
	return n
}

func testOrchestrator(t *testing.T, frames int) (*Orchestrator, *fakeBackend) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FramesInFlight = frames
	b := newFakeBackend(frames)
	o, err := NewOrchestrator(b, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return o, b
}

type recordingSetter struct {
	writes int
	last   []byte
}

func (s *recordingSetter) SetData(data []byte, offset uint64) error {
	s.writes++
	s.last = append(s.last[:0], data...)
	return nil
}

func TestOrchestratorFramesInFlight(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	setters := []*recordingSetter{{}, {}}
	uniforms := &UniformBuffers{size: MatrixSize, setters: []dataSetter{setters[0], setters[1]}}

	var slots []int
	for i := 0; i < 5; i++ {
		err := o.Frame(func(f *Frame) error {
			if !b.waited[f.Slot] {
				t.Errorf("frame %d writes slot %d before the fence of frame %d was observed", f.Number, f.Slot, int(f.Number)-2)
			}
			if o.State() != StateRecord {
				t.Errorf("state during record = %s", o.State())
			}
			slots = append(slots, f.Slot)
			m := lin.Mat4x4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
			return uniforms.WriteMatrix(f, &m)
		})
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if o.State() != StateIdle {
			t.Errorf("state after frame %d = %s", i, o.State())
		}
	}

	want := []int{0, 1, 0, 1, 0}
	for i := range want {
		if slots[i] != want[i] || b.submits[i] != want[i] {
			t.Fatalf("slots %v submits %v, want %v", slots, b.submits, want)
		}
	}
	if setters[0].writes != 3 || setters[1].writes != 2 {
		t.Errorf("writes = %d/%d, want 3/2", setters[0].writes, setters[1].writes)
	}
	if uint64(len(setters[0].last)) != MatrixSize {
		t.Errorf("matrix write of %d bytes, want %d", len(setters[0].last), MatrixSize)
	}
	wantCalls := "wait acquire begin end reset submit present"
	if got := strings.Join(b.calls[:7], " "); got != wantCalls {
		t.Errorf("first frame calls %q, want %q", got, wantCalls)
	}
}

func TestUniformWriteRefusedWhilePending(t *testing.T) {
	pacer := NewFramePacer(2)
	if err := pacer.Submitted(0); err != nil {
		t.Fatal(err)
	}
	setter := &recordingSetter{}
	uniforms := &UniformBuffers{size: MatrixSize, setters: []dataSetter{setter, &recordingSetter{}}}
	var m lin.Mat4x4
	err := uniforms.WriteMatrix(&Frame{Slot: 0, Number: 2, pacer: pacer}, &m)
	if err == nil {
		t.Fatal("write to a pending slot accepted")
	}
	if setter.writes != 0 {
		t.Errorf("%d writes reached the buffer", setter.writes)
	}
}

func TestOrchestratorStaleAcquire(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	b.staleAcquires = 1
	recorded := 0
	if err := o.Frame(func(*Frame) error { recorded++; return nil }); err != nil {
		t.Fatal(err)
	}
	if b.recreates != 1 || recorded != 1 || len(b.submits) != 1 {
		t.Errorf("recreates %d recorded %d submits %d, want 1/1/1", b.recreates, recorded, len(b.submits))
	}
}

func TestOrchestratorStaleAcquireExhausted(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	b.staleAcquires = 100
	recorded := 0
	if err := o.Frame(func(*Frame) error { recorded++; return nil }); err != nil {
		t.Fatalf("stale acquire reported: %v", err)
	}
	attempts := DefaultConfig().AcquireAttempts
	if got := b.countCalls("acquire"); got != attempts {
		t.Errorf("%d acquires, want %d", got, attempts)
	}
	if recorded != 0 || len(b.submits) != 0 || b.countCalls("reset") != 0 {
		t.Errorf("skipped frame still recorded %d, submitted %d, reset %d", recorded, len(b.submits), b.countCalls("reset"))
	}

	b.staleAcquires = 0
	b.calls = nil
	if err := o.Frame(nil); err != nil {
		t.Fatal(err)
	}
	if b.calls[1] != "recreate" {
		t.Errorf("pending reset not applied before acquire: %v", b.calls)
	}
	if n, _ := o.Pacer().Next(); n != 1 {
		t.Errorf("next submission %d, want 1", n)
	}
}

func TestOrchestratorStalePresent(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	b.stalePresents = 1
	if err := o.Frame(nil); err != nil {
		t.Fatalf("stale present reported: %v", err)
	}
	if b.calls[len(b.calls)-1] != "recreate" || b.recreates != 1 {
		t.Errorf("calls %v, want a recreate after present", b.calls)
	}
}

func TestOrchestratorResize(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	o.NotifyResize()
	if err := o.Frame(nil); err != nil {
		t.Fatal(err)
	}
	if b.recreates != 1 {
		t.Errorf("recreates = %d, want 1", b.recreates)
	}
	if err := o.Frame(nil); err != nil {
		t.Fatal(err)
	}
	if b.recreates != 1 {
		t.Errorf("reset applied twice")
	}
}

func TestOrchestratorZeroExtentSkipsFrames(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	stale := errors.Mark(errors.New("surface has zero extent"), ErrSwapchainStale)
	b.recreateErrs = []error{stale, stale}
	o.NotifyResize()
	for i := 0; i < 2; i++ {
		if err := o.Frame(nil); err != nil {
			t.Fatalf("minimized frame %d: %v", i, err)
		}
	}
	if b.countCalls("acquire") != 0 {
		t.Errorf("acquired while minimized: %v", b.calls)
	}
	if err := o.Frame(nil); err != nil {
		t.Fatal(err)
	}
	if b.recreates != 1 || len(b.submits) != 1 {
		t.Errorf("recreates %d submits %d after restore, want 1/1", b.recreates, len(b.submits))
	}
}

func TestOrchestratorFenceTimeout(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	b.waitErr = errors.Mark(errors.New("fence wait timed out"), ErrSynchronizationTimeout)
	err := o.Frame(nil)
	if !errors.Is(err, ErrSynchronizationTimeout) {
		t.Fatalf("err = %v, want ErrSynchronizationTimeout", err)
	}
	if o.State() != StateIdle {
		t.Errorf("state = %s after timeout", o.State())
	}
	if b.countCalls("acquire") != 0 {
		t.Error("acquired after a fence timeout")
	}
}

func TestOrchestratorRecordFailure(t *testing.T) {
	tests := []struct {
		name   string
		record func(*Frame) error
		text   string
	}{
		{"error", func(*Frame) error { return errors.New("scene failed") }, "scene failed"},
		{"panic", func(*Frame) error { panic("boom") }, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, b := testOrchestrator(t, 2)
			err := o.Frame(tt.record)
			if err == nil || !strings.Contains(err.Error(), tt.text) {
				t.Fatalf("err = %v, want %q", err, tt.text)
			}
			if len(b.submits) != 0 || b.countCalls("reset") != 0 {
				t.Errorf("failed frame reached submit: %v", b.calls)
			}
			if !b.signaled[0] {
				t.Error("fence of slot 0 left unsignaled")
			}
			b.calls = nil
			if err := o.Frame(nil); err != nil {
				t.Fatal(err)
			}
			if b.recreates != 1 || len(b.submits) != 1 {
				t.Errorf("recovery: recreates %d submits %d", b.recreates, len(b.submits))
			}
		})
	}
}

func TestNewOrchestratorValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesInFlight = 0
	if _, err := NewOrchestrator(newFakeBackend(1), cfg); err == nil {
		t.Error("zero frames in flight accepted")
	}
}

func TestOrchestratorEndFailureKeepsFenceSignaled(t *testing.T) {
	o, b := testOrchestrator(t, 2)
	b.endErr = errors.New("end command buffer: device lost")
	err := o.Frame(nil)
	if err == nil || !strings.Contains(err.Error(), "device lost") {
		t.Fatalf("err = %v, want the end failure", err)
	}
	if b.countCalls("reset") != 0 || len(b.submits) != 0 {
		t.Errorf("fence reset or submit after a failed end: %v", b.calls)
	}
	if !b.signaled[0] {
		t.Fatal("fence of slot 0 left unsignaled")
	}

	// The failed submission is retried on the same slot.
	for i := 0; i < 2; i++ {
		if err := o.Frame(nil); err != nil {
			t.Fatalf("frame %d after failed end: %v", i+1, err)
		}
	}
	if len(b.submits) != 2 || b.submits[0] != 0 || b.submits[1] != 1 {
		t.Errorf("submits %v, want [0 1]", b.submits)
	}
	if b.recreates != 1 {
		t.Errorf("recreates = %d, want 1", b.recreates)
	}
}
