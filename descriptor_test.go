package vkframe

import (
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

func binding(t vk.DescriptorType, count uint32) vk.DescriptorSetLayoutBinding {
	return vk.DescriptorSetLayoutBinding{DescriptorType: t, DescriptorCount: count}
}

func TestDescriptorAccountantConservation(t *testing.T) {
	a := NewDescriptorAccountant(DescriptorCapacity{UniformBuffers: 10, CombinedSamplers: 4}, 8)
	layout := []vk.DescriptorSetLayoutBinding{
		binding(vk.DescriptorTypeUniformBuffer, 2),
		binding(vk.DescriptorTypeCombinedImageSampler, 1),
	}
	steps := []int{1, 2, -1, 1, -2}
	var sum int
	for i, delta := range steps {
		if err := a.Notify(layout, delta); err != nil {
			t.Fatalf("step %d (%+d): %v", i, delta, err)
		}
		sum += delta
		u := a.Usage()
		if got, want := u.Live[vk.DescriptorTypeUniformBuffer], uint32(2*sum); got != want {
			t.Errorf("step %d: uniform live = %d, want %d", i, got, want)
		}
		if got, want := u.Live[vk.DescriptorTypeCombinedImageSampler], uint32(sum); got != want {
			t.Errorf("step %d: sampler live = %d, want %d", i, got, want)
		}
		if u.Sets != uint32(sum) {
			t.Errorf("step %d: sets = %d, want %d", i, u.Sets, sum)
		}
		for typ, live := range u.Live {
			if live > u.Capacity[typ] {
				t.Errorf("step %d: %s live %d above capacity %d", i, descriptorTypeName(typ), live, u.Capacity[typ])
			}
		}
	}
}

func TestDescriptorAccountantExhaustion(t *testing.T) {
	a := NewDescriptorAccountant(DescriptorCapacity{UniformBuffers: 3, CombinedSamplers: 10}, 10)
	layout := []vk.DescriptorSetLayoutBinding{
		binding(vk.DescriptorTypeUniformBuffer, 2),
		binding(vk.DescriptorTypeCombinedImageSampler, 1),
	}
	if err := a.Notify(layout, 1); err != nil {
		t.Fatal(err)
	}
	before := a.Usage()

	err := a.Notify(layout, 1)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("err = %v, want ErrAllocation", err)
	}
	var exhausted *DescriptorExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %T, want *DescriptorExhaustedError", err)
	}
	if exhausted.Release {
		t.Error("allocation failure reported as release")
	}
	var found bool
	for _, d := range exhausted.Demands {
		if d.Type == vk.DescriptorTypeUniformBuffer {
			found = true
			if d.Requested != 2 || d.InUse != 2 || d.Capacity != 3 {
				t.Errorf("uniform demand = %+v", d)
			}
		}
	}
	if !found {
		t.Errorf("no uniform-buffer line in %+v", exhausted.Demands)
	}
	if !strings.Contains(err.Error(), "uniform-buffer requested 2 in use 2 capacity 3") {
		t.Errorf("message %q lacks the uniform diagnostic", err.Error())
	}

	after := a.Usage()
	for typ, live := range before.Live {
		if after.Live[typ] != live {
			t.Errorf("%s changed from %d to %d on failure", descriptorTypeName(typ), live, after.Live[typ])
		}
	}
	if after.Sets != before.Sets {
		t.Errorf("sets changed from %d to %d on failure", before.Sets, after.Sets)
	}
}

func TestDescriptorAccountantLimits(t *testing.T) {
	tests := []struct {
		name     string
		capacity DescriptorCapacity
		maxSets  uint32
		bindings []vk.DescriptorSetLayoutBinding
		delta    int
		release  bool
	}{
		{
			name:     "set limit",
			capacity: DescriptorCapacity{UniformBuffers: 100},
			maxSets:  2,
			bindings: []vk.DescriptorSetLayoutBinding{binding(vk.DescriptorTypeUniformBuffer, 1)},
			delta:    3,
		},
		{
			name:     "type without capacity",
			capacity: DescriptorCapacity{UniformBuffers: 100},
			maxSets:  10,
			bindings: []vk.DescriptorSetLayoutBinding{binding(vk.DescriptorTypeStorageImage, 1)},
			delta:    1,
		},
		{
			name:     "release below zero",
			capacity: DescriptorCapacity{UniformBuffers: 100},
			maxSets:  10,
			bindings: []vk.DescriptorSetLayoutBinding{binding(vk.DescriptorTypeUniformBuffer, 1)},
			delta:    -1,
			release:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewDescriptorAccountant(tt.capacity, tt.maxSets)
			err := a.Notify(tt.bindings, tt.delta)
			var exhausted *DescriptorExhaustedError
			if !errors.As(err, &exhausted) {
				t.Fatalf("err = %v, want *DescriptorExhaustedError", err)
			}
			if exhausted.Release != tt.release {
				t.Errorf("Release = %v, want %v", exhausted.Release, tt.release)
			}
			if u := a.Usage(); u.Sets != 0 {
				t.Errorf("sets = %d after failure", u.Sets)
			}
		})
	}
}

func TestDescriptorAccountantZeroDelta(t *testing.T) {
	a := NewDescriptorAccountant(DescriptorCapacity{}, 0)
	if err := a.Notify([]vk.DescriptorSetLayoutBinding{binding(vk.DescriptorTypeUniformBuffer, 5)}, 0); err != nil {
		t.Errorf("zero delta: %v", err)
	}
}

func TestDescriptorAccountantConcurrent(t *testing.T) {
	const workers, rounds = 8, 200
	a := NewDescriptorAccountant(DescriptorCapacity{UniformBuffers: 4}, 4)
	layout := []vk.DescriptorSetLayoutBinding{binding(vk.DescriptorTypeUniformBuffer, 1)}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if err := a.Notify(layout, 1); err != nil {
					if !errors.Is(err, ErrAllocation) {
						t.Errorf("unexpected error %v", err)
					}
					continue
				}
				if u := a.Usage(); u.Live[vk.DescriptorTypeUniformBuffer] > 4 {
					t.Errorf("live %d above capacity", u.Live[vk.DescriptorTypeUniformBuffer])
				}
				if err := a.Notify(layout, -1); err != nil {
					t.Errorf("release: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if u := a.Usage(); u.Sets != 0 || u.Live[vk.DescriptorTypeUniformBuffer] != 0 {
		t.Errorf("final usage %s, want empty", u)
	}
}

func TestDescriptorCapacityPoolSizes(t *testing.T) {
	sizes := DescriptorCapacity{UniformBuffers: 2, StorageBuffers: 5}.poolSizes()
	want := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 2},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 5},
	}
	if len(sizes) != len(want) {
		t.Fatalf("got %+v, want %+v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("size %d = %+v, want %+v", i, sizes[i], want[i])
		}
	}
}
