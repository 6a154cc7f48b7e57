package vkframe

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

func TestNewError(t *testing.T) {
	if err := NewError(vk.Success); err != nil {
		t.Fatalf("success: %v", err)
	}
	err := NewError(vk.ErrorDeviceLost)
	if err == nil || !strings.Contains(err.Error(), "vulkan error") {
		t.Errorf("device lost: %v", err)
	}
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		creation bool
		alloc    bool
		stale    bool
	}{
		{"create rejected", creationError(vk.ErrorInitializationFailed, "create %s", "thing"), true, false, false},
		{"out of device memory", creationError(vk.ErrorOutOfDeviceMemory, "create buffer"), true, true, false},
		{"out of host memory", creationError(vk.ErrorOutOfHostMemory, "create image"), true, true, false},
		{"pool exhausted", allocationError("pool of %d exhausted", 4), false, true, false},
		{"out of date", staleError(vk.ErrorOutOfDate, "acquire"), false, false, true},
	}
	for _, tt := range tests {
		if got := errors.Is(tt.err, ErrResourceCreation); got != tt.creation {
			t.Errorf("%s: creation = %v", tt.name, got)
		}
		if got := errors.Is(tt.err, ErrAllocation); got != tt.alloc {
			t.Errorf("%s: allocation = %v", tt.name, got)
		}
		if got := IsStale(tt.err); got != tt.stale {
			t.Errorf("%s: stale = %v", tt.name, got)
		}
	}
	if creationError(vk.Success, "nothing") != nil {
		t.Error("success wrapped into an error")
	}
	if !IsStale(errors.Wrap(staleError(vk.Suboptimal, "present"), "frame 3")) {
		t.Error("wrapped stale error lost its mark")
	}
}

func TestCheckErr(t *testing.T) {
	sentinel := errors.New("boom")
	tests := []struct {
		name  string
		panic interface{}
		want  string
	}{
		{"error value", sentinel, "boom"},
		{"string value", "bad state", "recovered panic: bad state"},
	}
	for _, tt := range tests {
		err := func() (err error) {
			defer checkErr(&err)
			panic(tt.panic)
		}()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want)
		}
	}
	err := func() (err error) {
		defer checkErr(&err)
		panic(sentinel)
	}()
	if !errors.Is(err, sentinel) {
		t.Error("recovered error lost its identity")
	}
	if err := func() (err error) {
		defer checkErr(&err)
		return nil
	}(); err != nil {
		t.Errorf("no panic: %v", err)
	}
}
