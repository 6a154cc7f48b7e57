package vkframe

import (
	"reflect"
	"testing"
)

func TestCheckExisting(t *testing.T) {
	actual := []string{"VK_KHR_surface\x00", "VK_KHR_swapchain", "VK_EXT_debug_report"}
	wanted := []string{"VK_KHR_swapchain", "VK_KHR_surface", "VK_KHR_swapchain\x00", "VK_KHR_portability_subset"}

	existing, missing := checkExisting(actual, wanted)
	if want := []string{"VK_KHR_swapchain\x00", "VK_KHR_surface\x00"}; !reflect.DeepEqual(existing, want) {
		t.Errorf("existing = %q, want %q", existing, want)
	}
	if want := []string{"VK_KHR_portability_subset"}; !reflect.DeepEqual(missing, want) {
		t.Errorf("missing = %q, want %q", missing, want)
	}

	existing, missing = checkExisting(nil, nil)
	if existing != nil || missing != nil {
		t.Errorf("empty lists: %q %q", existing, missing)
	}
}

func TestSafeStrings(t *testing.T) {
	got := safeStrings([]string{"a", "b\x00"})
	if want := []string{"a\x00", "b\x00"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if trimNull("x\x00\x00") != "x" {
		t.Error("trimNull kept a terminator")
	}
}
