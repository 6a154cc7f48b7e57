package vkframe

import (
	"strings"
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

var testFormats = PassFormats{
	Swapchain: vk.FormatB8g8r8a8Unorm,
	Offscreen: vk.FormatR16g16b16a16Sfloat,
	Depth:     vk.FormatD32Sfloat,
}

func TestScenarioSpecs(t *testing.T) {
	specs := ScenarioSpecs(testFormats)
	tests := []struct {
		scenario Scenario
		name     string
		colors   int
		depth    int
	}{
		{ScenarioGraphic, "GRAPHIC", 2, 2},
		{ScenarioGUI, "GUI", 1, -1},
		{ScenarioShadow, "SHADOW", 0, 0},
		{ScenarioIBL, "IBL", 1, -1},
		{ScenarioBlur, "BLUR", 1, -1},
	}
	if len(specs) != len(Scenarios) {
		t.Fatalf("%d specs for %d scenarios", len(specs), len(Scenarios))
	}
	for _, tt := range tests {
		spec, ok := specs[tt.scenario]
		if !ok {
			t.Errorf("%s missing", tt.name)
			continue
		}
		if tt.scenario.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.scenario.String(), tt.name)
		}
		if got := spec.ColorCount(); got != tt.colors {
			t.Errorf("%s: %d color attachments, want %d", tt.name, got, tt.colors)
		}
		if got := spec.DepthIndex(); got != tt.depth {
			t.Errorf("%s: depth index %d, want %d", tt.name, got, tt.depth)
		}
	}
	if got := specs[ScenarioGUI].Attachments[0].Format; got != testFormats.Swapchain {
		t.Errorf("GUI renders to format %d, want the swapchain's", got)
	}
}

func TestCheckLayoutChain(t *testing.T) {
	specs := ScenarioSpecs(testFormats)
	if err := CheckLayoutChain(specs); err != nil {
		t.Fatalf("registry chain: %v", err)
	}

	broken := ScenarioSpecs(testFormats)
	blur := broken[ScenarioBlur]
	blur.Attachments = []AttachmentSpec{colorTarget(testFormats.Offscreen, vk.ImageLayoutColorAttachmentOptimal)}
	broken[ScenarioBlur] = blur
	err := CheckLayoutChain(broken)
	if err == nil {
		t.Fatal("broken BLUR final layout accepted")
	}
	if !strings.Contains(err.Error(), "BLUR attachment 0 final layout color-attachment") {
		t.Errorf("error %q does not name the BLUR attachment", err)
	}

	missing := ScenarioSpecs(testFormats)
	delete(missing, ScenarioShadow)
	if err := CheckLayoutChain(missing); err == nil || !strings.Contains(err.Error(), "SHADOW: no render pass") {
		t.Errorf("missing SHADOW: err = %v", err)
	}
}

func TestSubpassDependencies(t *testing.T) {
	for scenario, spec := range ScenarioSpecs(testFormats) {
		deps, err := subpassDependencies(spec)
		if err != nil {
			t.Errorf("%s: %v", scenario, err)
			continue
		}
		if len(deps) != 2 {
			t.Fatalf("%s: %d dependencies", scenario, len(deps))
		}
		if deps[0].SrcSubpass != ^uint32(0) {
			t.Errorf("%s: entry source %d is not the external subpass", scenario, deps[0].SrcSubpass)
		}
		if deps[0].SrcSubpass != vk.SubpassExternal || deps[0].DstSubpass != 0 {
			t.Errorf("%s: entry dependency %d -> %d", scenario, deps[0].SrcSubpass, deps[0].DstSubpass)
		}
		if deps[1].SrcSubpass != 0 || deps[1].DstSubpass != vk.SubpassExternal {
			t.Errorf("%s: exit dependency %d -> %d", scenario, deps[1].SrcSubpass, deps[1].DstSubpass)
		}
		for i, d := range deps {
			if d.SrcStageMask == 0 || d.DstStageMask == 0 {
				t.Errorf("%s: dependency %d has an empty stage mask", scenario, i)
			}
		}
	}

	gui, _ := subpassDependencies(ScenarioSpecs(testFormats)[ScenarioGUI])
	want := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	if gui[0].DstStageMask&want == 0 {
		t.Errorf("GUI entry does not wait at color output: %#x", gui[0].DstStageMask)
	}
	if gui[1].DstStageMask != vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit) {
		t.Errorf("GUI exit dst stage %#x, want bottom of pipe", gui[1].DstStageMask)
	}
}

func TestSubpassDependenciesRejectsUnknownLayout(t *testing.T) {
	spec := RenderPassSpec{Scenario: ScenarioIBL, Attachments: []AttachmentSpec{
		colorTarget(testFormats.Offscreen, vk.ImageLayout(999)),
	}}
	if _, err := subpassDependencies(spec); err == nil {
		t.Error("unknown final layout accepted")
	}
}

func TestRenderPassEndAppliesFinalLayouts(t *testing.T) {
	spec := ScenarioSpecs(testFormats)[ScenarioGraphic]
	pass := &RenderPass{spec: spec}
	images := []*Image{
		{layout: vk.ImageLayoutUndefined},
		{layout: vk.ImageLayoutUndefined},
		{layout: vk.ImageLayoutUndefined},
	}
	pass.applyFinalLayouts(&Framebuffer{images: images})
	for i, img := range images {
		if img.Layout() != spec.Attachments[i].Final {
			t.Errorf("attachment %d layout %s, want %s", i, layoutName(img.Layout()), layoutName(spec.Attachments[i].Final))
		}
	}
}

func TestClearValues(t *testing.T) {
	pass := &RenderPass{spec: ScenarioSpecs(testFormats)[ScenarioGraphic]}
	if got := len(pass.ClearValues()); got != 3 {
		t.Errorf("%d clear values, want 3", got)
	}
}
