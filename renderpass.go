package vkframe

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Scenario names a rendering scenario with its own render pass.
type Scenario int

const (
	ScenarioGraphic Scenario = iota
	ScenarioGUI
	ScenarioShadow
	ScenarioIBL
	ScenarioBlur
)

// Scenarios lists every scenario in build order.
var Scenarios = []Scenario{ScenarioGraphic, ScenarioGUI, ScenarioShadow, ScenarioIBL, ScenarioBlur}

func (s Scenario) String() string {
	switch s {
	case ScenarioGraphic:
		return "GRAPHIC"
	case ScenarioGUI:
		return "GUI"
	case ScenarioShadow:
		return "SHADOW"
	case ScenarioIBL:
		return "IBL"
	case ScenarioBlur:
		return "BLUR"
	}
	return fmt.Sprintf("Scenario(%d)", int(s))
}

// AttachmentSpec declares one attachment of a single-subpass render pass.
type AttachmentSpec struct {
	Format  vk.Format
	LoadOp  vk.AttachmentLoadOp
	StoreOp vk.AttachmentStoreOp
	Initial vk.ImageLayout
	Final   vk.ImageLayout
	Depth   bool
}

// subpassLayout is the layout the attachment has while the subpass runs.
func (a AttachmentSpec) subpassLayout() vk.ImageLayout {
	if a.Depth {
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	return vk.ImageLayoutColorAttachmentOptimal
}

func (a AttachmentSpec) description() vk.AttachmentDescription {
	return vk.AttachmentDescription{
		Format:         a.Format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         a.LoadOp,
		StoreOp:        a.StoreOp,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  a.Initial,
		FinalLayout:    a.Final,
	}
}

// RenderPassSpec declares the attachments of a scenario. Color attachments
// come first, at most one depth attachment last.
type RenderPassSpec struct {
	Scenario    Scenario
	Attachments []AttachmentSpec
}

func (s RenderPassSpec) ColorCount() int {
	n := 0
	for _, a := range s.Attachments {
		if !a.Depth {
			n++
		}
	}
	return n
}

// DepthIndex is the index of the depth attachment or -1.
func (s RenderPassSpec) DepthIndex() int {
	for i, a := range s.Attachments {
		if a.Depth {
			return i
		}
	}
	return -1
}

// PassFormats are the formats the scenario specs are built from.
type PassFormats struct {
	Swapchain vk.Format
	Offscreen vk.Format
	Depth     vk.Format
}

func colorTarget(format vk.Format, final vk.ImageLayout) AttachmentSpec {
	return AttachmentSpec{
		Format:  format,
		LoadOp:  vk.AttachmentLoadOpClear,
		StoreOp: vk.AttachmentStoreOpStore,
		Initial: vk.ImageLayoutUndefined,
		Final:   final,
	}
}

// ScenarioSpecs returns the render pass declaration of every scenario.
func ScenarioSpecs(f PassFormats) map[Scenario]RenderPassSpec {
	return map[Scenario]RenderPassSpec{
		ScenarioGraphic: {Scenario: ScenarioGraphic, Attachments: []AttachmentSpec{
			colorTarget(f.Offscreen, vk.ImageLayoutGeneral),
			colorTarget(f.Offscreen, vk.ImageLayoutGeneral),
			{
				Format:  f.Depth,
				LoadOp:  vk.AttachmentLoadOpClear,
				StoreOp: vk.AttachmentStoreOpDontCare,
				Initial: vk.ImageLayoutUndefined,
				Final:   vk.ImageLayoutDepthStencilAttachmentOptimal,
				Depth:   true,
			},
		}},
		ScenarioGUI: {Scenario: ScenarioGUI, Attachments: []AttachmentSpec{{
			Format:  f.Swapchain,
			LoadOp:  vk.AttachmentLoadOpLoad,
			StoreOp: vk.AttachmentStoreOpStore,
			Initial: vk.ImageLayoutGeneral,
			Final:   vk.ImageLayoutPresentSrc,
		}}},
		ScenarioShadow: {Scenario: ScenarioShadow, Attachments: []AttachmentSpec{{
			Format:  f.Depth,
			LoadOp:  vk.AttachmentLoadOpClear,
			StoreOp: vk.AttachmentStoreOpStore,
			Initial: vk.ImageLayoutUndefined,
			Final:   vk.ImageLayoutDepthStencilReadOnlyOptimal,
			Depth:   true,
		}}},
		ScenarioIBL: {Scenario: ScenarioIBL, Attachments: []AttachmentSpec{
			colorTarget(f.Offscreen, vk.ImageLayoutShaderReadOnlyOptimal),
		}},
		ScenarioBlur: {Scenario: ScenarioBlur, Attachments: []AttachmentSpec{
			colorTarget(f.Offscreen, vk.ImageLayoutShaderReadOnlyOptimal),
		}},
	}
}

// ChainEdge states the layout a consumer expects from one attachment of a
// scenario. Initial selects the attachment's initial layout instead of its
// final one, for passes that consume a previous stage's output.
type ChainEdge struct {
	Scenario   Scenario
	Attachment int
	Initial    bool
	Consumer   string
	Want       vk.ImageLayout
}

// LayoutChain lists how scenario outputs feed the next stages of a frame.
var LayoutChain = []ChainEdge{
	{Scenario: ScenarioGraphic, Attachment: 0, Consumer: "postprocess", Want: vk.ImageLayoutGeneral},
	{Scenario: ScenarioGraphic, Attachment: 1, Consumer: "postprocess", Want: vk.ImageLayoutGeneral},
	{Scenario: ScenarioBlur, Attachment: 0, Consumer: "postprocess", Want: vk.ImageLayoutShaderReadOnlyOptimal},
	{Scenario: ScenarioGUI, Attachment: 0, Initial: true, Consumer: "postprocess output", Want: vk.ImageLayoutGeneral},
	{Scenario: ScenarioGUI, Attachment: 0, Consumer: "presentation", Want: vk.ImageLayoutPresentSrc},
	{Scenario: ScenarioShadow, Attachment: 0, Consumer: "GRAPHIC sampling", Want: vk.ImageLayoutDepthStencilReadOnlyOptimal},
	{Scenario: ScenarioIBL, Attachment: 0, Consumer: "GRAPHIC sampling", Want: vk.ImageLayoutShaderReadOnlyOptimal},
}

// CheckLayoutChain verifies every LayoutChain edge against specs.
func CheckLayoutChain(specs map[Scenario]RenderPassSpec) error {
	var problems []string
	for _, e := range LayoutChain {
		spec, ok := specs[e.Scenario]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: no render pass", e.Scenario))
			continue
		}
		if e.Attachment >= len(spec.Attachments) {
			problems = append(problems, fmt.Sprintf("%s: no attachment %d", e.Scenario, e.Attachment))
			continue
		}
		a := spec.Attachments[e.Attachment]
		got, which := a.Final, "final"
		if e.Initial {
			got, which = a.Initial, "initial"
		}
		if got != e.Want {
			problems = append(problems, fmt.Sprintf("%s attachment %d %s layout %s, %s expects %s",
				e.Scenario, e.Attachment, which, layoutName(got), e.Consumer, layoutName(e.Want)))
		}
	}
	if len(problems) > 0 {
		return errors.Newf("render pass layout chain broken: %s", strings.Join(problems, "; "))
	}
	return nil
}

// subpassDependencies derives the external dependencies of the single
// subpass from the layout barrier tables.
func subpassDependencies(spec RenderPassSpec) ([]vk.SubpassDependency, error) {
	var in, out BarrierMask
	for _, a := range spec.Attachments {
		enter, err := BarrierMasks(a.Initial, a.subpassLayout())
		if err != nil {
			return nil, errors.Wrapf(err, "%s attachment entry", spec.Scenario)
		}
		leave, err := BarrierMasks(a.subpassLayout(), a.Final)
		if err != nil {
			return nil, errors.Wrapf(err, "%s attachment exit", spec.Scenario)
		}
		in = mergeMasks(in, enter)
		out = mergeMasks(out, leave)
	}
	return []vk.SubpassDependency{
		{
			SrcSubpass:      vk.SubpassExternal,
			DstSubpass:      0,
			SrcStageMask:    in.SrcStage,
			DstStageMask:    in.DstStage,
			SrcAccessMask:   in.SrcAccess,
			DstAccessMask:   in.DstAccess,
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
		{
			SrcSubpass:      0,
			DstSubpass:      vk.SubpassExternal,
			SrcStageMask:    out.SrcStage,
			DstStageMask:    out.DstStage,
			SrcAccessMask:   out.SrcAccess,
			DstAccessMask:   out.DstAccess,
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
	}, nil
}

func mergeMasks(a, b BarrierMask) BarrierMask {
	return BarrierMask{
		SrcAccess: a.SrcAccess | b.SrcAccess,
		SrcStage:  a.SrcStage | b.SrcStage,
		DstAccess: a.DstAccess | b.DstAccess,
		DstStage:  a.DstStage | b.DstStage,
	}
}

// RenderPass is a compiled scenario render pass with one subpass.
type RenderPass struct {
	ctx    *DeviceContext
	handle vk.RenderPass
	spec   RenderPassSpec
}

func NewRenderPass(ctx *DeviceContext, spec RenderPassSpec) (*RenderPass, error) {
	descs := make([]vk.AttachmentDescription, len(spec.Attachments))
	var colors []vk.AttachmentReference
	var depth *vk.AttachmentReference
	for i, a := range spec.Attachments {
		descs[i] = a.description()
		ref := vk.AttachmentReference{Attachment: uint32(i), Layout: a.subpassLayout()}
		if a.Depth {
			depth = &ref
		} else {
			colors = append(colors, ref)
		}
	}
	deps, err := subpassDependencies(spec)
	if err != nil {
		return nil, err
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colors)),
		PColorAttachments:       colors,
		PDepthStencilAttachment: depth,
	}
	var handle vk.RenderPass
	ret := vk.CreateRenderPass(ctx.Device(), &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descs)),
		PAttachments:    descs,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}, nil, &handle)
	if err := creationError(ret, "create %s render pass", spec.Scenario); err != nil {
		return nil, err
	}
	return &RenderPass{ctx: ctx.Retain(), handle: handle, spec: spec}, nil
}

func (p *RenderPass) VK() vk.RenderPass    { return p.handle }
func (p *RenderPass) Spec() RenderPassSpec { return p.spec }

// ClearValues returns opaque black for colors and 1.0 for depth.
func (p *RenderPass) ClearValues() []vk.ClearValue {
	out := make([]vk.ClearValue, len(p.spec.Attachments))
	for i, a := range p.spec.Attachments {
		if a.Depth {
			out[i] = vk.NewClearDepthStencil(1.0, 0)
		} else {
			out[i] = vk.NewClearValue([]float32{0, 0, 0, 1})
		}
	}
	return out
}

// Begin starts the pass on fb. contents selects inline recording or
// secondary command buffers.
func (p *RenderPass) Begin(cmd *CommandBuffer, fb *Framebuffer, contents vk.SubpassContents) {
	clears := p.ClearValues()
	vk.CmdBeginRenderPass(cmd.VK(), &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      p.handle,
		Framebuffer:     fb.handle,
		RenderArea:      vk.Rect2D{Extent: fb.extent},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, contents)
}

// End finishes the pass and records the final layouts on fb's images.
func (p *RenderPass) End(cmd *CommandBuffer, fb *Framebuffer) {
	vk.CmdEndRenderPass(cmd.VK())
	p.applyFinalLayouts(fb)
}

func (p *RenderPass) applyFinalLayouts(fb *Framebuffer) {
	for i, img := range fb.images {
		if i < len(p.spec.Attachments) {
			img.markLayout(p.spec.Attachments[i].Final)
		}
	}
}

func (p *RenderPass) Destroy() {
	if p.handle == vk.NullRenderPass {
		return
	}
	vk.DestroyRenderPass(p.ctx.Device(), p.handle, nil)
	p.handle = vk.NullRenderPass
	p.ctx.Release()
}

// RenderPassSet holds the compiled pass of every scenario.
type RenderPassSet struct {
	ctx    *DeviceContext
	passes map[Scenario]*RenderPass
}

// NewRenderPassSet checks the layout chain of the specs and compiles one pass
// per scenario.
func NewRenderPassSet(ctx *DeviceContext, formats PassFormats) (*RenderPassSet, error) {
	s := &RenderPassSet{ctx: ctx}
	if err := s.Rebuild(formats); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RenderPassSet) Get(scenario Scenario) *RenderPass {
	return s.passes[scenario]
}

// Rebuild recompiles every pass for new formats. The old passes are
// destroyed only once all new ones compiled.
func (s *RenderPassSet) Rebuild(formats PassFormats) error {
	specs := ScenarioSpecs(formats)
	if err := CheckLayoutChain(specs); err != nil {
		return err
	}
	passes := make(map[Scenario]*RenderPass, len(specs))
	for _, sc := range Scenarios {
		p, err := NewRenderPass(s.ctx, specs[sc])
		if err != nil {
			for _, built := range passes {
				built.Destroy()
			}
			return err
		}
		passes[sc] = p
	}
	s.Destroy()
	s.passes = passes
	Logger().Info("vulkan: render passes built", "count", len(passes))
	return nil
}

func (s *RenderPassSet) Destroy() {
	for _, p := range s.passes {
		p.Destroy()
	}
	s.passes = nil
}

// Framebuffer binds image views to a render pass. It keeps the images so the
// pass end can update their cached layouts.
type Framebuffer struct {
	ctx    *DeviceContext
	handle vk.Framebuffer
	images []*Image
	extent vk.Extent2D
}

func NewFramebuffer(pass *RenderPass, extent vk.Extent2D, views ...*ImageView) (*Framebuffer, error) {
	if len(views) != len(pass.spec.Attachments) {
		return nil, errors.Mark(errors.Newf("%s framebuffer needs %d attachments, got %d",
			pass.spec.Scenario, len(pass.spec.Attachments), len(views)), ErrResourceCreation)
	}
	handles := make([]vk.ImageView, len(views))
	images := make([]*Image, len(views))
	for i, v := range views {
		handles[i] = v.handle
		images[i] = v.image
	}
	var fb vk.Framebuffer
	ret := vk.CreateFramebuffer(pass.ctx.Device(), &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.handle,
		AttachmentCount: uint32(len(handles)),
		PAttachments:    handles,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}, nil, &fb)
	if err := creationError(ret, "create %s framebuffer", pass.spec.Scenario); err != nil {
		return nil, err
	}
	return &Framebuffer{ctx: pass.ctx.Retain(), handle: fb, images: images, extent: extent}, nil
}

func (f *Framebuffer) VK() vk.Framebuffer  { return f.handle }
func (f *Framebuffer) Extent() vk.Extent2D { return f.extent }
func (f *Framebuffer) Images() []*Image    { return f.images }

func (f *Framebuffer) Destroy() {
	if f.handle == vk.NullFramebuffer {
		return
	}
	vk.DestroyFramebuffer(f.ctx.Device(), f.handle, nil)
	f.handle = vk.NullFramebuffer
	f.ctx.Release()
}
