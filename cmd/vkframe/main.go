package main

import (
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/andewx/vkframe"
	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
	"golang.org/x/exp/slog"
)

const (
	width  = 500
	height = 500
)

func init() {
	runtime.LockOSThread()
}

// glfwDisplay presents to a glfw window.
type glfwDisplay struct {
	window *glfw.Window
}

func (d *glfwDisplay) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ptr, err := d.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "glfw window surface")
	}
	return vk.SurfaceFromPointer(ptr), nil
}

func (d *glfwDisplay) FramebufferSize() (int, int) {
	return d.window.GetFramebufferSize()
}

func (d *glfwDisplay) RequiredInstanceExtensions() []string {
	return d.window.GetRequiredInstanceExtensions()
}

func main() {
	validate := flag.Bool("validate", false, "enable validation layers")
	frames := flag.Int("frames", 2, "frames in flight")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	vkframe.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	usage := vkframe.NewUsage("vkframe")
	usage.Ints[vkframe.UsageFramesInFlight] = *frames
	usage.Bools[vkframe.UsageValidation] = *validate
	cfg, err := vkframe.ConfigFromUsage(usage)
	vkframe.Fatal(err)

	vkframe.Fatal(glfw.Init())
	defer glfw.Terminate()
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.Visible, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	vkframe.Fatal(vk.Init(), glfw.Terminate)

	window, err := glfw.CreateWindow(width, height, cfg.AppName, nil, nil)
	vkframe.Fatal(err, glfw.Terminate)

	engine, err := vkframe.NewEngine(cfg, &glfwDisplay{window: window})
	vkframe.Fatal(err, window.Destroy, glfw.Terminate)
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, _, _ int) {
		engine.Resize()
	})

	var view, projection, model, mvp lin.Mat4x4
	view.LookAt(&lin.Vec3{0, 3, 5}, &lin.Vec3{0, 0, 0}, &lin.Vec3{0, 1, 0})
	start := time.Now()

	for !window.ShouldClose() {
		glfw.PollEvents()
		err := engine.Frame(func(f *vkframe.Frame) error {
			extent := engine.Swapchain().Extent()
			var gl lin.Mat4x4
			gl.Perspective(lin.DegreesToRadians(45), float32(extent.Width)/float32(extent.Height), 0.1, 100)
			vkframe.VulkanProjectionMat(&projection, &gl)
			model.Identity()
			model.Rotate(&model, 0, 1, 0, float32(time.Since(start).Seconds()))
			mvp.Mult(&projection, &view)
			mvp.Mult(&mvp, &model)
			if err := engine.Uniforms().WriteMatrix(f, &mvp); err != nil {
				return err
			}
			return engine.RecordDefault(f)
		})
		vkframe.Fatal(err, engine.Destroy, window.Destroy, glfw.Terminate)
	}
	engine.Destroy()
	window.Destroy()
}
