package vkframe

import (
	"os"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

const spirvMagic = 0x07230203

// checkSPIRV rejects code that is not a whole number of little endian SPIR-V
// words starting with the magic number.
func checkSPIRV(code []byte) error {
	if len(code) < 4 || len(code)%4 != 0 {
		return errors.Newf("SPIR-V code of %d bytes is not a whole number of words", len(code))
	}
	magic := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	if magic != spirvMagic {
		return errors.Newf("bad SPIR-V magic %#08x", magic)
	}
	return nil
}

// ShaderModule wraps compiled SPIR-V for pipeline creation by callers.
type ShaderModule struct {
	ctx    *DeviceContext
	handle vk.ShaderModule
}

func NewShaderModule(ctx *DeviceContext, code []byte) (*ShaderModule, error) {
	if err := checkSPIRV(code); err != nil {
		return nil, errors.Mark(err, ErrResourceCreation)
	}
	var handle vk.ShaderModule
	ret := vk.CreateShaderModule(ctx.Device(), &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}, nil, &handle)
	if err := creationError(ret, "create shader module"); err != nil {
		return nil, err
	}
	return &ShaderModule{ctx: ctx.Retain(), handle: handle}, nil
}

// LoadShaderModule reads a .spv file and creates its module.
func LoadShaderModule(ctx *DeviceContext, path string) (*ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", path)
	}
	m, err := NewShaderModule(ctx, code)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	return m, nil
}

func (m *ShaderModule) VK() vk.ShaderModule { return m.handle }

func (m *ShaderModule) Destroy() {
	if m.handle == vk.NullShaderModule {
		return
	}
	vk.DestroyShaderModule(m.ctx.Device(), m.handle, nil)
	m.handle = vk.NullShaderModule
	m.ctx.Release()
}
