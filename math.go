package vkframe

import (
	"unsafe"

	lin "github.com/xlab/linmath"
)

// MatrixSize is the byte size of a 4x4 float32 matrix as laid out in a
// std140 uniform block.
const MatrixSize = uint64(unsafe.Sizeof(lin.Mat4x4{}))

// vulkanClip maps GL clip space to Vulkan's: Y points down and depth runs
// over [0, 1] instead of [-1, 1]. Columns are stored first.
var vulkanClip = lin.Mat4x4{
	{1, 0, 0, 0},
	{0, -1, 0, 0},
	{0, 0, 0.5, 0},
	{0, 0, 0.5, 1},
}

// VulkanProjectionMat converts an OpenGL style projection matrix to Vulkan style projection matrix.
// linmath outputs projection matrices in GL style clipSpace, m becomes the
// clip fixup applied after proj.
func VulkanProjectionMat(m *lin.Mat4x4, proj *lin.Mat4x4) {
	clip := vulkanClip
	m.Mult(&clip, proj)
}

// matrixBytes copies m column by column in host byte order.
func matrixBytes(m *lin.Mat4x4) []byte {
	out := make([]byte, MatrixSize)
	copy(out, (*[MatrixSize]byte)(unsafe.Pointer(m))[:])
	return out
}
