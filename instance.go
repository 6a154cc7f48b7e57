package vkframe

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// portabilityEnumeration is VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR.
const portabilityEnumeration = 0x00000001

type instanceInfo struct {
	handle vk.Instance
	layers []string
	debug  vk.DebugReportCallback
}

func newInstance(cfg Config, display Display) (*instanceInfo, error) {
	wanted := []string{}
	if display != nil {
		wanted = append(wanted, display.RequiredInstanceExtensions()...)
	}
	if len(cfg.ValidationLayers) > 0 {
		wanted = append(wanted, "VK_EXT_debug_report")
	}
	if runtime.GOOS == "darwin" {
		wanted = append(wanted, "VK_KHR_portability_enumeration")
	}

	actual, err := InstanceExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}
	extensions, missing := checkExisting(actual, wanted)
	if len(missing) > 0 {
		Logger().Warn("vulkan: missing instance extensions", "missing", missing)
	}

	var layers []string
	if len(cfg.ValidationLayers) > 0 {
		available, err := ValidationLayers()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate validation layers")
		}
		var missingLayers []string
		layers, missingLayers = checkExisting(available, cfg.ValidationLayers)
		if len(missingLayers) > 0 {
			Logger().Warn("vulkan: missing validation layers", "missing", missingLayers)
		}
	}

	var flags vk.InstanceCreateFlags
	if runtime.GOOS == "darwin" {
		flags = vk.InstanceCreateFlags(portabilityEnumeration)
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(cfg.AppName),
			PEngineName:        "vkframe\x00",
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
		Flags:                   flags,
	}, nil, &instance)
	if err := creationError(ret, "create instance"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.Mark(errors.Wrap(err, "init instance"), ErrResourceCreation)
	}
	info := &instanceInfo{handle: instance, layers: layers}

	if len(layers) > 0 {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}, nil, &info.debug)
		if isError(ret) {
			Logger().Warn("vulkan: debug report callback unavailable", "err", NewError(ret))
		} else {
			Logger().Info("vulkan: debug report callback enabled")
		}
	}
	return info, nil
}

func (i *instanceInfo) destroy() {
	if i.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.handle, i.debug, nil)
		i.debug = vk.NullDebugReportCallback
	}
	if i.handle != nil {
		vk.DestroyInstance(i.handle, nil)
		i.handle = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	log := Logger().With("layer", pLayerPrefix, "code", messageCode)
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		log.Warn(pMessage)
	default:
		log.Debug(pMessage)
	}
	return vk.Bool32(vk.False)
}
