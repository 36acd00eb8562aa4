package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DeviceProbe reports which accelerators are usable on this machine.
type DeviceProbe struct {
	OpenVINOGPU func() bool
	XPU         func() bool
}

// SystemProbe inspects the host. Intel GPUs show up as DRM render nodes;
// the OpenVINO and oneAPI runtimes announce themselves through env vars.
func SystemProbe() DeviceProbe {
	renderNode := func() bool {
		matches, _ := filepath.Glob("/dev/dri/renderD*")
		return len(matches) > 0
	}
	return DeviceProbe{
		OpenVINOGPU: func() bool {
			return os.Getenv("INTEL_OPENVINO_DIR") != "" && renderNode()
		},
		XPU: func() bool {
			return os.Getenv("ONEAPI_ROOT") != "" && renderNode()
		},
	}
}

// DetectDevice picks a compute backend for the embedder and scorer.
// An explicit preference is honoured when available, otherwise the other
// accelerator is tried before falling back to cpu.
func (p DeviceProbe) DetectDevice(preference string) string {
	has := func(f func() bool) bool { return f != nil && f() }

	switch strings.ToLower(preference) {
	case "cpu":
		return "cpu"
	case "gpu_xpu", "xpu":
		if has(p.XPU) {
			return "gpu_xpu"
		}
		if has(p.OpenVINOGPU) {
			return "gpu_openvino"
		}
		return "cpu"
	case "gpu_openvino", "openvino":
		if has(p.OpenVINOGPU) {
			return "gpu_openvino"
		}
		if has(p.XPU) {
			return "gpu_xpu"
		}
		return "cpu"
	}

	switch {
	case has(p.XPU):
		return "gpu_xpu"
	case has(p.OpenVINOGPU):
		return "gpu_openvino"
	default:
		return "cpu"
	}
}
