package model

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Device is the hardware a classifier runs on.
type Device string

const (
	// DeviceAuto prefers an accelerator and falls back to the CPU.
	DeviceAuto   Device = "auto"
	DeviceCPU    Device = "cpu"
	DeviceCUDA   Device = "cuda"
	DeviceCoreML Device = "coreml"
)

// ParseDevice validates a device name.
func ParseDevice(s string) (Device, error) {
	switch d := Device(s); d {
	case "":
		return DeviceAuto, nil
	case DeviceAuto, DeviceCPU, DeviceCUDA, DeviceCoreML:
		return d, nil
	default:
		return "", errors.Wrapf(ErrUnsupported, "unknown device %q", s)
	}
}

// candidates lists the devices to try, in order.
func (d Device) candidates() []Device {
	if d == DeviceAuto {
		return []Device{DeviceCUDA, DeviceCPU}
	}
	return []Device{d}
}

// sessionOptions builds ONNX Runtime session options with the execution
// provider for d appended. The caller destroys the options.
func sessionOptions(d Device) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}

	switch d {
	case DeviceCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "error configuring CUDA")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "error enabling CUDA")
		}
	case DeviceCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "error enabling CoreML")
		}
	case DeviceCPU:
	default:
		options.Destroy()
		return nil, errors.Wrapf(ErrUnsupported, "device %q", d)
	}
	return options, nil
}
