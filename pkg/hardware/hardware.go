package hardware

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"

	"github.com/nutanix/nai-llm/pkg/logging"
)

// GPU describes a single detected accelerator.
type GPU struct {
	Vendor  string
	Product string
}

// Info is a summary of the accelerators and host resources available for the
// serving runtime.
type Info struct {
	GPUs     []GPU
	TotalRAM uint64
	OS       string
}

// MismatchError reports a GPU request that exceeds the detected hardware. It
// is returned before the serving process is started.
type MismatchError struct {
	Requested int
	Detected  int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("requested %d GPUs but only %d detected", e.Requested, e.Detected)
}

// Detect probes the host for NVIDIA accelerators and basic host facts. Probe
// failures degrade to an empty GPU list rather than an error, since CPU-only
// operation is always possible.
func Detect(log logging.Logger) Info {
	info := Info{}

	if gpus, err := ghw.GPU(); err != nil {
		log.Warnf("Could not probe GPUs: %v", err)
	} else {
		for _, card := range gpus.GraphicsCards {
			if card.DeviceInfo == nil || card.DeviceInfo.Vendor == nil {
				continue
			}
			if strings.ToLower(card.DeviceInfo.Vendor.Name) != "nvidia" {
				continue
			}
			product := ""
			if card.DeviceInfo.Product != nil {
				product = card.DeviceInfo.Product.Name
			}
			info.GPUs = append(info.GPUs, GPU{Vendor: "nvidia", Product: product})
		}
	}

	host, err := sysinfo.Host()
	if err != nil {
		log.Warnf("Could not read host info: %v", err)
		return info
	}
	hostInfo := host.Info()
	if hostInfo.OS != nil {
		info.OS = hostInfo.OS.Name
	}
	if mem, err := host.Memory(); err != nil {
		log.Warnf("Could not read host memory: %v", err)
	} else {
		info.TotalRAM = mem.Total
	}
	return info
}

// EnsureGPUs validates a requested GPU count against the detected hardware.
// A request of zero always passes (CPU-only execution).
func EnsureGPUs(info Info, requested int) error {
	if requested < 0 {
		return fmt.Errorf("invalid GPU count %d", requested)
	}
	if requested > len(info.GPUs) {
		return &MismatchError{Requested: requested, Detected: len(info.GPUs)}
	}
	return nil
}

// Describe logs a short summary of the detected hardware.
func Describe(log logging.Logger, info Info) {
	if len(info.GPUs) > 0 {
		log.Infof("Running on %d NVIDIA GPU(s)", len(info.GPUs))
		for _, gpu := range info.GPUs {
			log.Infof("  GPU: %s", gpu.Product)
		}
	} else {
		log.Infoln("No NVIDIA GPU detected, running on CPU")
	}
	if info.TotalRAM > 0 {
		log.Infof("Host RAM: %s", units.BytesSize(float64(info.TotalRAM)))
	}
}
