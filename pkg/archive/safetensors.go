package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
)

// maxSafetensorsHeader bounds the header size we are willing to parse.
const maxSafetensorsHeader = 100 * 1024 * 1024

// SafetensorsHeader is the parsed JSON header of a safetensors weight file.
//
// Safetensors layout:
//
//	[8 bytes: header length (uint64, little-endian)]
//	[N bytes: JSON header]
//	[remaining: tensor data]
type SafetensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// TensorInfo describes a single tensor entry in the header.
type TensorInfo struct {
	Dtype string  `json:"dtype"`
	Shape []int64 `json:"shape"`
}

// ParseSafetensorsHeader reads just the header of a safetensors file, which
// keeps validation cheap for multi-gigabyte weight files.
func ParseSafetensorsHeader(path string) (*SafetensorsHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var headerLen uint64
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen > maxSafetensorsHeader {
		return nil, fmt.Errorf("header length %d exceeds limit", headerLen)
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	header := &SafetensorsHeader{Tensors: make(map[string]TensorInfo, len(entries))}
	for name, value := range entries {
		if name == "__metadata__" {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
			continue
		}
		var tensor TensorInfo
		if err := json.Unmarshal(value, &tensor); err != nil {
			return nil, fmt.Errorf("parse tensor %q: %w", name, err)
		}
		header.Tensors[name] = tensor
	}
	return header, nil
}

// Parameters sums the element counts of all tensors.
func (h *SafetensorsHeader) Parameters() int64 {
	var total int64
	for _, tensor := range h.Tensors {
		count := int64(1)
		for _, dim := range tensor.Shape {
			count *= dim
		}
		total += count
	}
	return total
}

// Quantization returns the common tensor dtype, "mixed" when dtypes differ,
// or "unknown" when none are recorded.
func (h *SafetensorsHeader) Quantization() string {
	dtypes := make(map[string]struct{})
	for _, tensor := range h.Tensors {
		if tensor.Dtype != "" {
			dtypes[tensor.Dtype] = struct{}{}
		}
	}
	switch len(dtypes) {
	case 0:
		return "unknown"
	case 1:
		for dtype := range dtypes {
			return dtype
		}
	}
	return "mixed"
}

// formatParameters renders a parameter count as "361.82 M" / "6.74 B".
func formatParameters(params int64) string {
	return units.CustomSize("%.2f%s", float64(params), 1000.0, []string{"", " K", " M", " B", " T"})
}
