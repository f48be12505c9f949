package tensor

import "fmt"

// DataFormat tags the order of semantic axes within a tensor's linear buffer.
type DataFormat int

// Supported layouts. None is used for tensors that are not 4-D.
const (
	None DataFormat = iota
	NHWC
	NCHW
	HWIO
	OIHW
	IOHW
)

// Axis names a semantic axis of an activation (N, H, W, C) or a filter (H, W, I, O).
type Axis byte

// Axes understood by DataFormat.Index.
const (
	AxisN Axis = 'N'
	AxisC Axis = 'C'
	AxisH Axis = 'H'
	AxisW Axis = 'W'
	AxisI Axis = 'I'
	AxisO Axis = 'O'
)

var formatNames = [...]string{
	None: "NONE",
	NHWC: "NHWC",
	NCHW: "NCHW",
	HWIO: "HWIO",
	OIHW: "OIHW",
	IOHW: "IOHW",
}

// String returns the layout name, e.g. "NHWC".
func (f DataFormat) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("DataFormat(%d)", int(f))
	}
	return formatNames[f]
}

// Index returns the position of axis a in the layout, or -1 if the layout has no such axis.
func (f DataFormat) Index(a Axis) int {
	if f == None {
		return -1
	}
	name := f.String()
	for i := 0; i < len(name); i++ {
		if Axis(name[i]) == a {
			return i
		}
	}
	return -1
}

// ParseDataFormat parses a layout name such as "NCHW".
func ParseDataFormat(s string) (DataFormat, error) {
	for f, name := range formatNames {
		if name == s {
			return DataFormat(f), nil
		}
	}
	return None, fmt.Errorf("unknown data format %q", s)
}
