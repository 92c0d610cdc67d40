package l3frames

import "fmt"

// FieldType is the type tag of a frame field.
type FieldType int

const (
	FieldUnknown FieldType = iota
	FieldMatrix            // row-major float64 matrix, "mat"
	FieldInt32             // "i32"
	FieldFloat64           // "f64"
	FieldImage             // "img"; recognised but not decoded
)

var fieldTypeTags = map[string]FieldType{
	"mat": FieldMatrix,
	"i32": FieldInt32,
	"f64": FieldFloat64,
	"img": FieldImage,
}

// ParseFieldType maps a header type tag to a FieldType. Unrecognised tags
// return FieldUnknown.
func ParseFieldType(tag string) FieldType {
	if t, ok := fieldTypeTags[tag]; ok {
		return t
	}
	return FieldUnknown
}

func (t FieldType) String() string {
	switch t {
	case FieldMatrix:
		return "mat"
	case FieldInt32:
		return "i32"
	case FieldFloat64:
		return "f64"
	case FieldImage:
		return "img"
	default:
		return "unknown"
	}
}

// FieldDescriptor locates one field inside a frame's data buffer.
type FieldDescriptor struct {
	Name   string
	Type   FieldType
	Tag    string // type tag as sent, kept for diagnostics on unknown types
	Offset int
	Length int
	Rows   int // mat only ("height")
	Cols   int // mat only ("width")
}

func (d FieldDescriptor) String() string {
	if d.Type == FieldMatrix {
		return fmt.Sprintf("%s(%s %dx%d @%d+%d)", d.Name, d.Tag, d.Rows, d.Cols, d.Offset, d.Length)
	}
	return fmt.Sprintf("%s(%s @%d+%d)", d.Name, d.Tag, d.Offset, d.Length)
}

// span returns the byte range of the field within a buffer of size n.
func (d FieldDescriptor) span(n int) (start, end int, err error) {
	if d.Offset < 0 || d.Length < 0 || d.Offset > n || d.Length > n-d.Offset {
		return 0, 0, fmt.Errorf("%w: %s exceeds %d byte data buffer", ErrFieldOutOfRange, d, n)
	}
	return d.Offset, d.Offset + d.Length, nil
}
