package checkpoint

import "encoding/binary"
import "math"

import "github.com/x448/float16"

// element sizes of the safetensors dtypes, in bytes
var dtypeSize = map[string]int{
	"BOOL":    1,
	"U8":      1,
	"I8":      1,
	"F8_E4M3": 1,
	"F8_E5M2": 1,
	"U16":     2,
	"I16":     2,
	"F16":     2,
	"BF16":    2,
	"U32":     4,
	"I32":     4,
	"F32":     4,
	"U64":     8,
	"I64":     8,
	"F64":     8,
}

// IsFloat reports whether tensors of dtype are decoded to float32 and can be edited.
func IsFloat(dtype string) bool {
	switch dtype {
	case "F32", "F16", "BF16":
		return true
	}
	return false
}

func decode(dtype string, raw []byte, out []float32) {
	switch dtype {
	case "F32":
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "F16":
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case "BF16":
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	}
}

func encode(dtype string, in []float32, raw []byte) {
	switch dtype {
	case "F32":
		for i, v := range in {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
		}
	case "F16":
		for i, v := range in {
			binary.LittleEndian.PutUint16(raw[i*2:], float16.Fromfloat32(v).Bits())
		}
	case "BF16":
		for i, v := range in {
			binary.LittleEndian.PutUint16(raw[i*2:], bfloat16(v))
		}
	}
}

// bfloat16 rounds v to the nearest bfloat16, ties to even.
func bfloat16(v float32) uint16 {
	b := math.Float32bits(v)
	if v != v {
		return uint16(b>>16) | 0x40 // keep NaN quiet
	}
	b += 0x7fff + (b>>16)&1
	return uint16(b >> 16)
}
