// DataType.go
package Govrt

import (
	"math"
	"strings"
)

// DataType 像元数据类型
type DataType int

const (
	TypeUnknown DataType = iota
	TypeByte
	TypeUInt16
	TypeInt16
	TypeUInt32
	TypeInt32
	TypeFloat32
	TypeFloat64
	TypeCInt16
	TypeCInt32
	TypeCFloat32
	TypeCFloat64
)

var dataTypeNames = map[DataType]string{
	TypeByte:     "Byte",
	TypeUInt16:   "UInt16",
	TypeInt16:    "Int16",
	TypeUInt32:   "UInt32",
	TypeInt32:    "Int32",
	TypeFloat32:  "Float32",
	TypeFloat64:  "Float64",
	TypeCInt16:   "CInt16",
	TypeCInt32:   "CInt32",
	TypeCFloat32: "CFloat32",
	TypeCFloat64: "CFloat64",
}

// String 类型名称
func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return "Unknown"
}

// ParseDataType 按名称解析数据类型（不区分大小写）
func ParseDataType(name string) DataType {
	for dt, n := range dataTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return dt
		}
	}
	return TypeUnknown
}

// Size 单个像元字节数
func (dt DataType) Size() int {
	switch dt {
	case TypeByte:
		return 1
	case TypeUInt16, TypeInt16:
		return 2
	case TypeUInt32, TypeInt32, TypeFloat32, TypeCInt16:
		return 4
	case TypeFloat64, TypeCInt32, TypeCFloat32:
		return 8
	case TypeCFloat64:
		return 16
	}
	return 0
}

// IsComplex 是否复数类型
func (dt DataType) IsComplex() bool {
	return dt >= TypeCInt16 && dt <= TypeCFloat64
}

// IsInteger 分量是否为整型
func (dt DataType) IsInteger() bool {
	switch dt {
	case TypeByte, TypeUInt16, TypeInt16, TypeUInt32, TypeInt32, TypeCInt16, TypeCInt32:
		return true
	}
	return false
}

// IsSigned 分量是否有符号
func (dt DataType) IsSigned() bool {
	switch dt {
	case TypeByte, TypeUInt16, TypeUInt32:
		return false
	}
	return true
}

// componentType 复数类型的分量类型
func (dt DataType) componentType() DataType {
	switch dt {
	case TypeCInt16:
		return TypeInt16
	case TypeCInt32:
		return TypeInt32
	case TypeCFloat32:
		return TypeFloat32
	case TypeCFloat64:
		return TypeFloat64
	}
	return dt
}

// Range 分量可表示的取值范围
func (dt DataType) Range() (float64, float64) {
	switch dt.componentType() {
	case TypeByte:
		return 0, math.MaxUint8
	case TypeUInt16:
		return 0, math.MaxUint16
	case TypeInt16:
		return math.MinInt16, math.MaxInt16
	case TypeUInt32:
		return 0, math.MaxUint32
	case TypeInt32:
		return math.MinInt32, math.MaxInt32
	case TypeFloat32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}

// Saturate 将数值转换为该类型可表示的值：整型四舍五入并饱和截断，Float32降精度
func (dt DataType) Saturate(v float64) float64 {
	ct := dt.componentType()
	if ct.IsInteger() {
		if math.IsNaN(v) {
			return 0
		}
		lo, hi := ct.Range()
		v = math.Round(v)
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	if ct == TypeFloat32 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v
		}
		if v > math.MaxFloat32 {
			return math.MaxFloat32
		}
		if v < -math.MaxFloat32 {
			return -math.MaxFloat32
		}
		return float64(float32(v))
	}
	return v
}

// NBitsRange NBITS覆盖下的取值范围，无符号类型为[0, 2^bits-1]
func NBitsRange(dt DataType, bits int) (float64, float64, bool) {
	if bits <= 0 || !dt.IsInteger() || bits >= dt.componentType().Size()*8 {
		return 0, 0, false
	}
	if dt.IsSigned() {
		half := math.Ldexp(1, bits-1)
		return -half, half - 1, true
	}
	return 0, math.Ldexp(1, bits) - 1, true
}

// clampNBits 饱和截断到NBITS范围
func clampNBits(v float64, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
