// RasterBuffer.go
package Govrt

import (
	"fmt"
	"math"
)

// Window 像素空间中的整数矩形窗口
type Window struct {
	XOff, YOff   int
	XSize, YSize int
}

// NewWindow 构造窗口
func NewWindow(xOff, yOff, xSize, ySize int) Window {
	return Window{XOff: xOff, YOff: yOff, XSize: xSize, YSize: ySize}
}

// Empty 窗口是否为空
func (w Window) Empty() bool {
	return w.XSize <= 0 || w.YSize <= 0
}

// Within 窗口是否完全位于 width x height 范围内
func (w Window) Within(width, height int) bool {
	return w.XOff >= 0 && w.YOff >= 0 && !w.Empty() &&
		w.XOff+w.XSize <= width && w.YOff+w.YSize <= height
}

// Intersect 两个窗口的交集
func (w Window) Intersect(o Window) Window {
	x0 := maxInt(w.XOff, o.XOff)
	y0 := maxInt(w.YOff, o.YOff)
	x1 := minInt(w.XOff+w.XSize, o.XOff+o.XSize)
	y1 := minInt(w.YOff+w.YSize, o.YOff+o.YSize)
	if x1 <= x0 || y1 <= y0 {
		return Window{XOff: x0, YOff: y0}
	}
	return Window{XOff: x0, YOff: y0, XSize: x1 - x0, YSize: y1 - y0}
}

func (w Window) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", w.XOff, w.YOff, w.XSize, w.YSize)
}

// Rect 浮点矩形（源/目标矩形允许非整数）
type Rect struct {
	XOff, YOff   float64
	XSize, YSize float64
}

// Buffer 像元缓冲区，按行存储；复数类型的虚部存于Imag
type Buffer struct {
	Width    int
	Height   int
	DataType DataType
	Real     []float64
	Imag     []float64
}

// NewBuffer 分配缓冲区
func NewBuffer(width, height int, dt DataType) *Buffer {
	buf := &Buffer{
		Width:    width,
		Height:   height,
		DataType: dt,
		Real:     make([]float64, width*height),
	}
	if dt.IsComplex() {
		buf.Imag = make([]float64, width*height)
	}
	return buf
}

// Fill 以常数填充
func (b *Buffer) Fill(v float64) {
	for i := range b.Real {
		b.Real[i] = v
	}
	for i := range b.Imag {
		b.Imag[i] = 0
	}
}

// At 读取(x,y)实部
func (b *Buffer) At(x, y int) float64 {
	return b.Real[y*b.Width+x]
}

// ComplexAt 读取(x,y)复数值
func (b *Buffer) ComplexAt(x, y int) complex128 {
	i := y*b.Width + x
	if b.Imag == nil {
		return complex(b.Real[i], 0)
	}
	return complex(b.Real[i], b.Imag[i])
}

// Set 写入(x,y)
func (b *Buffer) Set(x, y int, re, im float64) {
	i := y*b.Width + x
	b.Real[i] = re
	if b.Imag != nil {
		b.Imag[i] = im
	}
}

// SubWindow 拷贝缓冲区中的子窗口
func (b *Buffer) SubWindow(win Window) (*Buffer, error) {
	if !win.Within(b.Width, b.Height) {
		return nil, fmt.Errorf("%w: %s outside %dx%d buffer", ErrInvalidWindow, win, b.Width, b.Height)
	}
	out := NewBuffer(win.XSize, win.YSize, b.DataType)
	if b.Imag == nil {
		out.Imag = nil
	} else if out.Imag == nil {
		out.Imag = make([]float64, win.XSize*win.YSize)
	}
	for y := 0; y < win.YSize; y++ {
		src := (win.YOff+y)*b.Width + win.XOff
		copy(out.Real[y*win.XSize:(y+1)*win.XSize], b.Real[src:src+win.XSize])
		if b.Imag != nil {
			copy(out.Imag[y*win.XSize:(y+1)*win.XSize], b.Imag[src:src+win.XSize])
		}
	}
	return out, nil
}

// sampleValue 统计用的像元值，复数取模
func (b *Buffer) sampleValue(i int) float64 {
	if b.Imag != nil {
		return math.Hypot(b.Real[i], b.Imag[i])
	}
	return b.Real[i]
}

// noDataMatcher 判断是否为NoData
type noDataMatcher struct {
	value float64
	set   bool
	isNaN bool
}

func newNoDataMatcher(value float64, set bool) noDataMatcher {
	return noDataMatcher{value: value, set: set, isNaN: set && math.IsNaN(value)}
}

func (m noDataMatcher) matches(v float64) bool {
	if !m.set {
		return false
	}
	if m.isNaN {
		return math.IsNaN(v)
	}
	return v == m.value
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
