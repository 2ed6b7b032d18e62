// RasterResample.go
package Govrt

import (
	"math"
	"strings"
)

// ==================== 栅格重采样 ====================

// ResampleMethod 重采样方法
type ResampleMethod int

const (
	ResampleNearest  ResampleMethod = 0
	ResampleBilinear ResampleMethod = 1
	ResampleCubic    ResampleMethod = 2
	ResampleAverage  ResampleMethod = 3
	ResampleMode     ResampleMethod = 4
)

// resampleEpsilon 消除浮点误差导致的像元索引跳变
const resampleEpsilon = 1e-10

// String 方法名称
func (m ResampleMethod) String() string {
	switch m {
	case ResampleBilinear:
		return "BILINEAR"
	case ResampleCubic:
		return "CUBIC"
	case ResampleAverage:
		return "AVERAGE"
	case ResampleMode:
		return "MODE"
	}
	return "NEAREST"
}

// ParseResampleMethod 解析方法名称，未知名称按最近邻处理
func ParseResampleMethod(name string) ResampleMethod {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "BILINEAR":
		return ResampleBilinear
	case "CUBIC":
		return ResampleCubic
	case "AVERAGE":
		return ResampleAverage
	case "MODE":
		return ResampleMode
	}
	return ResampleNearest
}

// margin 采样核在源像元空间需要的额外边距
func (m ResampleMethod) margin(kx float64) int {
	switch m {
	case ResampleBilinear:
		return 1
	case ResampleCubic:
		return 2
	case ResampleAverage, ResampleMode:
		return int(math.Ceil(kx/2)) + 1
	}
	return 0
}

// sampleGrid 已读取的源窗口，坐标为源像元空间
type sampleGrid struct {
	buf    *Buffer
	x0, y0 int
	nodata noDataMatcher
}

func (g *sampleGrid) clamp(x, y int) (int, int) {
	if x < g.x0 {
		x = g.x0
	} else if x >= g.x0+g.buf.Width {
		x = g.x0 + g.buf.Width - 1
	}
	if y < g.y0 {
		y = g.y0
	} else if y >= g.y0+g.buf.Height {
		y = g.y0 + g.buf.Height - 1
	}
	return x, y
}

// at 读取像元（坐标钳制到已读窗口），ok=false表示NoData
func (g *sampleGrid) at(x, y int) (float64, float64, bool) {
	x, y = g.clamp(x, y)
	i := (y-g.y0)*g.buf.Width + (x - g.x0)
	re := g.buf.Real[i]
	im := 0.0
	if g.buf.Imag != nil {
		im = g.buf.Imag[i]
	}
	if g.nodata.matches(re) {
		return re, im, false
	}
	return re, im, true
}

// sample 在源坐标(sx,sy)处按方法取值；kx,ky为每个输出像元对应的源像元数
func (g *sampleGrid) sample(m ResampleMethod, sx, sy, kx, ky float64) (float64, float64, bool) {
	switch m {
	case ResampleBilinear:
		return g.bilinear(sx, sy)
	case ResampleCubic:
		return g.cubic(sx, sy)
	case ResampleAverage:
		return g.average(sx-kx/2, sy-ky/2, sx+kx/2, sy+ky/2)
	case ResampleMode:
		return g.mode(sx-kx/2, sy-ky/2, sx+kx/2, sy+ky/2)
	}
	return g.nearest(sx, sy)
}

func (g *sampleGrid) nearest(sx, sy float64) (float64, float64, bool) {
	return g.at(int(math.Floor(sx+resampleEpsilon)), int(math.Floor(sy+resampleEpsilon)))
}

// bilinear 双线性插值；NoData样本的权重被剔除而不是按0参与加权
func (g *sampleGrid) bilinear(sx, sy float64) (float64, float64, bool) {
	u := sx - 0.5
	v := sy - 0.5
	fx0 := math.Floor(u)
	fy0 := math.Floor(v)
	dx := u - fx0
	dy := v - fy0
	ix := int(fx0)
	iy := int(fy0)

	var sumRe, sumIm, wsum float64
	taps := [4]struct {
		x, y int
		w    float64
	}{
		{ix, iy, (1 - dx) * (1 - dy)},
		{ix + 1, iy, dx * (1 - dy)},
		{ix, iy + 1, (1 - dx) * dy},
		{ix + 1, iy + 1, dx * dy},
	}
	for _, t := range taps {
		re, im, ok := g.at(t.x, t.y)
		if !ok {
			continue
		}
		sumRe += re * t.w
		sumIm += im * t.w
		wsum += t.w
	}
	if wsum <= 0 {
		return g.nodata.value, 0, false
	}
	return sumRe / wsum, sumIm / wsum, true
}

// cubicWeight Keys三次卷积核 (a=-0.5)
func cubicWeight(x float64) float64 {
	const a = -0.5
	x = math.Abs(x)
	switch {
	case x <= 1:
		return ((a+2)*x-(a+3))*x*x + 1
	case x < 2:
		return ((a*x-5*a)*x+8*a)*x - 4*a
	}
	return 0
}

func (g *sampleGrid) cubic(sx, sy float64) (float64, float64, bool) {
	u := sx - 0.5
	v := sy - 0.5
	fx0 := math.Floor(u)
	fy0 := math.Floor(v)
	dx := u - fx0
	dy := v - fy0

	var sumRe, sumIm, wsum float64
	for j := -1; j <= 2; j++ {
		wy := cubicWeight(float64(j) - dy)
		if wy == 0 {
			continue
		}
		for i := -1; i <= 2; i++ {
			wx := cubicWeight(float64(i) - dx)
			if wx == 0 {
				continue
			}
			re, im, ok := g.at(int(fx0)+i, int(fy0)+j)
			if !ok {
				continue
			}
			w := wx * wy
			sumRe += re * w
			sumIm += im * w
			wsum += w
		}
	}
	if math.Abs(wsum) < 1e-12 {
		return g.nodata.value, 0, false
	}
	return sumRe / wsum, sumIm / wsum, true
}

// footprint 遍历与源坐标区域相交的整像元及其相交面积
func (g *sampleGrid) footprint(x0, y0, x1, y1 float64, fn func(x, y int, w float64)) {
	gx0 := float64(g.x0)
	gy0 := float64(g.y0)
	gx1 := float64(g.x0 + g.buf.Width)
	gy1 := float64(g.y0 + g.buf.Height)
	x0 = math.Max(x0, gx0)
	y0 = math.Max(y0, gy0)
	x1 = math.Min(x1, gx1)
	y1 = math.Min(y1, gy1)
	if x1 <= x0 || y1 <= y0 {
		return
	}
	for iy := int(math.Floor(y0)); float64(iy) < y1; iy++ {
		wy := math.Min(y1, float64(iy+1)) - math.Max(y0, float64(iy))
		if wy <= 0 {
			continue
		}
		for ix := int(math.Floor(x0)); float64(ix) < x1; ix++ {
			wx := math.Min(x1, float64(ix+1)) - math.Max(x0, float64(ix))
			if wx <= 0 {
				continue
			}
			fn(ix, iy, wx*wy)
		}
	}
}

// average 按相交面积加权平均，剔除NoData
func (g *sampleGrid) average(x0, y0, x1, y1 float64) (float64, float64, bool) {
	var sumRe, sumIm, wsum float64
	g.footprint(x0, y0, x1, y1, func(x, y int, w float64) {
		re, im, ok := g.at(x, y)
		if !ok {
			return
		}
		sumRe += re * w
		sumIm += im * w
		wsum += w
	})
	if wsum <= 0 {
		return g.nodata.value, 0, false
	}
	return sumRe / wsum, sumIm / wsum, true
}

// mode 面积加权众数（仅实部）
func (g *sampleGrid) mode(x0, y0, x1, y1 float64) (float64, float64, bool) {
	weights := make(map[float64]float64)
	var order []float64
	g.footprint(x0, y0, x1, y1, func(x, y int, w float64) {
		re, _, ok := g.at(x, y)
		if !ok {
			return
		}
		if _, seen := weights[re]; !seen {
			order = append(order, re)
		}
		weights[re] += w
	})
	if len(order) == 0 {
		return g.nodata.value, 0, false
	}
	best := order[0]
	for _, v := range order[1:] {
		if weights[v] > weights[best] {
			best = v
		}
	}
	return best, 0, true
}

// resampleBuffer 将整个缓冲区重采样到 outW x outH
func resampleBuffer(src *Buffer, nodata noDataMatcher, outW, outH int, method ResampleMethod) *Buffer {
	out := NewBuffer(outW, outH, src.DataType)
	grid := &sampleGrid{buf: src, nodata: nodata}
	kx := float64(src.Width) / float64(outW)
	ky := float64(src.Height) / float64(outH)
	for j := 0; j < outH; j++ {
		sy := (float64(j) + 0.5) * ky
		for i := 0; i < outW; i++ {
			sx := (float64(i) + 0.5) * kx
			re, im, ok := grid.sample(method, sx, sy, kx, ky)
			if !ok {
				re, im = 0, 0
				if nodata.set {
					re = nodata.value
				}
			}
			out.Set(i, j, src.DataType.Saturate(re), src.DataType.Saturate(im))
		}
	}
	return out
}
