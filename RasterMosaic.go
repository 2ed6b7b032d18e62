// RasterMosaic.go
package Govrt

import (
	"fmt"
	"math"
)

// ==================== 数据源合成 ====================

// axisMapping 单个方向上缓冲区像元到源坐标的映射
type axisMapping struct {
	centers []float64 // 缓冲区像元中心对应的源坐标，未覆盖为NaN
	first   int       // 第一个被覆盖的缓冲区像元
	last    int       // 最后一个被覆盖的像元之后
	step    float64   // 每个缓冲区像元对应的源像元数
	lo, hi  int       // 源像元有效范围
}

func (m *axisMapping) empty() bool {
	return m.last <= m.first
}

// mapAxis 计算一个方向的映射：像元中心落在目标矩形（裁剪到波段范围）内、
// 且对应的源坐标落在源矩形（裁剪到数据源范围）内，即视为被该数据源覆盖
func mapAxis(winOff, winSize, bufSize, bandSize int, dstOff, dstSize, srcOff, srcSize float64, srcN int) axisMapping {
	m := axisMapping{centers: make([]float64, bufSize), first: bufSize, last: 0}
	scale := float64(winSize) / float64(bufSize)
	ratio := srcSize / dstSize
	m.step = scale * ratio

	dlo := math.Max(dstOff, 0)
	dhi := math.Min(dstOff+dstSize, float64(bandSize))
	slo := math.Max(srcOff, 0)
	shi := math.Min(srcOff+srcSize, float64(srcN))
	m.lo = maxInt(0, int(math.Floor(slo)))
	m.hi = minInt(srcN, int(math.Ceil(shi)))

	for i := 0; i < bufSize; i++ {
		m.centers[i] = math.NaN()
		if dhi <= dlo || shi <= slo {
			continue
		}
		x := float64(winOff) + (float64(i)+0.5)*scale
		if x < dlo || x >= dhi {
			continue
		}
		sx := srcOff + (x-dstOff)*ratio
		if sx < slo || sx >= shi {
			continue
		}
		m.centers[i] = sx
		if i < m.first {
			m.first = i
		}
		m.last = i + 1
	}
	return m
}

// fetchRange 覆盖像元需要读取的源像元范围 [a,b)
func (m *axisMapping) fetchRange(margin int) (int, int) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := m.first; i < m.last; i++ {
		c := m.centers[i]
		if math.IsNaN(c) {
			continue
		}
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	a := maxInt(m.lo, int(math.Floor(lo))-margin)
	b := minInt(m.hi, int(math.Floor(hi))+margin+1)
	return a, b
}

// snappedSpan 平均源：请求级源跨度吸附到整像元后按缓冲区像元等分
func snappedSpan(winOff, winSize, bufSize int, m *axisMapping, dstOff, dstSize, srcOff, srcSize float64) (float64, float64) {
	scale := float64(winSize) / float64(bufSize)
	ratio := srcSize / dstSize
	e0 := float64(winOff) + float64(m.first)*scale
	e1 := float64(winOff) + float64(m.last)*scale
	s0 := math.Floor(srcOff + (e0-dstOff)*ratio + 0.5)
	s1 := math.Floor(srcOff + (e1-dstOff)*ratio + 0.5)
	if s1 <= s0 {
		s1 = s0 + 1
	}
	return s0, (s1 - s0) / float64(m.last-m.first)
}

// paint 将数据源合成到缓冲区；后绘制的数据源覆盖先绘制的
func (s *Source) paint(b *VirtualBand, win Window, buf *Buffer, method ResampleMethod) error {
	if method == ResampleNearest && s.resampleSet {
		method = s.Resampling
	}
	if s.Info.XSize == 0 {
		if _, err := s.resolve(); err != nil {
			return err
		}
	}
	xm := mapAxis(win.XOff, win.XSize, buf.Width, b.width,
		s.DstRect.XOff, s.DstRect.XSize, s.SrcRect.XOff, s.SrcRect.XSize, s.Info.XSize)
	ym := mapAxis(win.YOff, win.YSize, buf.Height, b.height,
		s.DstRect.YOff, s.DstRect.YSize, s.SrcRect.YOff, s.SrcRect.YSize, s.Info.YSize)
	if xm.empty() || ym.empty() {
		return nil
	}

	var x0, x1, y0, y1 int
	var ax0, adx, ay0, ady float64
	if s.Kind == SourceAveraged {
		ax0, adx = snappedSpan(win.XOff, win.XSize, buf.Width, &xm, s.DstRect.XOff, s.DstRect.XSize, s.SrcRect.XOff, s.SrcRect.XSize)
		ay0, ady = snappedSpan(win.YOff, win.YSize, buf.Height, &ym, s.DstRect.YOff, s.DstRect.YSize, s.SrcRect.YOff, s.SrcRect.YSize)
		x0 = maxInt(xm.lo, int(ax0))
		x1 = minInt(xm.hi, int(math.Ceil(ax0+adx*float64(xm.last-xm.first))))
		y0 = maxInt(ym.lo, int(ay0))
		y1 = minInt(ym.hi, int(math.Ceil(ay0+ady*float64(ym.last-ym.first))))
	} else {
		x0, x1 = xm.fetchRange(method.margin(xm.step))
		y0, y1 = ym.fetchRange(method.margin(ym.step))
	}
	if x1 <= x0 || y1 <= y0 {
		return nil
	}

	src, err := s.resolve()
	if err != nil {
		return err
	}
	raw, err := src.Read(NewWindow(x0, y0, x1-x0, y1-y0))
	if err != nil {
		return fmt.Errorf("read %s band %d: %w", s.Filename, s.BandIndex, err)
	}

	nodata := newNoDataMatcher(b.noData, b.hasNoData)
	if s.HasNoData {
		nodata = newNoDataMatcher(s.NoData, true)
	}
	grid := &sampleGrid{buf: raw, x0: x0, y0: y0, nodata: nodata}
	dt := buf.DataType
	fill := b.fillValue()

	for j := ym.first; j < ym.last; j++ {
		sy := ym.centers[j]
		if math.IsNaN(sy) {
			continue
		}
		for i := xm.first; i < xm.last; i++ {
			sx := xm.centers[i]
			if math.IsNaN(sx) {
				continue
			}
			var re, im float64
			var ok bool
			if s.Kind == SourceAveraged {
				fx := ax0 + float64(i-xm.first)*adx
				fy := ay0 + float64(j-ym.first)*ady
				re, im, ok = grid.average(fx, fy, fx+adx, fy+ady)
			} else {
				re, im, ok = grid.sample(method, sx, sy, xm.step, ym.step)
			}
			if !ok {
				if s.HasNoData {
					continue
				}
				buf.Set(i, j, fill, 0)
				continue
			}
			re, im = s.transform(re, im)
			buf.Set(i, j, dt.Saturate(re), dt.Saturate(im))
		}
	}
	return nil
}

// footprint 数据源实际有数据的目标区域（波段坐标，裁剪到波段范围）
func (s *Source) footprint(bandW, bandH int) (Rect, bool) {
	if s.Info.XSize == 0 {
		if _, err := s.resolve(); err != nil {
			return Rect{}, false
		}
	}
	ratioX := s.SrcRect.XSize / s.DstRect.XSize
	ratioY := s.SrcRect.YSize / s.DstRect.YSize
	sx0 := math.Max(s.SrcRect.XOff, 0)
	sy0 := math.Max(s.SrcRect.YOff, 0)
	sx1 := math.Min(s.SrcRect.XOff+s.SrcRect.XSize, float64(s.Info.XSize))
	sy1 := math.Min(s.SrcRect.YOff+s.SrcRect.YSize, float64(s.Info.YSize))
	if sx1 <= sx0 || sy1 <= sy0 {
		return Rect{}, false
	}
	dx0 := math.Max(math.Max(s.DstRect.XOff+(sx0-s.SrcRect.XOff)/ratioX, s.DstRect.XOff), 0)
	dy0 := math.Max(math.Max(s.DstRect.YOff+(sy0-s.SrcRect.YOff)/ratioY, s.DstRect.YOff), 0)
	dx1 := math.Min(math.Min(s.DstRect.XOff+(sx1-s.SrcRect.XOff)/ratioX, s.DstRect.XOff+s.DstRect.XSize), float64(bandW))
	dy1 := math.Min(math.Min(s.DstRect.YOff+(sy1-s.SrcRect.YOff)/ratioY, s.DstRect.YOff+s.DstRect.YSize), float64(bandH))
	if dx1 <= dx0 || dy1 <= dy0 {
		return Rect{}, false
	}
	return Rect{XOff: dx0, YOff: dy0, XSize: dx1 - dx0, YSize: dy1 - dy0}, true
}
