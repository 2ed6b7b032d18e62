// DataCoverage.go
package Govrt

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// DataCoverageStatus 数据覆盖状态标志
type DataCoverageStatus int

const (
	// CoverageData 窗口内至少部分像元有数据源覆盖
	CoverageData DataCoverageStatus = 0x02
	// CoverageEmpty 窗口内至少部分像元没有数据源覆盖
	CoverageEmpty DataCoverageStatus = 0x04
)

func (s DataCoverageStatus) String() string {
	switch s {
	case CoverageData:
		return "DATA"
	case CoverageEmpty:
		return "EMPTY"
	case CoverageData | CoverageEmpty:
		return "DATA|EMPTY"
	}
	return fmt.Sprintf("DataCoverageStatus(%d)", int(s))
}

// GeometryEngine 平面几何求并能力
type GeometryEngine interface {
	Union(polygons []orb.Polygon) (orb.MultiPolygon, error)
}

// RectilinearUnion 轴对齐矩形求并：坐标压缩后按行合并
type RectilinearUnion struct{}

// Union 求并，输入必须是轴对齐矩形
func (RectilinearUnion) Union(polygons []orb.Polygon) (orb.MultiPolygon, error) {
	var bounds []orb.Bound
	for i, p := range polygons {
		if len(p) == 0 {
			continue
		}
		b := p.Bound()
		boxArea := (b.Max.X() - b.Min.X()) * (b.Max.Y() - b.Min.Y())
		if len(p) != 1 || math.Abs(math.Abs(planar.Area(p))-boxArea) > 1e-9*math.Max(1, boxArea) {
			return nil, fmt.Errorf("polygon %d is not an axis-aligned rectangle", i)
		}
		if b.Max.X() > b.Min.X() && b.Max.Y() > b.Min.Y() {
			bounds = append(bounds, b)
		}
	}
	if len(bounds) == 0 {
		return orb.MultiPolygon{}, nil
	}

	xs := make([]float64, 0, 2*len(bounds))
	ys := make([]float64, 0, 2*len(bounds))
	for _, b := range bounds {
		xs = append(xs, b.Min.X(), b.Max.X())
		ys = append(ys, b.Min.Y(), b.Max.Y())
	}
	xs = uniqueSorted(xs)
	ys = uniqueSorted(ys)

	covered := make([][]bool, len(ys)-1)
	for j := range covered {
		covered[j] = make([]bool, len(xs)-1)
	}
	for _, b := range bounds {
		i0 := sort.SearchFloat64s(xs, b.Min.X())
		i1 := sort.SearchFloat64s(xs, b.Max.X())
		j0 := sort.SearchFloat64s(ys, b.Min.Y())
		j1 := sort.SearchFloat64s(ys, b.Max.Y())
		for j := j0; j < j1; j++ {
			for i := i0; i < i1; i++ {
				covered[j][i] = true
			}
		}
	}

	// 每一行内合并连续单元，再向下合并跨度相同的行
	type span struct{ i0, i1, j0, j1 int }
	var open []span
	var result orb.MultiPolygon
	flush := func(s span) {
		result = append(result, orb.Bound{
			Min: orb.Point{xs[s.i0], ys[s.j0]},
			Max: orb.Point{xs[s.i1], ys[s.j1]},
		}.ToPolygon())
	}
	for j := range covered {
		var row []span
		for i := 0; i < len(xs)-1; {
			if !covered[j][i] {
				i++
				continue
			}
			k := i
			for k < len(xs)-1 && covered[j][k] {
				k++
			}
			row = append(row, span{i0: i, i1: k, j0: j, j1: j + 1})
			i = k
		}
		var next []span
		for _, r := range row {
			merged := false
			for n, o := range open {
				if o.i0 == r.i0 && o.i1 == r.i1 && o.j1 == j {
					o.j1 = j + 1
					next = append(next, o)
					open[n].j1 = -1
					merged = true
					break
				}
			}
			if !merged {
				next = append(next, r)
			}
		}
		for _, o := range open {
			if o.j1 != -1 {
				flush(o)
			}
		}
		open = next
	}
	for _, o := range open {
		flush(o)
	}
	return result, nil
}

func uniqueSorted(v []float64) []float64 {
	sort.Float64s(v)
	out := v[:0]
	for i, x := range v {
		if i == 0 || x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

// GetDataCoverageStatus 窗口的数据覆盖状态与覆盖百分比
func (b *VirtualBand) GetDataCoverageStatus(win Window) (DataCoverageStatus, float64, error) {
	if !win.Within(b.width, b.height) {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidWindow, win)
	}
	engine := b.dataset.ctx.geometry
	if engine == nil {
		return 0, 0, ErrGeometryUnavailable
	}

	wx0, wy0 := float64(win.XOff), float64(win.YOff)
	wx1, wy1 := wx0+float64(win.XSize), wy0+float64(win.YSize)
	var polygons []orb.Polygon
	for _, s := range b.sources {
		fp, ok := s.footprint(b.width, b.height)
		if !ok {
			continue
		}
		x0 := math.Max(fp.XOff, wx0)
		y0 := math.Max(fp.YOff, wy0)
		x1 := math.Min(fp.XOff+fp.XSize, wx1)
		y1 := math.Min(fp.YOff+fp.YSize, wy1)
		if x1 <= x0 || y1 <= y0 {
			continue
		}
		polygons = append(polygons, orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}.ToPolygon())
	}

	var area float64
	if len(polygons) > 0 {
		union, err := engine.Union(polygons)
		if err != nil {
			return 0, 0, fmt.Errorf("coverage union: %w", err)
		}
		area = math.Abs(planar.Area(union))
	}
	pct := area / (float64(win.XSize) * float64(win.YSize)) * 100
	pct = math.Max(0, math.Min(100, pct))

	var status DataCoverageStatus
	if pct > 0 {
		status |= CoverageData
	}
	if pct < 100 {
		status |= CoverageEmpty
	}
	return status, pct, nil
}
