// RasterStatistics.go
package Govrt

import (
	"fmt"
	"math"
)

// ==================== 波段统计 ====================

// Statistics 波段统计信息，四项总是一起计算
type Statistics struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Histogram 直方图
type Histogram struct {
	Min               float64
	Max               float64
	Buckets           int
	IncludeOutOfRange bool
	Approximate       bool
	Counts            []uint64
}

// HistogramRequest 直方图请求参数
type HistogramRequest struct {
	Min               float64
	Max               float64
	Buckets           int
	IncludeOutOfRange bool
	Approximate       bool
}

// DefaultHistogramRequest 默认直方图参数（8位数据的256个桶）
func DefaultHistogramRequest() HistogramRequest {
	return HistogramRequest{Min: -0.5, Max: 255.5, Buckets: 256}
}

// matches 缓存的直方图是否满足请求
func (h *Histogram) matches(req HistogramRequest) bool {
	return h.Min == req.Min && h.Max == req.Max && h.Buckets == req.Buckets &&
		h.IncludeOutOfRange == req.IncludeOutOfRange && h.Approximate == req.Approximate
}

func (req HistogramRequest) validate() error {
	if req.Buckets <= 0 {
		return fmt.Errorf("invalid histogram bucket count: %d", req.Buckets)
	}
	if !(req.Max > req.Min) {
		return fmt.Errorf("invalid histogram range: [%g, %g]", req.Min, req.Max)
	}
	return nil
}

// statsAccumulator 统计累加器
type statsAccumulator struct {
	count int64
	min   float64
	max   float64
	sum   float64
	sumSq float64
}

func (a *statsAccumulator) add(v float64) {
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.count++
	a.sum += v
	a.sumSq += v * v
}

func (a *statsAccumulator) addBuffer(buf *Buffer, nodata noDataMatcher) {
	for i := range buf.Real {
		if nodata.matches(buf.Real[i]) || math.IsNaN(buf.Real[i]) {
			continue
		}
		a.add(buf.sampleValue(i))
	}
}

func (a *statsAccumulator) statistics() (Statistics, error) {
	if a.count == 0 {
		return Statistics{}, ErrNoValidPixels
	}
	n := float64(a.count)
	mean := a.sum / n
	variance := a.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Statistics{Min: a.min, Max: a.max, Mean: mean, StdDev: math.Sqrt(variance)}, nil
}

// histogramAccumulator 直方图累加器
type histogramAccumulator struct {
	hist  *Histogram
	scale float64
}

func newHistogramAccumulator(req HistogramRequest) *histogramAccumulator {
	return &histogramAccumulator{
		hist: &Histogram{
			Min:               req.Min,
			Max:               req.Max,
			Buckets:           req.Buckets,
			IncludeOutOfRange: req.IncludeOutOfRange,
			Approximate:       req.Approximate,
			Counts:            make([]uint64, req.Buckets),
		},
		scale: float64(req.Buckets) / (req.Max - req.Min),
	}
}

func (h *histogramAccumulator) add(v float64) {
	idx := int(math.Floor((v - h.hist.Min) * h.scale))
	if v < h.hist.Min || idx < 0 {
		if !h.hist.IncludeOutOfRange {
			return
		}
		idx = 0
	}
	if idx >= h.hist.Buckets {
		if !h.hist.IncludeOutOfRange {
			return
		}
		idx = h.hist.Buckets - 1
	}
	h.hist.Counts[idx]++
}

func (h *histogramAccumulator) addBuffer(buf *Buffer, nodata noDataMatcher) {
	for i := range buf.Real {
		if nodata.matches(buf.Real[i]) || math.IsNaN(buf.Real[i]) {
			continue
		}
		h.add(buf.sampleValue(i))
	}
}

// scanBand 按块遍历整个波段
func scanBand(b Band, fn func(buf *Buffer) error) error {
	bx, by := b.BlockSize()
	if bx <= 0 {
		bx = b.XSize()
	}
	if by <= 0 {
		by = 1
	}
	for y := 0; y < b.YSize(); y += by {
		h := minInt(by, b.YSize()-y)
		for x := 0; x < b.XSize(); x += bx {
			w := minInt(bx, b.XSize()-x)
			buf, err := b.Read(NewWindow(x, y, w, h))
			if err != nil {
				return err
			}
			if err := fn(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func bandNoData(b Band) noDataMatcher {
	v, ok := b.NoData()
	return newNoDataMatcher(v, ok)
}

// approxBand 近似统计时选用的概视图：第一个不超过1024x1024的层级，否则最小层级
func approxBand(b Band) Band {
	op, ok := b.(OverviewProvider)
	if !ok || op.OverviewCount() == 0 {
		return b
	}
	var last Band
	for i := 0; i < op.OverviewCount(); i++ {
		ovr := op.GetOverview(i)
		if ovr == nil {
			continue
		}
		last = ovr
		if ovr.XSize() <= 1024 && ovr.YSize() <= 1024 {
			return ovr
		}
	}
	if last == nil {
		return b
	}
	return last
}

// scanStatistics 扫描波段计算统计信息
func scanStatistics(b Band, approx bool) (Statistics, error) {
	if approx {
		b = approxBand(b)
	}
	nodata := bandNoData(b)
	var acc statsAccumulator
	err := scanBand(b, func(buf *Buffer) error {
		acc.addBuffer(buf, nodata)
		return nil
	})
	if err != nil {
		return Statistics{}, err
	}
	return acc.statistics()
}

// scanHistogram 扫描波段累计直方图
func scanHistogram(b Band, req HistogramRequest) (*Histogram, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Approximate {
		b = approxBand(b)
	}
	nodata := bandNoData(b)
	acc := newHistogramAccumulator(req)
	err := scanBand(b, func(buf *Buffer) error {
		acc.addBuffer(buf, nodata)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc.hist, nil
}
