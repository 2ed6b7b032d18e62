// RasterBandAdvanced.go
package Govrt

import (
	"log"
	"math"
)

// ==================== 波段统计 ====================

// CachedStatistics 已持久化的统计值，不触发扫描
func (b *VirtualBand) CachedStatistics() (Statistics, bool) {
	if b.cache == nil {
		return Statistics{}, false
	}
	return b.cache.Statistics(b.index)
}

// passThroughBand 可直接委托统计的底层波段
//
// 条件：唯一的简单源或不改变像元值的复合源，源矩形为整个数据源，目标矩形为整个波段，
// 数据类型与NoData一致。withNBits=false 时NBITS覆盖也会阻止委托。
func (b *VirtualBand) passThroughBand(withNBits bool) (Band, bool) {
	if len(b.sources) != 1 {
		return nil, false
	}
	s := b.sources[0]
	if s.Kind == SourceAveraged || s.isTransformed() || s.HasNoData {
		return nil, false
	}
	if !withNBits && b.nbits > 0 {
		return nil, false
	}
	if s.DstRect != (Rect{XSize: float64(b.width), YSize: float64(b.height)}) {
		return nil, false
	}
	src, err := s.resolve()
	if err != nil {
		log.Printf("波段 %d: 打开数据源失败: %v", b.index, err)
		return nil, false
	}
	if !s.coversWholeSource() || src.DataType() != b.dataType {
		return nil, false
	}
	v, ok := src.NoData()
	if ok != b.hasNoData || (ok && !sameNoData(v, b.noData)) {
		return nil, false
	}
	return src, true
}

func sameNoData(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// clampReported NBITS覆盖下报告的极值
func (b *VirtualBand) clampReported(v float64) float64 {
	if lo, hi, ok := b.nbitsRange(); ok {
		return clampNBits(v, lo, hi)
	}
	return v
}

// GetMinimum 最小值：已持久化的统计值，或直通数据源已知的统计值；都没有时ok=false
func (b *VirtualBand) GetMinimum() (float64, bool) {
	st, ok := b.knownStatistics()
	if !ok {
		return 0, false
	}
	return b.clampReported(st.Min), true
}

// GetMaximum 最大值，规则同GetMinimum
func (b *VirtualBand) GetMaximum() (float64, bool) {
	st, ok := b.knownStatistics()
	if !ok {
		return 0, false
	}
	return b.clampReported(st.Max), true
}

func (b *VirtualBand) knownStatistics() (Statistics, bool) {
	if st, ok := b.CachedStatistics(); ok {
		return st, true
	}
	src, ok := b.passThroughBand(true)
	if !ok {
		return Statistics{}, false
	}
	sp, ok := src.(StatisticsProvider)
	if !ok {
		return Statistics{}, false
	}
	return sp.CachedStatistics()
}

// ComputeRasterMinMax 扫描合成结果求极值，结果不持久化
func (b *VirtualBand) ComputeRasterMinMax(approx bool) (float64, float64, error) {
	var target Band = b
	if approx {
		target = approxBand(b)
	}
	nodata := bandNoData(target)
	var acc statsAccumulator
	err := scanBand(target, func(buf *Buffer) error {
		acc.addBuffer(buf, nodata)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	st, err := acc.statistics()
	if err != nil {
		return 0, 0, err
	}
	return st.Min, st.Max, nil
}

// ComputeStatistics 计算并持久化统计值
//
// 满足直通条件时委托底层波段计算，否则扫描合成结果。
func (b *VirtualBand) ComputeStatistics(approx bool) (Statistics, error) {
	var st Statistics
	var err error
	computed := false
	if src, ok := b.passThroughBand(false); ok {
		if sp, ok := src.(StatisticsProvider); ok {
			st, err = sp.ComputeStatistics(approx)
			if err != nil {
				return Statistics{}, err
			}
			computed = true
		}
	}
	if !computed {
		st, err = scanStatistics(b, approx)
		if err != nil {
			return Statistics{}, err
		}
	}
	if b.cache != nil {
		if err := b.cache.SetStatistics(b.index, st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// GetStatistics 已持久化的统计值；force=true 时缺失则计算
func (b *VirtualBand) GetStatistics(approx, force bool) (Statistics, bool, error) {
	if st, ok := b.CachedStatistics(); ok {
		return st, true, nil
	}
	if !force {
		return Statistics{}, false, nil
	}
	st, err := b.ComputeStatistics(approx)
	if err != nil {
		return Statistics{}, false, err
	}
	return st, true, nil
}

// GetHistogram 直方图：已持久化且参数一致时直接返回，否则计算并持久化
func (b *VirtualBand) GetHistogram(req HistogramRequest) (*Histogram, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if b.cache != nil {
		if h, ok := b.cache.Histogram(b.index, req); ok {
			return h, nil
		}
	}
	var h *Histogram
	var err error
	if src, ok := b.passThroughBand(false); ok {
		if hp, ok := src.(HistogramProvider); ok {
			h, err = hp.GetHistogram(req)
		} else {
			h, err = scanHistogram(b, req)
		}
	} else {
		h, err = scanHistogram(b, req)
	}
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		if err := b.cache.SetHistogram(b.index, h); err != nil {
			return h, err
		}
	}
	return h, nil
}

// GetDefaultHistogram 默认直方图：已持久化的第一个直方图；force=true 时缺失则按默认参数计算
func (b *VirtualBand) GetDefaultHistogram(force bool) (*Histogram, error) {
	if b.cache != nil {
		if h, ok := b.cache.DefaultHistogram(b.index); ok {
			return h, nil
		}
	}
	if !force {
		return nil, nil
	}
	req, err := b.defaultHistogramRequest()
	if err != nil {
		return nil, err
	}
	return b.GetHistogram(req)
}

// defaultHistogramRequest 8位数据为256个整数桶，其余按极值均分256个桶
func (b *VirtualBand) defaultHistogramRequest() (HistogramRequest, error) {
	if b.dataType == TypeByte {
		return DefaultHistogramRequest(), nil
	}
	lo, okMin := b.GetMinimum()
	hi, okMax := b.GetMaximum()
	if !okMin || !okMax {
		var err error
		lo, hi, err = b.ComputeRasterMinMax(false)
		if err != nil {
			return HistogramRequest{}, err
		}
	}
	half := (hi - lo) / (2 * 255)
	if hi == lo {
		half = 0.5
	}
	return HistogramRequest{Min: lo - half, Max: hi + half, Buckets: 256}, nil
}

// ClearStatistics 清除持久化的统计值与直方图
func (b *VirtualBand) ClearStatistics() error {
	if b.cache == nil {
		return nil
	}
	return b.cache.ClearStatistics(b.index)
}
