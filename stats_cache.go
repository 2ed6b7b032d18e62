// stats_cache.go
package Govrt

import (
	"log"
	"strconv"
)

const (
	mdStatisticsMinimum = "STATISTICS_MINIMUM"
	mdStatisticsMaximum = "STATISTICS_MAXIMUM"
	mdStatisticsMean    = "STATISTICS_MEAN"
	mdStatisticsStdDev  = "STATISTICS_STDDEV"
)

// StatisticsCache 波段统计信息的持久化层，band为1起始序号
type StatisticsCache interface {
	Statistics(band int) (Statistics, bool)
	SetStatistics(band int, st Statistics) error
	Histogram(band int, req HistogramRequest) (*Histogram, bool)
	// DefaultHistogram 第一个持久化的直方图
	DefaultHistogram(band int) (*Histogram, bool)
	SetHistogram(band int, h *Histogram) error
	ClearStatistics(band int) error
}

// descriptorCache 统计信息保存在描述记录的波段元数据与<Histograms>中
type descriptorCache struct {
	desc    *Descriptor
	onWrite func()
}

func newDescriptorCache(desc *Descriptor, onWrite func()) *descriptorCache {
	return &descriptorCache{desc: desc, onWrite: onWrite}
}

func (c *descriptorCache) band(index int) *BandDescriptor {
	if index < 1 || index > len(c.desc.Bands) {
		return nil
	}
	return c.desc.Bands[index-1]
}

func (c *descriptorCache) changed() {
	if c.onWrite != nil {
		c.onWrite()
	}
}

func (c *descriptorCache) Statistics(index int) (Statistics, bool) {
	bd := c.band(index)
	if bd == nil {
		return Statistics{}, false
	}
	var values [4]float64
	for i, key := range []string{mdStatisticsMinimum, mdStatisticsMaximum, mdStatisticsMean, mdStatisticsStdDev} {
		text, ok := getMetadata(bd.Metadata, "", key)
		if !ok {
			return Statistics{}, false
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			log.Printf("波段 %d: 无效的统计元数据 %s=%q", index, key, text)
			return Statistics{}, false
		}
		values[i] = v
	}
	return Statistics{Min: values[0], Max: values[1], Mean: values[2], StdDev: values[3]}, true
}

func (c *descriptorCache) SetStatistics(index int, st Statistics) error {
	bd := c.band(index)
	if bd == nil {
		return nil
	}
	setMetadata(&bd.Metadata, "", mdStatisticsMinimum, formatFloat(st.Min))
	setMetadata(&bd.Metadata, "", mdStatisticsMaximum, formatFloat(st.Max))
	setMetadata(&bd.Metadata, "", mdStatisticsMean, formatFloat(st.Mean))
	setMetadata(&bd.Metadata, "", mdStatisticsStdDev, formatFloat(st.StdDev))
	c.changed()
	return nil
}

func (c *descriptorCache) Histogram(index int, req HistogramRequest) (*Histogram, bool) {
	bd := c.band(index)
	if bd == nil || bd.Histograms == nil {
		return nil, false
	}
	for _, item := range bd.Histograms.Items {
		h, err := item.histogram()
		if err != nil {
			log.Printf("波段 %d: 忽略无效的直方图: %v", index, err)
			continue
		}
		if h.matches(req) {
			return h, true
		}
	}
	return nil, false
}

func (c *descriptorCache) DefaultHistogram(index int) (*Histogram, bool) {
	bd := c.band(index)
	if bd == nil || bd.Histograms == nil {
		return nil, false
	}
	for _, item := range bd.Histograms.Items {
		if h, err := item.histogram(); err == nil {
			return h, true
		}
	}
	return nil, false
}

func (c *descriptorCache) SetHistogram(index int, h *Histogram) error {
	bd := c.band(index)
	if bd == nil {
		return nil
	}
	if bd.Histograms == nil {
		bd.Histograms = &HistogramList{}
	}
	item := histItemFrom(h)
	req := HistogramRequest{Min: h.Min, Max: h.Max, Buckets: h.Buckets, IncludeOutOfRange: h.IncludeOutOfRange, Approximate: h.Approximate}
	replaced := false
	for i, existing := range bd.Histograms.Items {
		if old, err := existing.histogram(); err == nil && old.matches(req) {
			bd.Histograms.Items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		bd.Histograms.Items = append(bd.Histograms.Items, item)
	}
	c.changed()
	return nil
}

func (c *descriptorCache) ClearStatistics(index int) error {
	bd := c.band(index)
	if bd == nil {
		return nil
	}
	removed := removeMetadata(&bd.Metadata, "", mdStatisticsMinimum, mdStatisticsMaximum, mdStatisticsMean, mdStatisticsStdDev)
	if bd.Histograms != nil {
		bd.Histograms = nil
		removed = true
	}
	if removed {
		c.changed()
	}
	return nil
}

// layeredCache 描述记录为主，侧车库为辅；侧车库命中时回填描述记录
type layeredCache struct {
	primary   StatisticsCache
	secondary StatisticsCache
}

func (c *layeredCache) Statistics(band int) (Statistics, bool) {
	if st, ok := c.primary.Statistics(band); ok {
		return st, true
	}
	st, ok := c.secondary.Statistics(band)
	if ok {
		c.primary.SetStatistics(band, st)
	}
	return st, ok
}

func (c *layeredCache) SetStatistics(band int, st Statistics) error {
	if err := c.secondary.SetStatistics(band, st); err != nil {
		log.Printf("波段 %d: 写入统计侧车库失败: %v", band, err)
	}
	return c.primary.SetStatistics(band, st)
}

func (c *layeredCache) Histogram(band int, req HistogramRequest) (*Histogram, bool) {
	if h, ok := c.primary.Histogram(band, req); ok {
		return h, true
	}
	h, ok := c.secondary.Histogram(band, req)
	if ok {
		c.primary.SetHistogram(band, h)
	}
	return h, ok
}

func (c *layeredCache) DefaultHistogram(band int) (*Histogram, bool) {
	if h, ok := c.primary.DefaultHistogram(band); ok {
		return h, true
	}
	h, ok := c.secondary.DefaultHistogram(band)
	if ok {
		c.primary.SetHistogram(band, h)
	}
	return h, ok
}

func (c *layeredCache) SetHistogram(band int, h *Histogram) error {
	if err := c.secondary.SetHistogram(band, h); err != nil {
		log.Printf("波段 %d: 写入直方图侧车库失败: %v", band, err)
	}
	return c.primary.SetHistogram(band, h)
}

func (c *layeredCache) ClearStatistics(band int) error {
	if err := c.secondary.ClearStatistics(band); err != nil {
		log.Printf("波段 %d: 清除统计侧车库失败: %v", band, err)
	}
	return c.primary.ClearStatistics(band)
}
