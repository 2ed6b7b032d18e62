package Govrt

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nbits6 = `<Metadata domain="IMAGE_STRUCTURE"><MDI key="NBITS">6</MDI></Metadata>`

func TestStatisticsPassThrough(t *testing.T) {
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/src.tif", 2, 2, TypeByte, []float64{1, 2, 3, 4})
	ds := openInline(t, ctx, vrtXML(2, 2, "Byte", "", simpleSource("SimpleSource", "/stats/src.tif", "")))
	band := ds.GetRasterBand(1)

	_, ok := band.GetMinimum()
	assert.False(t, ok)

	st, err := band.ComputeStatistics(false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.GetBand(1).ComputeStatisticsCalls())

	direct, err := scanStatistics(src.GetBand(1), false)
	require.NoError(t, err)
	assert.Equal(t, direct, st)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 4.0, st.Max)
	assert.Equal(t, 2.5, st.Mean)

	cached, ok := band.CachedStatistics()
	require.True(t, ok)
	assert.Equal(t, st, cached)
	assert.True(t, ds.IsDirty())
}

func TestStatisticsScanWhenNotPassThrough(t *testing.T) {
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/src.tif", 2, 2, TypeByte, []float64{1, 2, 3, 4})
	ds := openInline(t, ctx, vrtXML(3, 2, "Byte", "<NoDataValue>0</NoDataValue>",
		simpleSource("SimpleSource", "/stats/src.tif", "")))

	st, err := ds.GetRasterBand(1).ComputeStatistics(false)
	require.NoError(t, err)
	assert.Equal(t, 0, src.GetBand(1).ComputeStatisticsCalls())
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 4.0, st.Max)
}

func TestGetMinimumFromSourceStatistics(t *testing.T) {
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/src.tif", 2, 2, TypeByte, []float64{10, 20, 30, 40})
	_, err := src.GetBand(1).ComputeStatistics(false)
	require.NoError(t, err)

	ds := openInline(t, ctx, vrtXML(2, 2, "Byte", "", simpleSource("SimpleSource", "/stats/src.tif", "")))
	band := ds.GetRasterBand(1)
	lo, ok := band.GetMinimum()
	require.True(t, ok)
	assert.Equal(t, 10.0, lo)
	hi, ok := band.GetMaximum()
	require.True(t, ok)
	assert.Equal(t, 40.0, hi)
	_, cached := band.CachedStatistics()
	assert.False(t, cached)

	offset := openInline(t, ctx, vrtXML(2, 2, "Byte", "",
		simpleSource("ComplexSource", "/stats/src.tif", "<ScaleOffset>5</ScaleOffset>")))
	_, ok = offset.GetRasterBand(1).GetMinimum()
	assert.False(t, ok)

	minMaxLo, minMaxHi, err := offset.GetRasterBand(1).ComputeRasterMinMax(false)
	require.NoError(t, err)
	assert.Equal(t, 15.0, minMaxLo)
	assert.Equal(t, 45.0, minMaxHi)
	_, cached = offset.GetRasterBand(1).CachedStatistics()
	assert.False(t, cached)
}

func TestNBitsClamp(t *testing.T) {
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/nbits.tif", 4, 1, TypeByte, []float64{10, 63, 64, 255})
	_, err := src.GetBand(1).ComputeStatistics(false)
	require.NoError(t, err)

	ds := openInline(t, ctx, vrtXML(4, 1, "Byte", nbits6, simpleSource("SimpleSource", "/stats/nbits.tif", "")))
	band := ds.GetRasterBand(1)
	assert.Equal(t, 6, band.NBits())
	assert.Equal(t, []float64{10, 63, 63, 63}, readAll(t, band))

	hi, ok := band.GetMaximum()
	require.True(t, ok)
	assert.Equal(t, 63.0, hi)

	calls := src.GetBand(1).ComputeStatisticsCalls()
	st, err := band.ComputeStatistics(false)
	require.NoError(t, err)
	assert.Equal(t, calls, src.GetBand(1).ComputeStatisticsCalls())
	assert.Equal(t, 63.0, st.Max)
}

func TestNBitsSkipsNoData(t *testing.T) {
	ctx := newTestContext(t)
	registerMem(t, ctx, "/stats/nbits.tif", 2, 1, TypeByte, []float64{200, 255})
	ds := openInline(t, ctx, vrtXML(2, 1, "Byte", "<NoDataValue>255</NoDataValue>"+nbits6,
		simpleSource("SimpleSource", "/stats/nbits.tif", "")))
	assert.Equal(t, []float64{63, 255}, readAll(t, ds.GetRasterBand(1)))
}

func TestHistogramPersisted(t *testing.T) {
	ctx := newTestContext(t)
	registerMem(t, ctx, "/stats/hist.tif", 2, 2, TypeByte, []float64{0, 1, 1, 255})
	ds := openInline(t, ctx, vrtXML(2, 2, "Byte", "", simpleSource("SimpleSource", "/stats/hist.tif", "")))
	band := ds.GetRasterBand(1)

	h, err := band.GetDefaultHistogram(false)
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = band.GetHistogram(DefaultHistogramRequest())
	require.NoError(t, err)
	require.Len(t, h.Counts, 256)
	assert.Equal(t, uint64(1), h.Counts[0])
	assert.Equal(t, uint64(2), h.Counts[1])
	assert.Equal(t, uint64(1), h.Counts[255])

	def, err := band.GetDefaultHistogram(false)
	require.NoError(t, err)
	assert.Equal(t, h.Counts, def.Counts)

	out, err := ds.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Histograms>")
	assert.Contains(t, string(out), "<HistCounts>1|2|0|")

	require.NoError(t, band.ClearStatistics())
	def, err = band.GetDefaultHistogram(false)
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestDefaultHistogramForFloatBand(t *testing.T) {
	ctx := newTestContext(t)
	registerMem(t, ctx, "/stats/float.tif", 2, 1, TypeFloat32, []float64{0, 10})
	ds := openInline(t, ctx, vrtXML(2, 1, "Float32", "", simpleSource("SimpleSource", "/stats/float.tif", "")))

	h, err := ds.GetRasterBand(1).GetDefaultHistogram(true)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 256, h.Buckets)
	assert.InDelta(t, -10.0/510, h.Min, 1e-12)
	assert.InDelta(t, 10+10.0/510, h.Max, 1e-12)
	assert.Equal(t, uint64(1), h.Counts[0])
	assert.Equal(t, uint64(1), h.Counts[255])
}

func TestHistogramRequestValidation(t *testing.T) {
	ctx := newTestContext(t)
	ds := openInline(t, ctx, vrtXML(1, 1, "Byte", ""))
	_, err := ds.GetRasterBand(1).GetHistogram(HistogramRequest{Min: 1, Max: 1, Buckets: 4})
	assert.Error(t, err)
	_, err = ds.GetRasterBand(1).GetHistogram(HistogramRequest{Min: 0, Max: 1, Buckets: 0})
	assert.Error(t, err)
}

func TestStatisticsWrittenBackOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.vrt")
	writeFile(t, path, lazySourceXML)

	ctx := newTestContext(t)
	srcPath := filepath.Join(dir, "src.tif")
	registerMem(t, ctx, srcPath, 2, 2, TypeByte, []float64{1, 2, 3, 8})

	ds, err := ctx.Open(path)
	require.NoError(t, err)
	_, err = ds.GetRasterBand(1).ComputeStatistics(false)
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<MDI key="STATISTICS_MAXIMUM">8</MDI>`)

	// 新上下文中不存在数据源，统计值只能来自描述文件
	other := newTestContext(t)
	reopened, err := other.Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	hi, ok := reopened.GetRasterBand(1).GetMaximum()
	require.True(t, ok)
	assert.Equal(t, 8.0, hi)
	assert.Equal(t, 0, other.Mem().OpenCount(srcPath))
}

func TestWriteBackDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.vrt")
	writeFile(t, path, lazySourceXML)

	ctx := newTestContext(t, func(c *Config) { c.WriteBackOnClose = false })
	registerMem(t, ctx, filepath.Join(dir, "src.tif"), 2, 2, TypeByte, []float64{1, 2, 3, 8})

	ds, err := ctx.Open(path)
	require.NoError(t, err)
	_, err = ds.GetRasterBand(1).ComputeStatistics(false)
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, lazySourceXML, string(data))
	assert.False(t, strings.Contains(string(data), "STATISTICS_"))
}

func TestDatasetComputeStatisticsAllBands(t *testing.T) {
	ctx := newTestContext(t)
	registerMem(t, ctx, "/stats/rgb.tif", 2, 1, TypeByte, []float64{1, 2}, []float64{3, 4}, []float64{5, 6})
	xml := `<VRTDataset rasterXSize="2" rasterYSize="1">`
	for i := 1; i <= 3; i++ {
		xml += `<VRTRasterBand dataType="Byte" band="` + string(rune('0'+i)) + `">
      <SimpleSource>
        <SourceFilename relativeToVRT="0">/stats/rgb.tif</SourceFilename>
        <SourceBand>` + string(rune('0'+i)) + `</SourceBand>
      </SimpleSource>
    </VRTRasterBand>`
	}
	xml += `</VRTDataset>`
	ds := openInline(t, ctx, xml)

	stats, err := ds.ComputeStatistics(false)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, 1.5, stats[0].Mean)
	assert.Equal(t, 3.5, stats[1].Mean)
	assert.Equal(t, 5.5, stats[2].Mean)

	bufs, err := ds.ReadRaster(NewWindow(0, 0, 2, 1), 2, 1, []int{3, 1}, ResampleNearest)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, bufs[0].Real)
	assert.Equal(t, []float64{1, 2}, bufs[1].Real)
}

func TestNBitsHistogramBucketing(t *testing.T) {
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/nbits.tif", 4, 1, TypeByte, []float64{10, 63, 64, 255})
	ds := openInline(t, ctx, vrtXML(4, 1, "Byte", nbits6, simpleSource("SimpleSource", "/stats/nbits.tif", "")))

	h, err := ds.GetRasterBand(1).GetHistogram(DefaultHistogramRequest())
	require.NoError(t, err)
	require.Len(t, h.Counts, 256)
	assert.Equal(t, uint64(1), h.Counts[10])
	assert.Equal(t, uint64(3), h.Counts[63])
	assert.Equal(t, uint64(0), h.Counts[64])
	assert.Equal(t, uint64(0), h.Counts[255])
	assert.Equal(t, 0, src.GetBand(1).GetHistogramCalls())
}

func TestHistogramDelegatesToSource(t *testing.T) {
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/hist.tif", 2, 2, TypeByte, []float64{0, 1, 1, 255})
	ds := openInline(t, ctx, vrtXML(2, 2, "Byte", "", simpleSource("SimpleSource", "/stats/hist.tif", "")))
	band := ds.GetRasterBand(1)

	h, err := band.GetHistogram(DefaultHistogramRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, src.GetBand(1).GetHistogramCalls())
	assert.Equal(t, uint64(2), h.Counts[1])

	// 第二次命中缓存
	_, err = band.GetHistogram(DefaultHistogramRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, src.GetBand(1).GetHistogramCalls())

	scaled := openInline(t, ctx, vrtXML(2, 2, "Byte", "",
		simpleSource("ComplexSource", "/stats/hist.tif", "<ScaleRatio>2</ScaleRatio>")))
	h, err = scaled.GetRasterBand(1).GetHistogram(DefaultHistogramRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, src.GetBand(1).GetHistogramCalls())
	assert.Equal(t, uint64(2), h.Counts[2])
}

func TestAveragedSourceNoPassThrough(t *testing.T) {
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/avg.tif", 2, 2, TypeByte, []float64{1, 2, 3, 4})
	mb := src.GetBand(1)
	require.NoError(t, mb.BuildOverviews(ResampleAverage, 2))
	_, err := mb.ComputeStatistics(false)
	require.NoError(t, err)
	calls := mb.ComputeStatisticsCalls()

	ds := openInline(t, ctx, vrtXML(2, 2, "Byte", "", simpleSource("AveragedSource", "/stats/avg.tif", "")))
	band := ds.GetRasterBand(1)

	_, ok := band.GetMinimum()
	assert.False(t, ok)
	st, err := band.ComputeStatistics(false)
	require.NoError(t, err)
	assert.Equal(t, calls, mb.ComputeStatisticsCalls())
	assert.Equal(t, 2.5, st.Mean)

	_, err = band.GetHistogram(DefaultHistogramRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, mb.GetHistogramCalls())

	assert.Equal(t, 0, band.OverviewCount())
	assert.Nil(t, band.GetOverview(0))
}

func TestDatasetStatisticsWithSharedNestedSource(t *testing.T) {
	dir := t.TempDir()
	ctx := newTestContext(t)
	src := registerMem(t, ctx, "/stats/shared.tif", 2, 2, TypeByte, []float64{1, 2, 3, 4})
	writeFile(t, filepath.Join(dir, "inner.vrt"), vrtXML(2, 2, "Byte", "",
		simpleSource("SimpleSource", "/stats/shared.tif", "")))

	var bands strings.Builder
	for i := 1; i <= 4; i++ {
		bands.WriteString(`<VRTRasterBand dataType="Byte" band="` + strconv.Itoa(i) + `">
    <SimpleSource>
      <SourceFilename relativeToVRT="1">inner.vrt</SourceFilename>
      <SourceBand>1</SourceBand>
    </SimpleSource>
  </VRTRasterBand>
`)
	}
	outer := filepath.Join(dir, "outer.vrt")
	writeFile(t, outer, `<VRTDataset rasterXSize="2" rasterYSize="2">
  `+bands.String()+`</VRTDataset>
`)

	ds, err := ctx.Open(outer)
	require.NoError(t, err)
	defer ds.Close()
	inner := ds.GetRasterBand(1).Sources()[0]
	for i := 2; i <= 4; i++ {
		s := ds.GetRasterBand(i).Sources()[0]
		b1, err := inner.resolve()
		require.NoError(t, err)
		b2, err := s.resolve()
		require.NoError(t, err)
		assert.Same(t, b1, b2)
	}

	stats, err := ds.ComputeStatistics(false)
	require.NoError(t, err)
	require.Len(t, stats, 4)
	for _, st := range stats {
		assert.Equal(t, Statistics{Min: 1, Max: 4, Mean: 2.5, StdDev: stats[0].StdDev}, st)
	}
	assert.Equal(t, 4, src.GetBand(1).ComputeStatisticsCalls())

	require.NoError(t, ds.BuildOverviews(ResampleAverage, []int{2}))
	for i := 1; i <= 4; i++ {
		band := ds.GetRasterBand(i)
		require.Equal(t, 1, band.OverviewCount())
		buf, err := band.GetOverview(0).Read(NewWindow(0, 0, 1, 1))
		require.NoError(t, err)
		assert.Equal(t, 3.0, buf.Real[0])
	}
}
