// RasterReader.go
package Govrt

import (
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// VirtualDataset 虚拟数据集：描述记录与各波段的合成视图
type VirtualDataset struct {
	ctx    *Context
	desc   *Descriptor
	key    string
	depth  int
	bands  []*VirtualBand
	dirty  atomic.Bool
	closed bool

	overviews *OverviewStore
}

// DatasetInfo 数据集信息
type DatasetInfo struct {
	Width        int
	Height       int
	BandCount    int
	GeoTransform [6]float64
	Projection   string
	HasGeoInfo   bool
	GCPCount     int
}

func newVirtualDataset(ctx *Context, desc *Descriptor, depth int) (*VirtualDataset, error) {
	ds := &VirtualDataset{ctx: ctx, desc: desc, depth: depth}
	if desc.path != "" {
		ds.key = canonicalPath(desc.path)
	} else {
		ds.key = "inline:" + uuid.New().String()
	}

	var cache StatisticsCache = newDescriptorCache(desc, ds.markDirty)
	if ctx.aux != nil {
		cache = &layeredCache{primary: cache, secondary: ctx.aux.ForDataset(ds.key)}
	}

	for i, bd := range desc.Bands {
		band, err := newVirtualBand(ds, i+1, bd, cache)
		if err != nil {
			ds.closeBands()
			return nil, err
		}
		ds.bands = append(ds.bands, band)
	}

	if desc.path != "" {
		store, err := openExistingOverviewStore(desc.path)
		if err != nil {
			log.Printf("打开概视图侧车库失败，忽略: %v", err)
		} else if store != nil {
			ds.overviews = store
			for _, b := range ds.bands {
				if err := b.loadStoredOverviews(store); err != nil {
					log.Printf("读取波段 %d 概视图失败: %v", b.index, err)
				}
			}
		}
	}
	return ds, nil
}

func (ds *VirtualDataset) RasterXSize() int { return ds.desc.RasterXSize }
func (ds *VirtualDataset) RasterYSize() int { return ds.desc.RasterYSize }
func (ds *VirtualDataset) RasterCount() int { return len(ds.bands) }

// Band 按1起始序号获取波段
func (ds *VirtualDataset) Band(index int) (Band, error) {
	b := ds.GetRasterBand(index)
	if b == nil {
		return nil, fmt.Errorf("invalid band index: %d", index)
	}
	return b, nil
}

// GetRasterBand 获取波段，越界返回nil
func (ds *VirtualDataset) GetRasterBand(index int) *VirtualBand {
	if index < 1 || index > len(ds.bands) {
		return nil
	}
	return ds.bands[index-1]
}

// Descriptor 描述记录
func (ds *VirtualDataset) Descriptor() *Descriptor {
	return ds.desc
}

// Path 描述文件路径，内联描述为空
func (ds *VirtualDataset) Path() string {
	return ds.desc.path
}

// Context 所属上下文
func (ds *VirtualDataset) Context() *Context {
	return ds.ctx
}

func (ds *VirtualDataset) markDirty() {
	ds.dirty.Store(true)
}

// IsDirty 是否有未回写的修改
func (ds *VirtualDataset) IsDirty() bool {
	return ds.dirty.Load()
}

// GetInfo 获取数据集信息
func (ds *VirtualDataset) GetInfo() DatasetInfo {
	gt, ok := ds.GetGeoTransform()
	info := DatasetInfo{
		Width:        ds.RasterXSize(),
		Height:       ds.RasterYSize(),
		BandCount:    ds.RasterCount(),
		GeoTransform: gt,
		Projection:   ds.GetProjection(),
		HasGeoInfo:   ok,
	}
	if ds.desc.GCPList != nil {
		info.GCPCount = len(ds.desc.GCPList.GCPs)
	}
	return info
}

// ==================== 地理参考 ====================

// GetProjection 空间参考
func (ds *VirtualDataset) GetProjection() string {
	return strings.TrimSpace(ds.desc.SRS)
}

// SetProjection 设置空间参考
func (ds *VirtualDataset) SetProjection(srs string) {
	ds.desc.SRS = srs
	ds.markDirty()
}

// GetGeoTransform 仿射变换参数，未设置时返回单位变换与false
func (ds *VirtualDataset) GetGeoTransform() ([6]float64, bool) {
	identity := [6]float64{0, 1, 0, 0, 0, 1}
	text := strings.TrimSpace(ds.desc.GeoTransform)
	if text == "" {
		return identity, false
	}
	parts := strings.Split(text, ",")
	if len(parts) != 6 {
		return identity, false
	}
	var gt [6]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return identity, false
		}
		gt[i] = v
	}
	return gt, true
}

// SetGeoTransform 设置仿射变换参数
func (ds *VirtualDataset) SetGeoTransform(gt [6]float64) {
	parts := make([]string, 6)
	for i, v := range gt {
		parts[i] = strconv.FormatFloat(v, 'e', 16, 64)
	}
	ds.desc.GeoTransform = strings.Join(parts, ", ")
	ds.markDirty()
}

// PixelToGeo 像元坐标转地理坐标
func (ds *VirtualDataset) PixelToGeo(px, py float64) (float64, float64) {
	gt, _ := ds.GetGeoTransform()
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

// GetBounds 数据集范围 minX, minY, maxX, maxY
func (ds *VirtualDataset) GetBounds() (minX, minY, maxX, maxY float64) {
	w, h := float64(ds.RasterXSize()), float64(ds.RasterYSize())
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := ds.PixelToGeo(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return
}

// GetGCPs 地面控制点
func (ds *VirtualDataset) GetGCPs() []GCP {
	if ds.desc.GCPList == nil {
		return nil
	}
	return append([]GCP(nil), ds.desc.GCPList.GCPs...)
}

// GetGCPProjection 控制点空间参考
func (ds *VirtualDataset) GetGCPProjection() string {
	if ds.desc.GCPList == nil {
		return ""
	}
	return ds.desc.GCPList.Projection
}

// SetGCPs 设置地面控制点，gcps为空时移除
func (ds *VirtualDataset) SetGCPs(gcps []GCP, projection string) {
	if len(gcps) == 0 && projection == "" {
		ds.desc.GCPList = nil
	} else {
		ds.desc.GCPList = &GCPList{Projection: projection, GCPs: append([]GCP(nil), gcps...)}
	}
	ds.markDirty()
}

// GetMetadataItem 数据集元数据项
func (ds *VirtualDataset) GetMetadataItem(key, domain string) (string, bool) {
	return getMetadata(ds.desc.Metadata, domain, key)
}

// SetMetadataItem 写入数据集元数据项
func (ds *VirtualDataset) SetMetadataItem(key, value, domain string) {
	setMetadata(&ds.desc.Metadata, domain, key, value)
	ds.markDirty()
}

// ==================== 读取 ====================

// ReadRaster 读取多个波段的同一窗口；bands为空时读取全部波段
func (ds *VirtualDataset) ReadRaster(win Window, bufW, bufH int, bands []int, method ResampleMethod) ([]*Buffer, error) {
	if len(bands) == 0 {
		for i := range ds.bands {
			bands = append(bands, i+1)
		}
	}
	out := make([]*Buffer, len(bands))
	for i, idx := range bands {
		b := ds.GetRasterBand(idx)
		if b == nil {
			return nil, fmt.Errorf("invalid band index: %d", idx)
		}
		buf, err := b.ReadRaster(win, bufW, bufH, method)
		if err != nil {
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

// ComputeStatistics 依次计算全部波段统计值
//
// 各波段可能共享同一个池化数据源，因此不并行。
func (ds *VirtualDataset) ComputeStatistics(approx bool) ([]Statistics, error) {
	stats := make([]Statistics, len(ds.bands))
	for i, b := range ds.bands {
		st, err := b.ComputeStatistics(approx)
		if err != nil {
			return stats, err
		}
		stats[i] = st
	}
	return stats, nil
}

// ==================== 概视图 ====================

// BuildOverviews 生成存储概视图并写入侧车库，替换已有概视图
func (ds *VirtualDataset) BuildOverviews(method ResampleMethod, factors []int) error {
	if len(factors) == 0 {
		return fmt.Errorf("no overview factors")
	}
	factors = append([]int(nil), factors...)
	sort.Ints(factors)
	for _, f := range factors {
		if f < 2 {
			return fmt.Errorf("invalid overview factor: %d", f)
		}
	}

	if ds.overviews == nil {
		dsn := memoryOverviewDSN()
		if ds.desc.path != "" {
			dsn = overviewSidecarPath(ds.desc.path)
		}
		store, err := OpenOverviewStore(dsn)
		if err != nil {
			return err
		}
		ds.overviews = store
	}
	if err := ds.overviews.Clear(); err != nil {
		return err
	}
	for _, b := range ds.bands {
		if err := b.buildOverviews(ds.overviews, method, factors); err != nil {
			return err
		}
	}
	if err := ds.overviews.SetMetadata("resampling", method.String()); err != nil {
		return err
	}
	for _, b := range ds.bands {
		if err := b.loadStoredOverviews(ds.overviews); err != nil {
			return err
		}
	}
	log.Printf("概视图生成完成: %d 个层级, %d 个波段", len(factors), len(ds.bands))
	return nil
}

// ==================== 序列化与关闭 ====================

// Serialize 当前状态的描述文档，保留原有的路径与声明方式
func (ds *VirtualDataset) Serialize() ([]byte, error) {
	out := *ds.desc
	out.Bands = make([]*BandDescriptor, len(ds.bands))
	for i, b := range ds.bands {
		out.Bands[i] = b.descriptor()
	}
	return out.Marshal()
}

// Flush 将修改回写到描述文件；内联描述无处回写
func (ds *VirtualDataset) Flush() error {
	if !ds.dirty.Load() || ds.desc.path == "" {
		return nil
	}
	data, err := ds.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(ds.desc.path, data, 0644); err != nil {
		return fmt.Errorf("write back %s: %w", ds.desc.path, err)
	}
	ds.dirty.Store(false)
	return nil
}

// Close 回写修改（按配置），释放全部数据源句柄
func (ds *VirtualDataset) Close() error {
	if ds.closed {
		return nil
	}
	ds.closed = true
	var firstErr error
	if ds.ctx.config.WriteBackOnClose {
		if err := ds.Flush(); err != nil {
			log.Printf("回写描述文件失败: %v", err)
			firstErr = err
		}
	}
	ds.closeBands()
	if ds.overviews != nil {
		if err := ds.overviews.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		ds.overviews = nil
	}
	return firstErr
}

func (ds *VirtualDataset) closeBands() {
	for _, b := range ds.bands {
		b.close()
	}
}
