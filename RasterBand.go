// RasterBand.go
package Govrt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

const defaultBlockSize = 128

// BandInfo 波段信息
type BandInfo struct {
	BandIndex   int
	DataType    DataType
	ColorInterp string
	NoDataValue float64
	HasNoData   bool
	MinValue    float64
	MaxValue    float64
	HasStats    bool
	SourceCount int
}

// PaletteEntry 调色板条目
type PaletteEntry struct {
	C1 int16 // Red or Gray
	C2 int16 // Green
	C3 int16 // Blue
	C4 int16 // Alpha
}

// VirtualBand 虚拟波段：按顺序合成各数据源
type VirtualBand struct {
	dataset   *VirtualDataset
	index     int
	desc      *BandDescriptor
	width     int
	height    int
	dataType  DataType
	blockX    int
	blockY    int
	noData    float64
	hasNoData bool
	nbits     int
	sources   []*Source
	cache     StatisticsCache

	parent        *VirtualBand
	ovrMu         sync.Mutex
	implicit      []*VirtualBand
	implicitBuilt bool
	stored        []*storedOverviewBand
}

func newVirtualBand(ds *VirtualDataset, index int, bd *BandDescriptor, cache StatisticsCache) (*VirtualBand, error) {
	b := &VirtualBand{
		dataset:  ds,
		index:    index,
		desc:     bd,
		width:    ds.desc.RasterXSize,
		height:   ds.desc.RasterYSize,
		dataType: ParseDataType(bd.DataType),
		blockX:   bd.BlockXSize,
		blockY:   bd.BlockYSize,
		cache:    cache,
	}
	if b.blockX <= 0 {
		b.blockX = minInt(defaultBlockSize, b.width)
	}
	if b.blockY <= 0 {
		b.blockY = minInt(defaultBlockSize, b.height)
	}
	if bd.NoDataValue != nil {
		v, err := parseNoData(*bd.NoDataValue)
		if err != nil {
			return nil, malformed("band %d: invalid NoDataValue %q", index, *bd.NoDataValue)
		}
		b.noData, b.hasNoData = v, true
	}
	if v, ok := getMetadata(bd.Metadata, "IMAGE_STRUCTURE", "NBITS"); ok {
		b.nbits, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	for i, sd := range bd.Sources {
		src, err := newSource(b, sd)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("band %d source %d: %w", index, i+1, err)
		}
		b.sources = append(b.sources, src)
	}
	return b, nil
}

func (b *VirtualBand) XSize() int               { return b.width }
func (b *VirtualBand) YSize() int               { return b.height }
func (b *VirtualBand) DataType() DataType       { return b.dataType }
func (b *VirtualBand) BlockSize() (int, int)    { return b.blockX, b.blockY }
func (b *VirtualBand) NoData() (float64, bool)  { return b.noData, b.hasNoData }
func (b *VirtualBand) Index() int               { return b.index }
func (b *VirtualBand) Sources() []*Source       { return b.sources }
func (b *VirtualBand) Dataset() *VirtualDataset { return b.dataset }
func (b *VirtualBand) IsOverview() bool         { return b.parent != nil }

// NBits 有效位数，0表示未设置
func (b *VirtualBand) NBits() int {
	return b.nbits
}

// nbitsRange NBITS截断范围
func (b *VirtualBand) nbitsRange() (float64, float64, bool) {
	if b.nbits <= 0 {
		return 0, 0, false
	}
	return NBitsRange(b.dataType, b.nbits)
}

// fillValue 未被任何数据源覆盖的像元取值
func (b *VirtualBand) fillValue() float64 {
	if !b.hasNoData {
		return 0
	}
	if b.dataType.IsInteger() {
		return b.dataType.Saturate(b.noData)
	}
	return b.noData
}

// ==================== 读取 ====================

// Read 按原始分辨率读取窗口
func (b *VirtualBand) Read(win Window) (*Buffer, error) {
	return b.ReadRaster(win, win.XSize, win.YSize, ResampleNearest)
}

// ReadRaster 读取窗口并重采样到 bufW x bufH
//
// 缓冲区先以NoData（或0）填充，再按声明顺序绘制各数据源，后者覆盖前者。
func (b *VirtualBand) ReadRaster(win Window, bufW, bufH int, method ResampleMethod) (*Buffer, error) {
	if !win.Within(b.width, b.height) || bufW <= 0 || bufH <= 0 {
		return nil, fmt.Errorf("%w: %s -> %dx%d on %dx%d band", ErrInvalidWindow, win, bufW, bufH, b.width, b.height)
	}
	buf := NewBuffer(bufW, bufH, b.dataType)
	buf.Fill(b.fillValue())
	for i, src := range b.sources {
		if err := src.paint(b, win, buf, method); err != nil {
			return nil, fmt.Errorf("band %d source %d: %w", b.index, i+1, err)
		}
	}
	if lo, hi, ok := b.nbitsRange(); ok {
		nodata := newNoDataMatcher(b.noData, b.hasNoData)
		for i, v := range buf.Real {
			if nodata.matches(v) {
				continue
			}
			buf.Real[i] = clampNBits(v, lo, hi)
			if buf.Imag != nil {
				buf.Imag[i] = clampNBits(buf.Imag[i], lo, hi)
			}
		}
	}
	return buf, nil
}

// ReadData 读取整个波段（实部）
func (b *VirtualBand) ReadData() ([]float64, error) {
	buf, err := b.Read(NewWindow(0, 0, b.width, b.height))
	if err != nil {
		return nil, err
	}
	return buf.Real, nil
}

var checksumPrimes = [...]int{7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71, 73, 79, 83, 89, 97, 101, 103, 107, 109, 113, 127, 131, 137, 139, 149, 151, 157, 163, 167, 173, 179, 181, 191, 193, 197, 199, 211, 223, 227, 229, 233, 239, 241}

// Checksum 窗口校验和（16位），复数按实部、虚部交错参与
func (b *VirtualBand) Checksum(win Window) (int, error) {
	if !win.Within(b.width, b.height) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidWindow, win)
	}
	checksum := 0
	prime := 0
	for y := win.YOff; y < win.YOff+win.YSize; y++ {
		line, err := b.Read(NewWindow(win.XOff, y, win.XSize, 1))
		if err != nil {
			return 0, err
		}
		for x := 0; x < win.XSize; x++ {
			values := [2]float64{line.Real[x], 0}
			n := 1
			if line.Imag != nil {
				values[1] = line.Imag[x]
				n = 2
			}
			for k := 0; k < n; k++ {
				checksum += checksumValue(values[k], b.dataType) % checksumPrimes[prime]
				prime++
				if prime > 10 {
					prime = 0
				}
				checksum &= 0xffff
			}
		}
	}
	return checksum, nil
}

func checksumValue(v float64, dt DataType) int {
	if dt.IsInteger() {
		return int(v)
	}
	if math.IsNaN(v) {
		return 0
	}
	v = math.Floor(v + 0.5)
	if v < math.MinInt32 {
		return math.MinInt32
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// ==================== 波段属性 ====================

// GetDescription 波段描述
func (b *VirtualBand) GetDescription() string {
	if b.desc == nil {
		return ""
	}
	return b.desc.Description
}

// GetUnitType 单位
func (b *VirtualBand) GetUnitType() string {
	if b.desc == nil {
		return ""
	}
	return b.desc.UnitType
}

// GetOffset 值偏移
func (b *VirtualBand) GetOffset() (float64, bool) {
	if b.desc == nil || b.desc.Offset == nil {
		return 0, false
	}
	return *b.desc.Offset, true
}

// GetScale 值缩放
func (b *VirtualBand) GetScale() (float64, bool) {
	if b.desc == nil || b.desc.Scale == nil {
		return 1, false
	}
	return *b.desc.Scale, true
}

// GetColorInterpretation 颜色解释
func (b *VirtualBand) GetColorInterpretation() string {
	if b.desc == nil || b.desc.ColorInterp == "" {
		return "Undefined"
	}
	return b.desc.ColorInterp
}

// GetCategoryNames 类别名称
func (b *VirtualBand) GetCategoryNames() []string {
	if b.desc == nil || b.desc.CategoryNames == nil {
		return nil
	}
	return append([]string(nil), b.desc.CategoryNames.Categories...)
}

// GetPalette 调色板
func (b *VirtualBand) GetPalette() []PaletteEntry {
	if b.desc == nil || b.desc.ColorTable == nil {
		return nil
	}
	entries := make([]PaletteEntry, len(b.desc.ColorTable.Entries))
	for i, e := range b.desc.ColorTable.Entries {
		entries[i] = PaletteEntry{C1: int16(e.C1), C2: int16(e.C2), C3: int16(e.C3), C4: int16(e.C4)}
	}
	return entries
}

// GetMetadataItem 读取元数据项
func (b *VirtualBand) GetMetadataItem(key, domain string) (string, bool) {
	if b.desc == nil {
		return "", false
	}
	return getMetadata(b.desc.Metadata, domain, key)
}

// SetMetadataItem 写入元数据项，标记数据集需回写
func (b *VirtualBand) SetMetadataItem(key, value, domain string) error {
	if b.desc == nil {
		return ErrReadOnly
	}
	setMetadata(&b.desc.Metadata, domain, key, value)
	b.dataset.markDirty()
	return nil
}

// GetBandInfo 波段信息，不触发统计扫描
func (b *VirtualBand) GetBandInfo() BandInfo {
	info := BandInfo{
		BandIndex:   b.index,
		DataType:    b.dataType,
		ColorInterp: b.GetColorInterpretation(),
		NoDataValue: b.noData,
		HasNoData:   b.hasNoData,
		SourceCount: len(b.sources),
	}
	if st, ok := b.CachedStatistics(); ok {
		info.MinValue, info.MaxValue, info.HasStats = st.Min, st.Max, true
	}
	return info
}

// descriptor 当前状态的波段描述
func (b *VirtualBand) descriptor() *BandDescriptor {
	bd := *b.desc
	bd.Sources = make([]*SourceDescriptor, len(b.sources))
	for i, s := range b.sources {
		bd.Sources[i] = s.descriptor()
	}
	return &bd
}

func (b *VirtualBand) close() {
	for _, s := range b.sources {
		s.release()
	}
	b.ovrMu.Lock()
	for _, ovr := range b.implicit {
		ovr.close()
	}
	b.implicit = nil
	b.implicitBuilt = false
	b.ovrMu.Unlock()
}
