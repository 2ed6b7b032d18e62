// Source.go
package Govrt

import (
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// SourceKind 数据源类别
type SourceKind int

const (
	SourceSimple SourceKind = iota
	SourceComplex
	SourceAveraged
)

func (k SourceKind) String() string {
	switch k {
	case SourceComplex:
		return elementComplexSource
	case SourceAveraged:
		return elementAveragedSource
	}
	return elementSimpleSource
}

// SourceInfo 数据源属性（声明值或打开后得到的实际值）
type SourceInfo struct {
	XSize      int
	YSize      int
	DataType   DataType
	BlockXSize int
	BlockYSize int
}

// lutPoint 查找表节点
type lutPoint struct {
	in, out float64
}

// Source 组合数据源：把某个底层波段的源矩形映射到虚拟波段的目标矩形
type Source struct {
	Kind      SourceKind
	Filename  string
	Shared    bool
	BandIndex int
	Info      SourceInfo
	SrcRect   Rect
	DstRect   Rect

	ScaleOffset float64
	ScaleRatio  float64
	NoData      float64
	HasNoData   bool
	Resampling  ResampleMethod
	resampleSet bool
	lut         []lutPoint

	desc          *SourceDescriptor
	owner         *VirtualBand
	pool          *SourceDatasetPool
	depth         int
	overviewLevel int

	mu      sync.Mutex
	handle  *PoolHandle
	band    Band
	virtual atomic.Pointer[VirtualBand] // 已打开且为虚拟波段时的引用，供环检测无锁遍历
}

// newSource 由描述构建数据源；未声明属性或源矩形时立即打开数据源
func newSource(owner *VirtualBand, sd *SourceDescriptor) (*Source, error) {
	ds := owner.dataset
	s := &Source{
		Filename:      ds.ctx.resolveSourcePath(ds.desc.path, sd.SourceFilename.Path, sd.SourceFilename.RelativeToVRT != 0),
		Shared:        ds.ctx.config.SharedSources,
		BandIndex:     1,
		ScaleRatio:    1,
		desc:          sd,
		owner:         owner,
		pool:          ds.ctx.pool,
		depth:         ds.depth + 1,
		overviewLevel: -1,
	}
	switch sd.XMLName.Local {
	case elementComplexSource:
		s.Kind = SourceComplex
	case elementAveragedSource:
		s.Kind = SourceAveraged
	}
	if sd.SourceFilename.Shared != "" {
		s.Shared, _ = parseBoolOption(sd.SourceFilename.Shared)
	}
	if sd.SourceBand != nil {
		s.BandIndex = *sd.SourceBand
	}
	if sd.Resampling != "" {
		s.Resampling = ParseResampleMethod(sd.Resampling)
		s.resampleSet = true
	}
	if s.Kind == SourceComplex {
		if sd.ScaleOffset != nil {
			s.ScaleOffset = *sd.ScaleOffset
		}
		if sd.ScaleRatio != nil {
			s.ScaleRatio = *sd.ScaleRatio
		}
		if sd.NoData != nil {
			v, err := parseNoData(*sd.NoData)
			if err != nil {
				return nil, malformed("invalid NODATA %q", *sd.NoData)
			}
			s.NoData, s.HasNoData = v, true
		}
		if sd.LUT != "" {
			lut, err := parseLUT(sd.LUT)
			if err != nil {
				return nil, malformed("%v", err)
			}
			s.lut = lut
		}
	}

	if p := sd.SourceProperties; p != nil {
		s.Info = SourceInfo{
			XSize:      p.RasterXSize,
			YSize:      p.RasterYSize,
			DataType:   ParseDataType(p.DataType),
			BlockXSize: p.BlockXSize,
			BlockYSize: p.BlockYSize,
		}
	}
	if sd.SourceProperties == nil || sd.SrcRect == nil {
		if _, err := s.resolve(); err != nil {
			return nil, err
		}
	}

	if sd.SrcRect != nil {
		s.SrcRect = sd.SrcRect.rect()
	} else {
		s.SrcRect = Rect{XSize: float64(s.Info.XSize), YSize: float64(s.Info.YSize)}
	}
	if sd.DstRect != nil {
		s.DstRect = sd.DstRect.rect()
	} else {
		s.DstRect = Rect{XSize: s.SrcRect.XSize, YSize: s.SrcRect.YSize}
	}
	return s, nil
}

// resolve 打开数据源并取得底层波段（只打开一次）
func (s *Source) resolve() (Band, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.band != nil {
		return s.band, nil
	}
	handle, err := s.pool.Acquire(s.Filename, s.Shared, s.depth)
	if err != nil {
		return nil, err
	}
	band, err := handle.Dataset().Band(s.BandIndex)
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("%w: %s band %d: %v", ErrOpenFailed, s.Filename, s.BandIndex, err)
	}
	if s.overviewLevel >= 0 {
		op, ok := band.(OverviewProvider)
		var ovr Band
		if ok {
			ovr = op.GetOverview(s.overviewLevel)
		}
		if ovr == nil {
			handle.Release()
			return nil, fmt.Errorf("%w: %s band %d has no overview %d", ErrOpenFailed, s.Filename, s.BandIndex, s.overviewLevel)
		}
		band = ovr
	}
	if s.owner != nil && reachesBand(band, s.owner, s, make(map[*VirtualBand]bool)) {
		handle.Release()
		return nil, fmt.Errorf("%w: %s band %d is read recursively from itself", ErrRecursionLimitExceeded, s.Filename, s.BandIndex)
	}
	s.handle = handle
	s.band = band
	if vb, ok := band.(*VirtualBand); ok {
		s.virtual.Store(vb)
	}

	bx, by := band.BlockSize()
	info := SourceInfo{XSize: band.XSize(), YSize: band.YSize(), DataType: band.DataType(), BlockXSize: bx, BlockYSize: by}
	if s.Info.XSize == 0 {
		s.Info = info
	} else if s.Info.DataType == TypeUnknown {
		s.Info.DataType = info.DataType
	}
	return band, nil
}

// release 归还句柄
func (s *Source) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.handle.Release()
		s.handle = nil
	}
	s.band = nil
	s.virtual.Store(nil)
}

// reachesBand 沿已打开的虚拟数据源查找能否回到 target
func reachesBand(from Band, target *VirtualBand, skip *Source, seen map[*VirtualBand]bool) bool {
	vb, ok := from.(*VirtualBand)
	if !ok {
		return false
	}
	if vb == target {
		return true
	}
	if seen[vb] {
		return false
	}
	seen[vb] = true
	for _, src := range vb.sources {
		if src == skip {
			continue
		}
		if next := src.virtual.Load(); next != nil && reachesBand(next, target, skip, seen) {
			return true
		}
	}
	return false
}

// IsOpen 数据源是否已打开
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.band != nil
}

// isTransformed 复合源是否改变像元值
func (s *Source) isTransformed() bool {
	return s.Kind == SourceComplex && (s.ScaleRatio != 1 || s.ScaleOffset != 0 || len(s.lut) > 0)
}

// transform 线性缩放后应用查找表
func (s *Source) transform(re, im float64) (float64, float64) {
	if s.Kind != SourceComplex {
		return re, im
	}
	re = re*s.ScaleRatio + s.ScaleOffset
	im = im*s.ScaleRatio + s.ScaleOffset
	if len(s.lut) > 0 {
		re = applyLUT(s.lut, re)
	}
	return re, im
}

// coversWholeSource 源矩形是否正好是整个数据源
func (s *Source) coversWholeSource() bool {
	return s.SrcRect.XOff == 0 && s.SrcRect.YOff == 0 &&
		s.SrcRect.XSize == float64(s.Info.XSize) && s.SrcRect.YSize == float64(s.Info.YSize)
}

// unscaled 源矩形与目标矩形尺寸一致
func (s *Source) unscaled() bool {
	return s.SrcRect.XSize == s.DstRect.XSize && s.SrcRect.YSize == s.DstRect.YSize
}

// overviewSource 构造对应底层概视图层级的数据源，几何按层级比例缩放
func (s *Source) overviewSource(owner *VirtualBand, level int, srcScaleX, srcScaleY, dstScaleX, dstScaleY float64, ovrW, ovrH int) *Source {
	o := &Source{
		Kind:          s.Kind,
		Filename:      s.Filename,
		Shared:        s.Shared,
		BandIndex:     s.BandIndex,
		Info:          SourceInfo{XSize: ovrW, YSize: ovrH, DataType: s.Info.DataType},
		ScaleOffset:   s.ScaleOffset,
		ScaleRatio:    s.ScaleRatio,
		NoData:        s.NoData,
		HasNoData:     s.HasNoData,
		Resampling:    s.Resampling,
		resampleSet:   s.resampleSet,
		lut:           s.lut,
		desc:          s.desc,
		owner:         owner,
		pool:          s.pool,
		depth:         s.depth,
		overviewLevel: level,
	}
	o.SrcRect = Rect{
		XOff:  s.SrcRect.XOff * srcScaleX,
		YOff:  s.SrcRect.YOff * srcScaleY,
		XSize: s.SrcRect.XSize * srcScaleX,
		YSize: s.SrcRect.YSize * srcScaleY,
	}
	o.DstRect = Rect{
		XOff:  s.DstRect.XOff * dstScaleX,
		YOff:  s.DstRect.YOff * dstScaleY,
		XSize: s.DstRect.XSize * dstScaleX,
		YSize: s.DstRect.YSize * dstScaleY,
	}
	return o
}

// descriptor 当前状态对应的描述，保留原有的声明方式
func (s *Source) descriptor() *SourceDescriptor {
	sd := *s.desc
	sd.XMLName = xml.Name{Local: s.Kind.String()}
	return &sd
}

func parseLUT(text string) ([]lutPoint, error) {
	var lut []lutPoint
	for _, pair := range strings.Split(text, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid LUT entry %q", pair)
		}
		in, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		out, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid LUT entry %q", pair)
		}
		lut = append(lut, lutPoint{in: in, out: out})
	}
	if len(lut) == 0 {
		return nil, fmt.Errorf("empty LUT")
	}
	sort.SliceStable(lut, func(i, j int) bool { return lut[i].in < lut[j].in })
	return lut, nil
}

// applyLUT 查找表分段线性插值，超出范围取端点值
func applyLUT(lut []lutPoint, v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if v <= lut[0].in {
		return lut[0].out
	}
	last := lut[len(lut)-1]
	if v >= last.in {
		return last.out
	}
	i := sort.Search(len(lut), func(i int) bool { return lut[i].in >= v })
	lo, hi := lut[i-1], lut[i]
	if hi.in == lo.in {
		return hi.out
	}
	return lo.out + (v-lo.in)*(hi.out-lo.out)/(hi.in-lo.in)
}
