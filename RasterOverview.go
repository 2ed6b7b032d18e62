// RasterOverview.go
package Govrt

import (
	"fmt"
	"log"
	"math"
	"sync"
)

// ==================== 概视图 ====================

// OverviewCount 概视图数量：已构建的存储概视图优先，否则为隐式概视图
func (b *VirtualBand) OverviewCount() int {
	if len(b.stored) > 0 {
		return len(b.stored)
	}
	return len(b.implicitOverviews())
}

// GetOverview 第i个概视图，越界返回nil
func (b *VirtualBand) GetOverview(i int) Band {
	if len(b.stored) > 0 {
		if i < 0 || i >= len(b.stored) {
			return nil
		}
		return b.stored[i]
	}
	ovrs := b.implicitOverviews()
	if i < 0 || i >= len(ovrs) {
		return nil
	}
	return ovrs[i]
}

// implicitOverviews 由底层概视图派生的虚拟概视图
//
// 仅当波段只有一个简单/复合源、源矩形与目标矩形尺寸相同且源矩形在数据源范围内时可用；
// 复合源的值变换随层级保留。
func (b *VirtualBand) implicitOverviews() []*VirtualBand {
	b.ovrMu.Lock()
	defer b.ovrMu.Unlock()
	if b.implicitBuilt {
		return b.implicit
	}
	b.implicitBuilt = true
	if b.parent != nil || len(b.sources) != 1 {
		return nil
	}
	s := b.sources[0]
	if s.Kind == SourceAveraged || !s.unscaled() {
		return nil
	}
	src, err := s.resolve()
	if err != nil {
		log.Printf("波段 %d: 打开数据源失败: %v", b.index, err)
		return nil
	}
	if s.SrcRect.XOff < 0 || s.SrcRect.YOff < 0 ||
		s.SrcRect.XOff+s.SrcRect.XSize > float64(s.Info.XSize) ||
		s.SrcRect.YOff+s.SrcRect.YSize > float64(s.Info.YSize) {
		return nil
	}
	op, ok := src.(OverviewProvider)
	if !ok {
		return nil
	}
	for level := 0; level < op.OverviewCount(); level++ {
		ovr := op.GetOverview(level)
		if ovr == nil {
			continue
		}
		srcScaleX := float64(ovr.XSize()) / float64(s.Info.XSize)
		srcScaleY := float64(ovr.YSize()) / float64(s.Info.YSize)
		w := maxInt(1, int(math.Round(float64(b.width)*srcScaleX)))
		h := maxInt(1, int(math.Round(float64(b.height)*srcScaleY)))
		dstScaleX := float64(w) / float64(b.width)
		dstScaleY := float64(h) / float64(b.height)

		ob := &VirtualBand{
			dataset:       b.dataset,
			index:         b.index,
			width:         w,
			height:        h,
			dataType:      b.dataType,
			blockX:        minInt(b.blockX, w),
			blockY:        minInt(b.blockY, h),
			noData:        b.noData,
			hasNoData:     b.hasNoData,
			nbits:         b.nbits,
			parent:        b,
			implicitBuilt: true,
		}
		ob.sources = []*Source{s.overviewSource(ob, level, srcScaleX, srcScaleY, dstScaleX, dstScaleY, ovr.XSize(), ovr.YSize())}
		b.implicit = append(b.implicit, ob)
	}
	return b.implicit
}

// storedOverviewBand 从侧车库读取的概视图，首次读取时整体加载
type storedOverviewBand struct {
	store  *OverviewStore
	parent *VirtualBand
	level  OverviewLevel

	once sync.Once
	buf  *Buffer
	err  error
}

func (o *storedOverviewBand) XSize() int              { return o.level.Width }
func (o *storedOverviewBand) YSize() int              { return o.level.Height }
func (o *storedOverviewBand) DataType() DataType      { return o.parent.dataType }
func (o *storedOverviewBand) BlockSize() (int, int)   { return o.level.Width, 1 }
func (o *storedOverviewBand) NoData() (float64, bool) { return o.parent.noData, o.parent.hasNoData }

// Factor 抽稀因子
func (o *storedOverviewBand) Factor() int {
	return o.level.Factor
}

func (o *storedOverviewBand) Read(win Window) (*Buffer, error) {
	o.once.Do(func() {
		o.buf, o.err = o.store.LoadOverview(o.level.Band, o.level.Factor)
	})
	if o.err != nil {
		return nil, o.err
	}
	return o.buf.SubWindow(win)
}

// loadStoredOverviews 读取侧车库中该波段的层级
func (b *VirtualBand) loadStoredOverviews(store *OverviewStore) error {
	b.stored = nil
	if store == nil {
		return nil
	}
	levels, err := store.Levels(b.index)
	if err != nil {
		return err
	}
	for _, lvl := range levels {
		b.stored = append(b.stored, &storedOverviewBand{store: store, parent: b, level: lvl})
	}
	return nil
}

// buildOverviews 按抽稀因子生成并写入侧车库
func (b *VirtualBand) buildOverviews(store *OverviewStore, method ResampleMethod, factors []int) error {
	full := NewWindow(0, 0, b.width, b.height)
	for _, f := range factors {
		w := (b.width + f - 1) / f
		h := (b.height + f - 1) / f
		buf, err := b.ReadRaster(full, w, h, method)
		if err != nil {
			return fmt.Errorf("band %d overview %d: %w", b.index, f, err)
		}
		if err := store.PutOverview(b.index, f, method, buf); err != nil {
			return fmt.Errorf("band %d overview %d: %w", b.index, f, err)
		}
	}
	return nil
}
