// MemDriver.go
package Govrt

import (
	"fmt"
	"sync"
)

// MemDriver 内存数据集驱动：按路径注册内存栅格，供组合引擎像普通文件一样打开
type MemDriver struct {
	mu       sync.Mutex
	datasets map[string]*MemDataset
	opens    map[string]int
	live     map[string]int
}

// NewMemDriver 创建内存驱动
func NewMemDriver() *MemDriver {
	return &MemDriver{
		datasets: make(map[string]*MemDataset),
		opens:    make(map[string]int),
		live:     make(map[string]int),
	}
}

func (d *MemDriver) Name() string { return "MEM" }

// Register 以路径注册数据集
func (d *MemDriver) Register(path string, ds *MemDataset) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.datasets[cleanPath(path)] = ds
}

// Unregister 注销路径，已打开的句柄不受影响
func (d *MemDriver) Unregister(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.datasets, cleanPath(path))
}

func (d *MemDriver) Identify(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.datasets[cleanPath(path)]
	return ok
}

func (d *MemDriver) Open(req *OpenRequest) (Dataset, error) {
	key := cleanPath(req.Path)
	d.mu.Lock()
	defer d.mu.Unlock()
	ds, ok := d.datasets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s not registered", ErrOpenFailed, req.Path)
	}
	d.opens[key]++
	d.live[key]++
	return &memHandle{MemDataset: ds, driver: d, key: key}, nil
}

// OpenCount 路径被打开的累计次数
func (d *MemDriver) OpenCount(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens[cleanPath(path)]
}

// LiveHandles 路径当前未关闭的句柄数
func (d *MemDriver) LiveHandles(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[cleanPath(path)]
}

// memHandle 一次打开得到的句柄
type memHandle struct {
	*MemDataset
	driver *MemDriver
	key    string
	once   sync.Once
}

func (h *memHandle) Close() error {
	h.once.Do(func() {
		h.driver.mu.Lock()
		h.driver.live[h.key]--
		h.driver.mu.Unlock()
	})
	return nil
}

// MemDataset 内存数据集
type MemDataset struct {
	width  int
	height int
	bands  []*MemBand
}

// NewMemDataset 创建内存数据集
func NewMemDataset(width, height, bandCount int, dt DataType) *MemDataset {
	ds := &MemDataset{width: width, height: height}
	for i := 0; i < bandCount; i++ {
		ds.bands = append(ds.bands, NewMemBand(width, height, dt))
	}
	return ds
}

func (ds *MemDataset) RasterXSize() int { return ds.width }
func (ds *MemDataset) RasterYSize() int { return ds.height }
func (ds *MemDataset) RasterCount() int { return len(ds.bands) }

func (ds *MemDataset) Band(index int) (Band, error) {
	b := ds.GetBand(index)
	if b == nil {
		return nil, fmt.Errorf("invalid band index: %d", index)
	}
	return b, nil
}

// GetBand 获取具体类型的波段，越界返回nil
func (ds *MemDataset) GetBand(index int) *MemBand {
	if index < 1 || index > len(ds.bands) {
		return nil
	}
	return ds.bands[index-1]
}

func (ds *MemDataset) Close() error { return nil }

// MemBand 内存波段
type MemBand struct {
	mu        sync.Mutex
	buf       *Buffer
	blockX    int
	blockY    int
	noData    float64
	hasNoData bool
	stats     *Statistics
	overviews []*MemBand
	readErr   error
	statCalls int
	histCalls int
}

// NewMemBand 创建内存波段，按行分块
func NewMemBand(width, height int, dt DataType) *MemBand {
	return &MemBand{buf: NewBuffer(width, height, dt), blockX: width, blockY: 1}
}

func (b *MemBand) XSize() int         { return b.buf.Width }
func (b *MemBand) YSize() int         { return b.buf.Height }
func (b *MemBand) DataType() DataType { return b.buf.DataType }

func (b *MemBand) BlockSize() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockX, b.blockY
}

func (b *MemBand) NoData() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.noData, b.hasNoData
}

func (b *MemBand) SetBlockSize(bx, by int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockX, b.blockY = bx, by
}

// SetReadError 之后的读取都返回err，nil恢复
func (b *MemBand) SetReadError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

// ComputeStatisticsCalls ComputeStatistics 被调用的次数
func (b *MemBand) ComputeStatisticsCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statCalls
}

// GetHistogramCalls GetHistogram 被调用的次数
func (b *MemBand) GetHistogramCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.histCalls
}

// SetNoData 设置NoData值
func (b *MemBand) SetNoData(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noData, b.hasNoData = v, true
}

// Fill 以常数填充
func (b *MemBand) Fill(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Fill(b.buf.DataType.Saturate(v))
	b.stats = nil
}

// WriteArray 按行写入窗口数据（实部）
func (b *MemBand) WriteArray(win Window, values []float64) error {
	return b.WriteComplex(win, values, nil)
}

// WriteComplex 写入复数窗口数据，imag可为nil
func (b *MemBand) WriteComplex(win Window, re, im []float64) error {
	if !win.Within(b.buf.Width, b.buf.Height) {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, win)
	}
	if len(re) != win.XSize*win.YSize || (im != nil && len(im) != len(re)) {
		return fmt.Errorf("data length mismatch: need %d values", win.XSize*win.YSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dt := b.buf.DataType
	for y := 0; y < win.YSize; y++ {
		for x := 0; x < win.XSize; x++ {
			i := y*win.XSize + x
			iv := 0.0
			if im != nil {
				iv = im[i]
			}
			b.buf.Set(win.XOff+x, win.YOff+y, dt.Saturate(re[i]), dt.Saturate(iv))
		}
	}
	b.stats = nil
	return nil
}

func (b *MemBand) Read(win Window) (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	return b.buf.SubWindow(win)
}

// CachedStatistics 已计算的统计值
func (b *MemBand) CachedStatistics() (Statistics, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stats == nil {
		return Statistics{}, false
	}
	return *b.stats, true
}

// ComputeStatistics 扫描计算统计值并缓存
func (b *MemBand) ComputeStatistics(approx bool) (Statistics, error) {
	b.mu.Lock()
	b.statCalls++
	b.mu.Unlock()
	st, err := scanStatistics(b, approx)
	if err != nil {
		return Statistics{}, err
	}
	b.mu.Lock()
	b.stats = &st
	b.mu.Unlock()
	return st, nil
}

// GetHistogram 扫描计算直方图
func (b *MemBand) GetHistogram(req HistogramRequest) (*Histogram, error) {
	b.mu.Lock()
	b.histCalls++
	b.mu.Unlock()
	return scanHistogram(b, req)
}

func (b *MemBand) OverviewCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.overviews)
}

func (b *MemBand) GetOverview(i int) Band {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.overviews) {
		return nil
	}
	return b.overviews[i]
}

// BuildOverviews 按抽稀因子生成概视图，替换已有概视图
func (b *MemBand) BuildOverviews(method ResampleMethod, factors ...int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	nodata := newNoDataMatcher(b.noData, b.hasNoData)
	var overviews []*MemBand
	for _, f := range factors {
		if f < 2 {
			return fmt.Errorf("invalid overview factor: %d", f)
		}
		w := (b.buf.Width + f - 1) / f
		h := (b.buf.Height + f - 1) / f
		ovr := &MemBand{
			buf:       resampleBuffer(b.buf, nodata, w, h, method),
			blockX:    w,
			blockY:    1,
			noData:    b.noData,
			hasNoData: b.hasNoData,
		}
		overviews = append(overviews, ovr)
	}
	b.overviews = overviews
	return nil
}
