// Driver.go
package Govrt

// Driver 底层栅格格式的打开能力
type Driver interface {
	// Name 驱动名称
	Name() string
	// Identify 驱动能否打开该路径
	Identify(path string) bool
	// Open 打开数据集
	Open(req *OpenRequest) (Dataset, error)
}

// OpenRequest 打开请求
type OpenRequest struct {
	Path    string
	Context *Context
	// Depth 当前嵌套打开层数，由发起打开的虚拟数据集显式传递
	Depth int
}

// Dataset 底层数据集能力：尺寸、波段访问、关闭
type Dataset interface {
	RasterXSize() int
	RasterYSize() int
	RasterCount() int
	// Band 按1起始序号获取波段
	Band(index int) (Band, error)
	Close() error
}

// Band 底层波段能力：按原始分辨率读取矩形窗口
type Band interface {
	XSize() int
	YSize() int
	DataType() DataType
	BlockSize() (int, int)
	NoData() (float64, bool)
	Read(win Window) (*Buffer, error)
}

// StatisticsProvider 可报告自身统计信息的波段
type StatisticsProvider interface {
	// CachedStatistics 已有的统计值，不触发扫描
	CachedStatistics() (Statistics, bool)
	ComputeStatistics(approx bool) (Statistics, error)
}

// HistogramProvider 可报告自身直方图的波段
type HistogramProvider interface {
	GetHistogram(req HistogramRequest) (*Histogram, error)
}

// OverviewProvider 可报告自身概视图的波段
type OverviewProvider interface {
	OverviewCount() int
	// GetOverview 越界时返回nil
	GetOverview(i int) Band
}
