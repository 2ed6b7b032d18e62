// Context.go
package Govrt

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ContextOptions 上下文选项
type ContextOptions struct {
	Geometry GeometryEngine // 平面几何求并能力，nil时覆盖率查询不可用
	Drivers  []Driver       // 额外注册的底层驱动，按顺序识别
	AuxStore *AuxStore      // 统计侧车库，nil时按配置的AuxDatabase打开
}

// DefaultContextOptions 默认上下文选项
func DefaultContextOptions() *ContextOptions {
	return &ContextOptions{
		Geometry: RectilinearUnion{},
	}
}

// Context 虚拟栅格引擎上下文：配置、驱动表、数据源句柄池
type Context struct {
	config   Config
	pool     *SourceDatasetPool
	mem      *MemDriver
	geometry GeometryEngine
	aux      *AuxStore
	ownAux   bool

	mu      sync.RWMutex
	drivers []Driver
}

var (
	defaultContext     *Context
	defaultContextOnce sync.Once
)

// DefaultContext 基于MainConfig的全局上下文（单例）
func DefaultContext() *Context {
	defaultContextOnce.Do(func() {
		ctx, err := NewContext(MainConfig, nil)
		if err != nil {
			log.Printf("初始化默认上下文失败，忽略统计侧车库: %v", err)
			cfg := MainConfig
			cfg.AuxDatabase = ""
			ctx, _ = NewContext(cfg, nil)
		}
		defaultContext = ctx
	})
	return defaultContext
}

// NewContext 创建上下文
func NewContext(cfg Config, options *ContextOptions) (*Context, error) {
	if options == nil {
		options = DefaultContextOptions()
	}
	cfg = cfg.normalize()

	c := &Context{
		config:   cfg,
		mem:      NewMemDriver(),
		geometry: options.Geometry,
		aux:      options.AuxStore,
	}
	c.pool = NewSourceDatasetPool(cfg.MaxPoolSize, c.openDataset)
	c.drivers = append(c.drivers, c.mem, vrtDriver{})
	c.drivers = append(c.drivers, options.Drivers...)

	if c.aux == nil && cfg.AuxDatabase != "" {
		store, err := OpenAuxStore(cfg.AuxDatabase)
		if err != nil {
			return nil, fmt.Errorf("open aux database: %w", err)
		}
		c.aux = store
		c.ownAux = true
	}
	return c, nil
}

// Config 上下文配置
func (c *Context) Config() Config {
	return c.config
}

// Mem 内存驱动
func (c *Context) Mem() *MemDriver {
	return c.mem
}

// Pool 数据源句柄池
func (c *Context) Pool() *SourceDatasetPool {
	return c.pool
}

// RegisterDriver 注册底层驱动，优先于已注册的驱动识别
func (c *Context) RegisterDriver(d Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers = append([]Driver{d}, c.drivers...)
}

func (c *Context) findDriver(path string) Driver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.drivers {
		if d.Identify(path) {
			return d
		}
	}
	return nil
}

// Open 打开虚拟数据集：文件路径或以<VRTDataset开头的描述文档
func (c *Context) Open(nameOrXML string) (*VirtualDataset, error) {
	ds, err := c.openVirtual(nameOrXML, 0)
	if err != nil {
		if errors.Is(err, ErrRecursionLimitExceeded) {
			return nil, ErrRecursionLimitExceeded
		}
		return nil, err
	}
	return ds, nil
}

// OpenDescriptor 由已解析的描述记录打开虚拟数据集
func (c *Context) OpenDescriptor(desc *Descriptor) (*VirtualDataset, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	ds, err := newVirtualDataset(c, desc, 0)
	if err != nil {
		if errors.Is(err, ErrRecursionLimitExceeded) {
			return nil, ErrRecursionLimitExceeded
		}
		return nil, err
	}
	return ds, nil
}

func (c *Context) openVirtual(name string, depth int) (*VirtualDataset, error) {
	if depth > c.config.MaxRecursionDepth {
		return nil, ErrRecursionLimitExceeded
	}
	var desc *Descriptor
	var err error
	if isInlineDescriptor(name) {
		desc, err = ParseDescriptor([]byte(name))
	} else {
		desc, err = LoadDescriptor(name)
	}
	if err != nil {
		return nil, err
	}
	return newVirtualDataset(c, desc, depth)
}

// openDataset 句柄池的打开函数
func (c *Context) openDataset(path string, depth int) (Dataset, error) {
	if depth > c.config.MaxRecursionDepth {
		return nil, ErrRecursionLimitExceeded
	}
	d := c.findDriver(path)
	if d == nil {
		return nil, fmt.Errorf("%w: no driver recognizes %s", ErrOpenFailed, path)
	}
	return d.Open(&OpenRequest{Path: path, Context: c, Depth: depth})
}

// Close 关闭句柄池和侧车库
func (c *Context) Close() error {
	c.pool.Close()
	if c.ownAux && c.aux != nil {
		return c.aux.Close()
	}
	return nil
}

// vrtDriver 嵌套虚拟数据集驱动
type vrtDriver struct{}

func (vrtDriver) Name() string { return "VRT" }

func (vrtDriver) Identify(path string) bool {
	if isInlineDescriptor(path) {
		return true
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if strings.EqualFold(filepath.Ext(path), ".vrt") {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 1024)
	n, _ := f.Read(head)
	return strings.Contains(string(head[:n]), "<VRTDataset")
}

func (vrtDriver) Open(req *OpenRequest) (Dataset, error) {
	return req.Context.openVirtual(req.Path, req.Depth)
}
