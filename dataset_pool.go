// dataset_pool.go
package Govrt

import (
	"container/list"
	"log"
	"sync"

	"github.com/google/uuid"
)

// SourceDatasetPool 数据源句柄池 - 共享打开的底层数据集并限制句柄数量
//
// 引用计数、LRU顺序在同一把锁下维护；打开与关闭数据集在锁外进行，
// 以便嵌套虚拟数据集在打开过程中再次进入池。
type SourceDatasetPool struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*poolEntry
	lru     *list.List // 仅共享条目，front为最近使用
	opener  func(path string, depth int) (Dataset, error)

	opened    uint64
	evictions uint64
}

// poolEntry 池条目
type poolEntry struct {
	key     string
	path    string
	dataset Dataset
	refs    int
	shared  bool
	element *list.Element
}

// PoolStats 池状态
type PoolStats struct {
	Handles    int    // 当前打开的句柄数
	Referenced int    // 被引用的句柄数
	Private    int    // 非共享句柄数
	MaxSize    int    // 软上限
	Opened     uint64 // 累计打开次数
	Evictions  uint64 // 累计淘汰次数
}

// NewSourceDatasetPool 创建句柄池，opener负责按路径和嵌套层数打开数据集
func NewSourceDatasetPool(maxSize int, opener func(path string, depth int) (Dataset, error)) *SourceDatasetPool {
	if maxSize <= 0 {
		maxSize = DefaultMaxPoolSize
	}
	return &SourceDatasetPool{
		maxSize: maxSize,
		entries: make(map[string]*poolEntry),
		lru:     list.New(),
		opener:  opener,
	}
}

// PoolHandle 池句柄，Release后不可再使用
type PoolHandle struct {
	pool  *SourceDatasetPool
	entry *poolEntry
	once  sync.Once
}

// Dataset 句柄对应的数据集
func (h *PoolHandle) Dataset() Dataset {
	return h.entry.dataset
}

// Path 句柄对应的规范路径
func (h *PoolHandle) Path() string {
	return h.entry.path
}

// Release 归还句柄，可重复调用
func (h *PoolHandle) Release() {
	h.once.Do(func() {
		h.pool.release(h.entry)
	})
}

// Acquire 获取数据源句柄
//
// shared=true 时按规范路径+访问模式共享，同一键再次获取返回同一数据集并增加引用计数；
// shared=false 时总是打开私有句柄，Release时关闭。
func (p *SourceDatasetPool) Acquire(path string, shared bool, depth int) (*PoolHandle, error) {
	canonical := canonicalPath(path)
	if !shared {
		p.mu.Lock()
		victims := p.evictLocked()
		p.mu.Unlock()
		closeDatasets(victims)

		ds, err := p.opener(path, depth)
		if err != nil {
			return nil, err
		}
		entry := &poolEntry{
			key:     "private:" + uuid.New().String(),
			path:    canonical,
			dataset: ds,
			refs:    1,
		}
		p.mu.Lock()
		p.entries[entry.key] = entry
		p.opened++
		p.mu.Unlock()
		return &PoolHandle{pool: p, entry: entry}, nil
	}

	key := canonical + "|r"
	p.mu.Lock()
	if entry, ok := p.entries[key]; ok {
		entry.refs++
		p.lru.MoveToFront(entry.element)
		p.mu.Unlock()
		return &PoolHandle{pool: p, entry: entry}, nil
	}
	victims := p.evictLocked()
	p.mu.Unlock()
	closeDatasets(victims)

	ds, err := p.opener(path, depth)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if entry, ok := p.entries[key]; ok {
		// 其他调用方已并发打开同一数据集
		entry.refs++
		p.lru.MoveToFront(entry.element)
		p.mu.Unlock()
		ds.Close()
		return &PoolHandle{pool: p, entry: entry}, nil
	}
	entry := &poolEntry{key: key, path: canonical, dataset: ds, refs: 1, shared: true}
	entry.element = p.lru.PushFront(entry)
	p.entries[key] = entry
	p.opened++
	p.mu.Unlock()
	return &PoolHandle{pool: p, entry: entry}, nil
}

// evictLocked 句柄数达到上限时淘汰最久未使用且无引用的条目；全部被引用时允许超出软上限
func (p *SourceDatasetPool) evictLocked() []Dataset {
	var victims []Dataset
	for e := p.lru.Back(); e != nil && len(p.entries) >= p.maxSize; {
		prev := e.Prev()
		entry := e.Value.(*poolEntry)
		if entry.refs == 0 {
			p.lru.Remove(e)
			delete(p.entries, entry.key)
			victims = append(victims, entry.dataset)
			p.evictions++
			log.Printf("数据源句柄池已满，淘汰: %s", entry.path)
		}
		e = prev
	}
	return victims
}

func (p *SourceDatasetPool) release(entry *poolEntry) {
	p.mu.Lock()
	entry.refs--
	var victim Dataset
	if !entry.shared {
		if entry.refs <= 0 {
			delete(p.entries, entry.key)
			victim = entry.dataset
		}
	} else if entry.refs <= 0 {
		entry.refs = 0
		if len(p.entries) > p.maxSize {
			// 超出软上限期间打开的条目，无引用后立即回收
			p.lru.Remove(entry.element)
			delete(p.entries, entry.key)
			victim = entry.dataset
			p.evictions++
		}
	}
	p.mu.Unlock()
	if victim != nil {
		victim.Close()
	}
}

// Stats 池状态快照
func (p *SourceDatasetPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PoolStats{
		Handles:   len(p.entries),
		MaxSize:   p.maxSize,
		Opened:    p.opened,
		Evictions: p.evictions,
	}
	for _, entry := range p.entries {
		if entry.refs > 0 {
			st.Referenced++
		}
		if !entry.shared {
			st.Private++
		}
	}
	return st
}

// Close 关闭池中全部数据集（不论引用计数）
func (p *SourceDatasetPool) Close() {
	p.mu.Lock()
	var all []Dataset
	for key, entry := range p.entries {
		all = append(all, entry.dataset)
		delete(p.entries, key)
	}
	p.lru.Init()
	p.mu.Unlock()
	closeDatasets(all)
}

func closeDatasets(list []Dataset) {
	for _, ds := range list {
		if err := ds.Close(); err != nil {
			log.Printf("关闭数据源失败: %v", err)
		}
	}
}
