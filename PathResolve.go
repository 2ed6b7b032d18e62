// PathResolve.go
package Govrt

import (
	"os"
	"path/filepath"
	"strings"
)

// cleanPath 绝对化并清理路径
func cleanPath(p string) string {
	if p == "" || isInlineDescriptor(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// canonicalPath 句柄池使用的规范路径：文件存在时解析符号链接
func canonicalPath(p string) string {
	c := cleanPath(p)
	if c == "" || isInlineDescriptor(c) {
		return c
	}
	if resolved, err := filepath.EvalSymlinks(c); err == nil {
		return resolved
	}
	return c
}

// isInlineDescriptor 字符串本身是否为描述文档
func isInlineDescriptor(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "<VRTDataset")
}

// resolveSourcePath 解析数据源文件名
//
// 相对描述文档的路径先按描述文档所在目录解析；描述文档为符号链接且该位置不存在时，
// 再按链接目标所在目录解析。
func (c *Context) resolveSourcePath(descPath, name string, relative bool) string {
	if !relative || descPath == "" || filepath.IsAbs(name) || isInlineDescriptor(name) {
		return name
	}
	direct := filepath.Join(filepath.Dir(descPath), name)
	if c.pathExists(direct) {
		return direct
	}
	if target, err := filepath.EvalSymlinks(descPath); err == nil {
		alt := filepath.Join(filepath.Dir(target), name)
		if alt != direct && c.pathExists(alt) {
			return alt
		}
	}
	return direct
}

// pathExists 文件系统中存在或任一驱动可识别
func (c *Context) pathExists(p string) bool {
	if _, err := os.Stat(p); err == nil {
		return true
	}
	return c.findDriver(p) != nil
}
