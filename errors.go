// errors.go
package Govrt

import (
	"errors"
	"fmt"
)

// recursionLimitMessage 外部工具按此文本匹配，不可修改
const recursionLimitMessage = "GDALOpen() called with too many recursion levels"

var (
	// ErrOpenFailed 数据源或描述文件不可读
	ErrOpenFailed = errors.New("open failed")

	// ErrRecursionLimitExceeded 嵌套打开层数超过上限
	ErrRecursionLimitExceeded = errors.New(recursionLimitMessage)

	// ErrMalformedDescriptor 描述记录结构非法
	ErrMalformedDescriptor = errors.New("malformed descriptor")

	// ErrGeometryUnavailable 未配置平面几何求并能力
	ErrGeometryUnavailable = errors.New("geometry union capability unavailable")

	// ErrInvalidWindow 读取窗口越界或尺寸非法
	ErrInvalidWindow = errors.New("invalid raster window")

	// ErrNoValidPixels 波段中没有有效像元
	ErrNoValidPixels = errors.New("no valid pixels")

	// ErrReadOnly 只读对象（隐式概视图等）
	ErrReadOnly = errors.New("read-only raster")
)

// malformed 构造MalformedDescriptor错误
func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedDescriptor}, args...)...)
}
