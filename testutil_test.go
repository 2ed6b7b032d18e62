package Govrt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, mutate ...func(*Config)) *Context {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	ctx, err := NewContext(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

// registerMem 注册单波段或多波段内存数据集，每个values对应一个波段
func registerMem(t *testing.T, ctx *Context, path string, width, height int, dt DataType, values ...[]float64) *MemDataset {
	t.Helper()
	ds := NewMemDataset(width, height, len(values), dt)
	for i, v := range values {
		require.NoError(t, ds.GetBand(i+1).WriteArray(NewWindow(0, 0, width, height), v))
	}
	ctx.Mem().Register(path, ds)
	return ds
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// vrtXML 单波段描述文档
func vrtXML(width, height int, dataType string, bandExtra string, sources ...string) string {
	return fmt.Sprintf(`<VRTDataset rasterXSize="%d" rasterYSize="%d">
  <VRTRasterBand dataType="%s" band="1">
    %s
    %s
  </VRTRasterBand>
</VRTDataset>`, width, height, dataType, bandExtra, strings.Join(sources, "\n    "))
}

// simpleSource 简单源，rects为空时使用缺省源/目标矩形
func simpleSource(kind, path string, body string) string {
	return fmt.Sprintf(`<%s>
      <SourceFilename relativeToVRT="0">%s</SourceFilename>
      <SourceBand>1</SourceBand>
      %s
    </%s>`, kind, path, body, kind)
}

func rectXML(name string, xOff, yOff, xSize, ySize float64) string {
	return fmt.Sprintf(`<%s xOff="%g" yOff="%g" xSize="%g" ySize="%g"/>`, name, xOff, yOff, xSize, ySize)
}

func openInline(t *testing.T, ctx *Context, xml string) *VirtualDataset {
	t.Helper()
	ds, err := ctx.Open(xml)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func readAll(t *testing.T, b *VirtualBand) []float64 {
	t.Helper()
	data, err := b.ReadData()
	require.NoError(t, err)
	return data
}
