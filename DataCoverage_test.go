package Govrt

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataCoverageStatus(t *testing.T) {
	ctx := newTestContext(t)
	registerMem(t, ctx, "/cov/src.tif", 2, 2, TypeByte, []float64{1, 1, 1, 1})
	ds := openInline(t, ctx, vrtXML(4, 4, "Byte", "",
		simpleSource("SimpleSource", "/cov/src.tif", rectXML("DstRect", 0, 0, 2, 2))))
	band := ds.GetRasterBand(1)

	status, pct, err := band.GetDataCoverageStatus(NewWindow(0, 0, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, CoverageData, status)
	assert.Equal(t, 100.0, pct)

	status, pct, err = band.GetDataCoverageStatus(NewWindow(2, 2, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, CoverageEmpty, status)
	assert.Equal(t, 0.0, pct)

	status, pct, err = band.GetDataCoverageStatus(NewWindow(0, 0, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, CoverageData|CoverageEmpty, status)
	assert.Equal(t, 25.0, pct)
	assert.Equal(t, "DATA|EMPTY", status.String())

	_, _, err = band.GetDataCoverageStatus(NewWindow(3, 3, 2, 2))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestDataCoverageOverlappingSources(t *testing.T) {
	ctx := newTestContext(t)
	registerMem(t, ctx, "/cov/src.tif", 2, 2, TypeByte, []float64{1, 1, 1, 1})
	ds := openInline(t, ctx, vrtXML(4, 4, "Byte", "",
		simpleSource("SimpleSource", "/cov/src.tif", rectXML("DstRect", 0, 0, 2, 2)),
		simpleSource("SimpleSource", "/cov/src.tif", rectXML("DstRect", 1, 1, 2, 2)),
	))
	_, pct, err := ds.GetRasterBand(1).GetDataCoverageStatus(NewWindow(0, 0, 4, 4))
	require.NoError(t, err)
	assert.InDelta(t, 43.75, pct, 1e-9)
}

func TestDataCoverageWithoutGeometry(t *testing.T) {
	ctx, err := NewContext(DefaultConfig(), &ContextOptions{})
	require.NoError(t, err)
	defer ctx.Close()
	ds := openInline(t, ctx, vrtXML(2, 2, "Byte", ""))

	_, _, err = ds.GetRasterBand(1).GetDataCoverageStatus(NewWindow(0, 0, 2, 2))
	assert.ErrorIs(t, err, ErrGeometryUnavailable)
}

func TestRectilinearUnion(t *testing.T) {
	a := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}.ToPolygon()
	b := orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{3, 3}}.ToPolygon()
	c := orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{11, 11}}.ToPolygon()

	union, err := RectilinearUnion{}.Union([]orb.Polygon{a, b, c})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, planar.Area(union), 1e-9)

	same, err := RectilinearUnion{}.Union([]orb.Polygon{a, a})
	require.NoError(t, err)
	require.Len(t, same, 1)
	assert.InDelta(t, 4.0, planar.Area(same), 1e-9)

	empty, err := RectilinearUnion{}.Union(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	triangle := orb.Polygon{orb.Ring{{0, 0}, {2, 0}, {0, 2}, {0, 0}}}
	_, err = RectilinearUnion{}.Union([]orb.Polygon{triangle})
	assert.Error(t, err)
}
