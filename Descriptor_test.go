package Govrt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDescriptorXML = `<VRTDataset rasterXSize="2" rasterYSize="1">
  <SRS>EPSG:4326</SRS>
  <GeoTransform>100, 0.5, 0, 50, 0, -0.5</GeoTransform>
  <Metadata><MDI key="AREA_OR_POINT">Area</MDI></Metadata>
  <GCPList Projection="EPSG:4326">
    <GCP Id="1" Pixel="0" Line="0" X="100" Y="50"/>
    <GCP Id="2" Pixel="2" Line="1" X="101" Y="49.5"/>
  </GCPList>
  <OverviewList resampling="nearest">2 4</OverviewList>
  <VRTRasterBand dataType="UInt16" band="1" blockXSize="2" blockYSize="1">
    <Description>elevation</Description>
    <UnitType>m</UnitType>
    <Offset>10</Offset>
    <Scale>0.5</Scale>
    <ColorInterp>Gray</ColorInterp>
    <CategoryNames><Category>low</Category><Category>high</Category></CategoryNames>
    <ColorTable><Entry c1="1" c2="2" c3="3" c4="255"/></ColorTable>
    <UnsupportedThing/>
    <ComplexSource resampling="cubic">
      <SourceFilename relativeToVRT="0" shared="1">/desc/src.tif</SourceFilename>
      <SourceBand>1</SourceBand>
      <SourceProperties RasterXSize="2" RasterYSize="1" DataType="UInt16"/>
      <SrcRect xOff="0" yOff="0" xSize="2" ySize="1"/>
      <DstRect xOff="0" yOff="0" xSize="2" ySize="1"/>
      <ScaleOffset>1</ScaleOffset>
      <ScaleRatio>2</ScaleRatio>
      <NODATA>0</NODATA>
      <LUT>0:0,100:200</LUT>
    </ComplexSource>
  </VRTRasterBand>
</VRTDataset>
`

func TestParseDescriptor(t *testing.T) {
	desc, err := ParseDescriptor([]byte(fullDescriptorXML))
	require.NoError(t, err)
	assert.Equal(t, 2, desc.RasterXSize)
	require.Len(t, desc.Extra, 1)
	assert.Equal(t, "OverviewList", desc.Extra[0].XMLName.Local)

	require.Len(t, desc.Bands, 1)
	bd := desc.Bands[0]
	require.Len(t, bd.Sources, 1)
	sd := bd.Sources[0]
	assert.Equal(t, elementComplexSource, sd.XMLName.Local)
	assert.Equal(t, "cubic", sd.Resampling)
	assert.Equal(t, "/desc/src.tif", sd.SourceFilename.Path)
	require.NotNil(t, sd.ScaleRatio)
	assert.Equal(t, 2.0, *sd.ScaleRatio)
	assert.Equal(t, "0:0,100:200", sd.LUT)
}

func TestDescriptorDefaultsAndValidation(t *testing.T) {
	desc, err := ParseDescriptor([]byte(`<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"/></VRTDataset>`))
	require.NoError(t, err)
	assert.Equal(t, "Byte", desc.Bands[0].DataType)

	cases := map[string]string{
		"zero size":       `<VRTDataset rasterXSize="0" rasterYSize="1"/>`,
		"band position":   `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="2"/></VRTDataset>`,
		"data type":       `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand dataType="Int128" band="1"/></VRTDataset>`,
		"nodata":          `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><NoDataValue>abc</NoDataValue></VRTRasterBand></VRTDataset>`,
		"nbits":           `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><Metadata domain="IMAGE_STRUCTURE"><MDI key="NBITS">x</MDI></Metadata></VRTRasterBand></VRTDataset>`,
		"no filename":     `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><SimpleSource><SourceBand>1</SourceBand></SimpleSource></VRTRasterBand></VRTDataset>`,
		"source band":     `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><SimpleSource><SourceFilename>a.tif</SourceFilename><SourceBand>0</SourceBand></SimpleSource></VRTRasterBand></VRTDataset>`,
		"src rect":        `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><SimpleSource><SourceFilename>a.tif</SourceFilename><SrcRect xOff="0" yOff="0" xSize="0" ySize="1"/></SimpleSource></VRTRasterBand></VRTDataset>`,
		"lut":             `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><ComplexSource><SourceFilename>a.tif</SourceFilename><LUT>1</LUT></ComplexSource></VRTRasterBand></VRTDataset>`,
		"shared":          `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><SimpleSource><SourceFilename shared="maybe">a.tif</SourceFilename></SimpleSource></VRTRasterBand></VRTDataset>`,
		"not xml":         `<VRTDataset rasterXSize="1"`,
		"wrong root":      `<Dataset rasterXSize="1" rasterYSize="1"/>`,
		"source props":    `<VRTDataset rasterXSize="1" rasterYSize="1"><VRTRasterBand band="1"><SimpleSource><SourceFilename>a.tif</SourceFilename><SourceProperties RasterXSize="0" RasterYSize="1"/></SimpleSource></VRTRasterBand></VRTDataset>`,
	}
	for name, text := range cases {
		_, err := ParseDescriptor([]byte(text))
		assert.ErrorIs(t, err, ErrMalformedDescriptor, name)
	}
}

func TestDescriptorDropsUnknownSources(t *testing.T) {
	desc, err := ParseDescriptor([]byte(fullDescriptorXML))
	require.NoError(t, err)
	for _, sd := range desc.Bands[0].Sources {
		assert.NotEqual(t, "UnsupportedThing", sd.XMLName.Local)
	}
}

func TestFloat32NoDataNormalized(t *testing.T) {
	desc, err := ParseDescriptor([]byte(`<VRTDataset rasterXSize="1" rasterYSize="1">
  <VRTRasterBand dataType="Float32" band="1"><NoDataValue>-3.40282347e+38</NoDataValue></VRTRasterBand>
</VRTDataset>`))
	require.NoError(t, err)
	require.NotNil(t, desc.Bands[0].NoDataValue)
	v, err := parseNoData(*desc.Bands[0].NoDataValue)
	require.NoError(t, err)
	assert.Equal(t, -math.MaxFloat32, v)

	ctx := newTestContext(t)
	ds, err := ctx.OpenDescriptor(desc)
	require.NoError(t, err)
	defer ds.Close()
	nodata, ok := ds.GetRasterBand(1).NoData()
	assert.True(t, ok)
	assert.Equal(t, -math.MaxFloat32, nodata)
}

func TestSerializePassThrough(t *testing.T) {
	ctx := newTestContext(t)
	registerMem(t, ctx, "/desc/src.tif", 2, 1, TypeUInt16, []float64{5, 6})
	ds := openInline(t, ctx, fullDescriptorXML)

	assert.Equal(t, "EPSG:4326", ds.GetProjection())
	gt, ok := ds.GetGeoTransform()
	require.True(t, ok)
	assert.Equal(t, [6]float64{100, 0.5, 0, 50, 0, -0.5}, gt)
	require.Len(t, ds.GetGCPs(), 2)
	assert.Equal(t, "EPSG:4326", ds.GetGCPProjection())

	out, err := ds.Serialize()
	require.NoError(t, err)
	again, err := ParseDescriptor(out)
	require.NoError(t, err)

	assert.Equal(t, "EPSG:4326", again.SRS)
	require.NotNil(t, again.GCPList)
	assert.Len(t, again.GCPList.GCPs, 2)
	assert.Equal(t, 49.5, again.GCPList.GCPs[1].Y)
	require.Len(t, again.Extra, 1)
	assert.Equal(t, "2 4", again.Extra[0].Inner)

	bd := again.Bands[0]
	assert.Equal(t, "elevation", bd.Description)
	assert.Equal(t, []string{"low", "high"}, bd.CategoryNames.Categories)
	require.Len(t, bd.Sources, 1)
	sd := bd.Sources[0]
	assert.Equal(t, elementComplexSource, sd.XMLName.Local)
	assert.Equal(t, "1", sd.SourceFilename.Shared)
	require.NotNil(t, sd.SourceProperties)
	assert.Equal(t, 2, sd.SourceProperties.RasterXSize)
	require.NotNil(t, sd.NoData)
	assert.Equal(t, "0", *sd.NoData)
	assert.Equal(t, "0:0,100:200", sd.LUT)
	assert.Equal(t, "cubic", sd.Resampling)
}

func TestGCPsAndGeoTransformMarkDirty(t *testing.T) {
	ctx := newTestContext(t)
	ds := openInline(t, ctx, vrtXML(2, 2, "Byte", ""))
	_, ok := ds.GetGeoTransform()
	assert.False(t, ok)
	assert.False(t, ds.IsDirty())

	ds.SetGeoTransform([6]float64{10, 1, 0, 20, 0, -1})
	assert.True(t, ds.IsDirty())
	gt, ok := ds.GetGeoTransform()
	require.True(t, ok)
	assert.Equal(t, [6]float64{10, 1, 0, 20, 0, -1}, gt)
	minX, minY, maxX, maxY := ds.GetBounds()
	assert.Equal(t, []float64{10, 18, 12, 20}, []float64{minX, minY, maxX, maxY})

	ds.SetGCPs([]GCP{{ID: "a", Pixel: 1, Line: 1, X: 5, Y: 6}}, "EPSG:3857")
	assert.Len(t, ds.GetGCPs(), 1)
	assert.Equal(t, 1, ds.GetInfo().GCPCount)
	ds.SetGCPs(nil, "")
	assert.Nil(t, ds.GetGCPs())
}
