// Descriptor.go
package Govrt

import (
	"encoding/xml"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
)

// ==================== 描述文档结构 ====================

// Descriptor 虚拟数据集描述记录
type Descriptor struct {
	XMLName      xml.Name          `xml:"VRTDataset"`
	RasterXSize  int               `xml:"rasterXSize,attr"`
	RasterYSize  int               `xml:"rasterYSize,attr"`
	SubClass     string            `xml:"subClass,attr,omitempty"`
	SRS          string            `xml:"SRS,omitempty"`
	GeoTransform string            `xml:"GeoTransform,omitempty"`
	Metadata     []*MetadataDomain `xml:"Metadata"`
	GCPList      *GCPList          `xml:"GCPList"`
	Bands        []*BandDescriptor `xml:"VRTRasterBand"`
	Extra        []*RawElement     `xml:",any"`

	path string
}

// MetadataDomain 元数据域
type MetadataDomain struct {
	Domain string         `xml:"domain,attr,omitempty"`
	Items  []MetadataItem `xml:"MDI"`
}

// MetadataItem 元数据项
type MetadataItem struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// GCPList 地面控制点列表
type GCPList struct {
	Projection string `xml:"Projection,attr,omitempty"`
	GCPs       []GCP  `xml:"GCP"`
}

// GCP 地面控制点
type GCP struct {
	ID    string  `xml:"Id,attr"`
	Info  string  `xml:"Info,attr,omitempty"`
	Pixel float64 `xml:"Pixel,attr"`
	Line  float64 `xml:"Line,attr"`
	X     float64 `xml:"X,attr"`
	Y     float64 `xml:"Y,attr"`
	Z     float64 `xml:"Z,attr,omitempty"`
}

// RawElement 未识别的数据集级元素，原样保留
type RawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

// BandDescriptor 波段描述
type BandDescriptor struct {
	XMLName       xml.Name            `xml:"VRTRasterBand"`
	DataType      string              `xml:"dataType,attr,omitempty"`
	Band          int                 `xml:"band,attr"`
	BlockXSize    int                 `xml:"blockXSize,attr,omitempty"`
	BlockYSize    int                 `xml:"blockYSize,attr,omitempty"`
	Description   string              `xml:"Description,omitempty"`
	UnitType      string              `xml:"UnitType,omitempty"`
	Offset        *float64            `xml:"Offset"`
	Scale         *float64            `xml:"Scale"`
	NoDataValue   *string             `xml:"NoDataValue"`
	ColorInterp   string              `xml:"ColorInterp,omitempty"`
	ColorTable    *ColorTable         `xml:"ColorTable"`
	CategoryNames *CategoryNames      `xml:"CategoryNames"`
	Metadata      []*MetadataDomain   `xml:"Metadata"`
	Histograms    *HistogramList      `xml:"Histograms"`
	Sources       []*SourceDescriptor `xml:",any"`
}

// ColorTable 颜色表
type ColorTable struct {
	Entries []ColorEntry `xml:"Entry"`
}

// ColorEntry 颜色表项
type ColorEntry struct {
	C1 int `xml:"c1,attr"`
	C2 int `xml:"c2,attr"`
	C3 int `xml:"c3,attr"`
	C4 int `xml:"c4,attr"`
}

// CategoryNames 类别名称
type CategoryNames struct {
	Categories []string `xml:"Category"`
}

// HistogramList 持久化的直方图
type HistogramList struct {
	Items []*HistItem `xml:"HistItem"`
}

// HistItem 单个直方图
type HistItem struct {
	HistMin           float64 `xml:"HistMin"`
	HistMax           float64 `xml:"HistMax"`
	BucketCount       int     `xml:"BucketCount"`
	IncludeOutOfRange int     `xml:"IncludeOutOfRange"`
	Approximate       int     `xml:"Approximate"`
	HistCounts        string  `xml:"HistCounts"`
}

// SourceDescriptor 数据源描述，元素名决定数据源类别
type SourceDescriptor struct {
	XMLName          xml.Name
	Resampling       string            `xml:"resampling,attr,omitempty"`
	SourceFilename   *SourceFilename   `xml:"SourceFilename"`
	SourceBand       *int              `xml:"SourceBand"`
	SourceProperties *SourceProperties `xml:"SourceProperties"`
	SrcRect          *RectElement      `xml:"SrcRect"`
	DstRect          *RectElement      `xml:"DstRect"`
	ScaleOffset      *float64          `xml:"ScaleOffset"`
	ScaleRatio       *float64          `xml:"ScaleRatio"`
	NoData           *string           `xml:"NODATA"`
	LUT              string            `xml:"LUT,omitempty"`
}

// SourceFilename 数据源文件名
type SourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Shared        string `xml:"shared,attr,omitempty"`
	Path          string `xml:",chardata"`
}

// SourceProperties 声明的数据源属性，声明后可延迟打开数据源
type SourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr,omitempty"`
	BlockXSize  int    `xml:"BlockXSize,attr,omitempty"`
	BlockYSize  int    `xml:"BlockYSize,attr,omitempty"`
}

// RectElement 源/目标矩形
type RectElement struct {
	XOff  float64 `xml:"xOff,attr"`
	YOff  float64 `xml:"yOff,attr"`
	XSize float64 `xml:"xSize,attr"`
	YSize float64 `xml:"ySize,attr"`
}

func (r *RectElement) rect() Rect {
	return Rect{XOff: r.XOff, YOff: r.YOff, XSize: r.XSize, YSize: r.YSize}
}

func rectElement(r Rect) *RectElement {
	return &RectElement{XOff: r.XOff, YOff: r.YOff, XSize: r.XSize, YSize: r.YSize}
}

const (
	elementSimpleSource   = "SimpleSource"
	elementComplexSource  = "ComplexSource"
	elementAveragedSource = "AveragedSource"
)

// ==================== 解析与序列化 ====================

// ParseDescriptor 解析描述文档
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var desc Descriptor
	if err := xml.Unmarshal(data, &desc); err != nil {
		return nil, malformed("%v", err)
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

// LoadDescriptor 读取并解析描述文件
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	desc, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	desc.path = cleanPath(path)
	return desc, nil
}

// Path 描述文件路径，内联描述为空
func (d *Descriptor) Path() string {
	return d.path
}

// SetPath 设置描述文件路径（影响相对路径解析与回写位置）
func (d *Descriptor) SetPath(path string) {
	d.path = cleanPath(path)
}

// Marshal 序列化为描述文档
func (d *Descriptor) Marshal() ([]byte, error) {
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// validate 结构校验，并规范化缺省值
func (d *Descriptor) validate() error {
	if d.RasterXSize <= 0 || d.RasterYSize <= 0 {
		return malformed("invalid raster size %dx%d", d.RasterXSize, d.RasterYSize)
	}
	for i, b := range d.Bands {
		if err := b.validate(i + 1); err != nil {
			return err
		}
	}
	return nil
}

func (b *BandDescriptor) validate(position int) error {
	if b.Band != position {
		return malformed("band attribute %d at position %d", b.Band, position)
	}
	if b.DataType == "" {
		b.DataType = TypeByte.String()
	}
	dt := ParseDataType(b.DataType)
	if dt == TypeUnknown {
		return malformed("band %d: unknown data type %q", position, b.DataType)
	}
	if b.BlockXSize < 0 || b.BlockYSize < 0 {
		return malformed("band %d: invalid block size", position)
	}
	if b.NoDataValue != nil {
		v, err := parseNoData(*b.NoDataValue)
		if err != nil {
			return malformed("band %d: invalid NoDataValue %q", position, *b.NoDataValue)
		}
		if dt == TypeFloat32 {
			if nv, changed := normalizeFloat32NoData(v); changed {
				s := formatFloat(nv)
				b.NoDataValue = &s
			}
		}
	}
	if v, ok := getMetadata(b.Metadata, "IMAGE_STRUCTURE", "NBITS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return malformed("band %d: invalid NBITS %q", position, v)
		}
	}

	kept := b.Sources[:0]
	for _, s := range b.Sources {
		switch s.XMLName.Local {
		case elementSimpleSource, elementComplexSource, elementAveragedSource:
			if err := s.validate(position); err != nil {
				return err
			}
			kept = append(kept, s)
		default:
			log.Printf("波段 %d: 忽略不支持的元素 <%s>", position, s.XMLName.Local)
		}
	}
	b.Sources = kept
	return nil
}

func (s *SourceDescriptor) validate(band int) error {
	kind := s.XMLName.Local
	if s.SourceFilename == nil || strings.TrimSpace(s.SourceFilename.Path) == "" {
		return malformed("band %d: %s without SourceFilename", band, kind)
	}
	s.SourceFilename.Path = strings.TrimSpace(s.SourceFilename.Path)
	if s.SourceFilename.Shared != "" {
		if _, ok := parseBoolOption(s.SourceFilename.Shared); !ok {
			return malformed("band %d: invalid shared attribute %q", band, s.SourceFilename.Shared)
		}
	}
	if s.SourceBand != nil && *s.SourceBand < 1 {
		return malformed("band %d: invalid SourceBand %d", band, *s.SourceBand)
	}
	if p := s.SourceProperties; p != nil {
		if p.RasterXSize <= 0 || p.RasterYSize <= 0 {
			return malformed("band %d: invalid SourceProperties size %dx%d", band, p.RasterXSize, p.RasterYSize)
		}
		if p.DataType != "" && ParseDataType(p.DataType) == TypeUnknown {
			return malformed("band %d: invalid SourceProperties DataType %q", band, p.DataType)
		}
	}
	for name, r := range map[string]*RectElement{"SrcRect": s.SrcRect, "DstRect": s.DstRect} {
		if r != nil && !(r.XSize > 0 && r.YSize > 0) {
			return malformed("band %d: invalid %s size %gx%g", band, name, r.XSize, r.YSize)
		}
	}
	if s.NoData != nil {
		if _, err := parseNoData(*s.NoData); err != nil {
			return malformed("band %d: invalid NODATA %q", band, *s.NoData)
		}
	}
	if s.LUT != "" {
		if _, err := parseLUT(s.LUT); err != nil {
			return malformed("band %d: %v", band, err)
		}
	}
	return nil
}

// ==================== 数值与元数据工具 ====================

func parseNoData(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// normalizeFloat32NoData 文本往返造成的略超Float32范围的值收回到±MaxFloat32
func normalizeFloat32NoData(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, false
	}
	if math.Abs(v) > math.MaxFloat32 && math.Abs(v) <= math.MaxFloat32*(1+1e-6) {
		return math.Copysign(math.MaxFloat32, v), true
	}
	return v, false
}

func getMetadata(domains []*MetadataDomain, domain, key string) (string, bool) {
	for _, md := range domains {
		if md.Domain != domain {
			continue
		}
		for _, item := range md.Items {
			if item.Key == key {
				return item.Value, true
			}
		}
	}
	return "", false
}

func setMetadata(domains *[]*MetadataDomain, domain, key, value string) {
	for _, md := range *domains {
		if md.Domain != domain {
			continue
		}
		for i := range md.Items {
			if md.Items[i].Key == key {
				md.Items[i].Value = value
				return
			}
		}
		md.Items = append(md.Items, MetadataItem{Key: key, Value: value})
		return
	}
	*domains = append(*domains, &MetadataDomain{Domain: domain, Items: []MetadataItem{{Key: key, Value: value}}})
}

func removeMetadata(domains *[]*MetadataDomain, domain string, keys ...string) bool {
	removed := false
	kept := (*domains)[:0]
	for _, md := range *domains {
		if md.Domain == domain {
			items := md.Items[:0]
			for _, item := range md.Items {
				drop := false
				for _, k := range keys {
					if item.Key == k {
						drop = true
						break
					}
				}
				if drop {
					removed = true
					continue
				}
				items = append(items, item)
			}
			md.Items = items
			if len(md.Items) == 0 {
				continue
			}
		}
		kept = append(kept, md)
	}
	*domains = kept
	return removed
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// histItemFrom 直方图转为持久化格式
func histItemFrom(h *Histogram) *HistItem {
	counts := make([]string, len(h.Counts))
	for i, c := range h.Counts {
		counts[i] = strconv.FormatUint(c, 10)
	}
	return &HistItem{
		HistMin:           h.Min,
		HistMax:           h.Max,
		BucketCount:       h.Buckets,
		IncludeOutOfRange: boolInt(h.IncludeOutOfRange),
		Approximate:       boolInt(h.Approximate),
		HistCounts:        strings.Join(counts, "|"),
	}
}

// histogram 持久化格式转为直方图
func (it *HistItem) histogram() (*Histogram, error) {
	h := &Histogram{
		Min:               it.HistMin,
		Max:               it.HistMax,
		Buckets:           it.BucketCount,
		IncludeOutOfRange: it.IncludeOutOfRange != 0,
		Approximate:       it.Approximate != 0,
	}
	fields := strings.Split(strings.TrimSpace(it.HistCounts), "|")
	if it.BucketCount <= 0 || len(fields) != it.BucketCount {
		return nil, fmt.Errorf("histogram has %d counts for %d buckets", len(fields), it.BucketCount)
	}
	h.Counts = make([]uint64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid histogram count %q", f)
		}
		h.Counts[i] = n
	}
	return h, nil
}
