// aux_store.go
package Govrt

import (
	"errors"
	"fmt"
	"log"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var auxJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// AuxStatistics 侧车库中的波段统计值
type AuxStatistics struct {
	ID         uint   `gorm:"primaryKey"`
	DatasetKey string `gorm:"uniqueIndex:idx_aux_statistics_band;not null"`
	Band       int    `gorm:"uniqueIndex:idx_aux_statistics_band;not null"`
	Minimum    float64
	Maximum    float64
	Mean       float64
	StdDev     float64
	UpdatedAt  time.Time
}

func (AuxStatistics) TableName() string { return "vrt_aux_statistics" }

// AuxHistogram 侧车库中的直方图
type AuxHistogram struct {
	ID                uint   `gorm:"primaryKey"`
	DatasetKey        string `gorm:"index:idx_aux_histogram_band;not null"`
	Band              int    `gorm:"index:idx_aux_histogram_band;not null"`
	HistMin           float64
	HistMax           float64
	Buckets           int
	IncludeOutOfRange bool
	Approximate       bool
	Counts            string // JSON数组
	UpdatedAt         time.Time
}

func (AuxHistogram) TableName() string { return "vrt_aux_histograms" }

// AuxStore 统计侧车库（SQLite）：描述文件不可写时统计信息仍可跨会话保留
type AuxStore struct {
	db *gorm.DB
}

// OpenAuxStore 打开或创建侧车库
func OpenAuxStore(path string) (*AuxStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open aux store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&AuxStatistics{}, &AuxHistogram{}); err != nil {
		return nil, fmt.Errorf("migrate aux store %s: %w", path, err)
	}
	return &AuxStore{db: db}, nil
}

// Close 关闭侧车库
func (s *AuxStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ForDataset 以数据集键访问的统计缓存
func (s *AuxStore) ForDataset(key string) StatisticsCache {
	return &auxCache{store: s, key: key}
}

// DatasetKeys 侧车库中记录过统计信息的数据集
func (s *AuxStore) DatasetKeys() ([]string, error) {
	var keys []string
	err := s.db.Model(&AuxStatistics{}).Distinct("dataset_key").Order("dataset_key").Pluck("dataset_key", &keys).Error
	return keys, err
}

type auxCache struct {
	store *AuxStore
	key   string
}

func (c *auxCache) Statistics(band int) (Statistics, bool) {
	var row AuxStatistics
	err := c.store.db.Where("dataset_key = ? AND band = ?", c.key, band).Take(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logAuxError("读取统计值", err)
		}
		return Statistics{}, false
	}
	return Statistics{Min: row.Minimum, Max: row.Maximum, Mean: row.Mean, StdDev: row.StdDev}, true
}

func (c *auxCache) SetStatistics(band int, st Statistics) error {
	row := AuxStatistics{
		DatasetKey: c.key,
		Band:       band,
		Minimum:    st.Min,
		Maximum:    st.Max,
		Mean:       st.Mean,
		StdDev:     st.StdDev,
	}
	return c.store.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset_key"}, {Name: "band"}},
		DoUpdates: clause.AssignmentColumns([]string{"minimum", "maximum", "mean", "std_dev", "updated_at"}),
	}).Create(&row).Error
}

func (c *auxCache) Histogram(band int, req HistogramRequest) (*Histogram, bool) {
	var row AuxHistogram
	err := c.store.db.Where(
		"dataset_key = ? AND band = ? AND hist_min = ? AND hist_max = ? AND buckets = ? AND include_out_of_range = ? AND approximate = ?",
		c.key, band, req.Min, req.Max, req.Buckets, req.IncludeOutOfRange, req.Approximate,
	).Take(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logAuxError("读取直方图", err)
		}
		return nil, false
	}
	return row.histogram()
}

func (c *auxCache) DefaultHistogram(band int) (*Histogram, bool) {
	var row AuxHistogram
	err := c.store.db.Where("dataset_key = ? AND band = ?", c.key, band).Order("id").Take(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logAuxError("读取默认直方图", err)
		}
		return nil, false
	}
	return row.histogram()
}

func (c *auxCache) SetHistogram(band int, h *Histogram) error {
	counts, err := auxJSON.MarshalToString(h.Counts)
	if err != nil {
		return err
	}
	row := AuxHistogram{
		DatasetKey:        c.key,
		Band:              band,
		HistMin:           h.Min,
		HistMax:           h.Max,
		Buckets:           h.Buckets,
		IncludeOutOfRange: h.IncludeOutOfRange,
		Approximate:       h.Approximate,
		Counts:            counts,
	}
	return c.store.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where(
			"dataset_key = ? AND band = ? AND hist_min = ? AND hist_max = ? AND buckets = ? AND include_out_of_range = ? AND approximate = ?",
			c.key, band, h.Min, h.Max, h.Buckets, h.IncludeOutOfRange, h.Approximate,
		).Delete(&AuxHistogram{}).Error
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
}

func (c *auxCache) ClearStatistics(band int) error {
	return c.store.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dataset_key = ? AND band = ?", c.key, band).Delete(&AuxStatistics{}).Error; err != nil {
			return err
		}
		return tx.Where("dataset_key = ? AND band = ?", c.key, band).Delete(&AuxHistogram{}).Error
	})
}

func (row *AuxHistogram) histogram() (*Histogram, bool) {
	var counts []uint64
	if err := auxJSON.UnmarshalFromString(row.Counts, &counts); err != nil || len(counts) != row.Buckets {
		logAuxError("解析直方图", fmt.Errorf("dataset %s band %d: %v", row.DatasetKey, row.Band, err))
		return nil, false
	}
	return &Histogram{
		Min:               row.HistMin,
		Max:               row.HistMax,
		Buckets:           row.Buckets,
		IncludeOutOfRange: row.IncludeOutOfRange,
		Approximate:       row.Approximate,
		Counts:            counts,
	}, true
}

func logAuxError(op string, err error) {
	log.Printf("统计侧车库%s失败: %v", op, err)
}
