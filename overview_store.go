// overview_store.go
package Govrt

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// OverviewLevel 已存储的概视图层级
type OverviewLevel struct {
	Band     int
	Factor   int
	Width    int
	Height   int
	DataType DataType
	Method   ResampleMethod
}

// OverviewStore 概视图侧车库：每个层级一条记录，像元以zstd压缩存储
type OverviewStore struct {
	db      *sql.DB
	dsn     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// overviewSidecarPath 描述文件对应的概视图侧车库路径
func overviewSidecarPath(descPath string) string {
	return descPath + ".ovr.db"
}

// memoryOverviewDSN 内联描述使用的内存库
func memoryOverviewDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
}

// OpenOverviewStore 打开或创建概视图侧车库
func OpenOverviewStore(dsn string) (*OverviewStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open overview store: %w", err)
	}
	// 内存库在最后一个连接关闭后消失
	db.SetMaxOpenConns(1)

	store := &OverviewStore{db: db, dsn: dsn}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	store.encoder, err = zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.decoder, err = zstd.NewReader(nil)
	if err != nil {
		store.encoder.Close()
		db.Close()
		return nil, err
	}
	return store, nil
}

// openExistingOverviewStore 侧车库文件存在时打开
func openExistingOverviewStore(descPath string) (*OverviewStore, error) {
	path := overviewSidecarPath(descPath)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return OpenOverviewStore(path)
}

// createTables 创建表结构
func (s *OverviewStore) createTables() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			name TEXT PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS overviews (
			band INTEGER,
			factor INTEGER,
			width INTEGER,
			height INTEGER,
			data_type TEXT,
			resampling TEXT,
			pixel_data BLOB,
			PRIMARY KEY (band, factor)
		)`,
	}
	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SetMetadata 写入元数据
func (s *OverviewStore) SetMetadata(name, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", name, value)
	return err
}

// Metadata 读取元数据
func (s *OverviewStore) Metadata(name string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE name = ?", name).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("读取概视图元数据失败: %v", err)
		}
		return "", false
	}
	return value, true
}

// Clear 删除全部概视图
func (s *OverviewStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM overviews")
	return err
}

// PutOverview 写入一个层级
func (s *OverviewStore) PutOverview(band, factor int, method ResampleMethod, buf *Buffer) error {
	data := s.encoder.EncodeAll(encodeBuffer(buf), nil)
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO overviews (band, factor, width, height, data_type, resampling, pixel_data) VALUES (?, ?, ?, ?, ?, ?, ?)",
		band, factor, buf.Width, buf.Height, buf.DataType.String(), method.String(), data,
	)
	return err
}

// Levels 波段已存储的层级，按抽稀因子升序
func (s *OverviewStore) Levels(band int) ([]OverviewLevel, error) {
	rows, err := s.db.Query(
		"SELECT factor, width, height, data_type, resampling FROM overviews WHERE band = ? ORDER BY factor",
		band,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []OverviewLevel
	for rows.Next() {
		var lvl OverviewLevel
		var dt, method string
		if err := rows.Scan(&lvl.Factor, &lvl.Width, &lvl.Height, &dt, &method); err != nil {
			return nil, err
		}
		lvl.Band = band
		lvl.DataType = ParseDataType(dt)
		lvl.Method = ParseResampleMethod(method)
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}

// LoadOverview 读取一个层级的像元
func (s *OverviewStore) LoadOverview(band, factor int) (*Buffer, error) {
	var width, height int
	var dt string
	var data []byte
	err := s.db.QueryRow(
		"SELECT width, height, data_type, pixel_data FROM overviews WHERE band = ? AND factor = ?",
		band, factor,
	).Scan(&width, &height, &dt, &data)
	if err != nil {
		return nil, fmt.Errorf("load overview band %d factor %d: %w", band, factor, err)
	}
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decode overview band %d factor %d: %w", band, factor, err)
	}
	return decodeBuffer(raw, width, height, ParseDataType(dt))
}

// Close 关闭侧车库
func (s *OverviewStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// encodeBuffer 小端float64序列：实部，复数类型随后为虚部
func encodeBuffer(buf *Buffer) []byte {
	n := len(buf.Real) + len(buf.Imag)
	out := make([]byte, 8*n)
	for i, v := range buf.Real {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	off := 8 * len(buf.Real)
	for i, v := range buf.Imag {
		binary.LittleEndian.PutUint64(out[off+8*i:], math.Float64bits(v))
	}
	return out
}

func decodeBuffer(raw []byte, width, height int, dt DataType) (*Buffer, error) {
	buf := NewBuffer(width, height, dt)
	need := 8 * (len(buf.Real) + len(buf.Imag))
	if len(raw) != need {
		return nil, fmt.Errorf("overview payload has %d bytes, want %d", len(raw), need)
	}
	for i := range buf.Real {
		buf.Real[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	off := 8 * len(buf.Real)
	for i := range buf.Imag {
		buf.Imag[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off+8*i:]))
	}
	return buf, nil
}
