/*
Copyright (C) 2025 [GrainArc]

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package Govrt

import (
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultMaxPoolSize 默认数据源句柄池上限
	DefaultMaxPoolSize = 100
	// DefaultMaxRecursionDepth 默认嵌套打开层数上限
	DefaultMaxRecursionDepth = 30

	envSharedSource = "VRT_SHARED_SOURCE"
	envMaxPoolSize  = "GDAL_MAX_DATASET_POOL_SIZE"
)

var MainConfig = DefaultConfig()

// Config 虚拟栅格引擎配置
type Config struct {
	XMLName           xml.Name `xml:"config"`
	SharedSources     bool     `xml:"shared_source"`
	MaxPoolSize       int      `xml:"max_dataset_pool_size"`
	MaxRecursionDepth int      `xml:"max_recursion_depth"`
	AuxDatabase       string   `xml:"aux_database"`
	WriteBackOnClose  bool     `xml:"write_back_on_close"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		SharedSources:     true,
		MaxPoolSize:       DefaultMaxPoolSize,
		MaxRecursionDepth: DefaultMaxRecursionDepth,
		WriteBackOnClose:  true,
	}
}

func init() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Printf("无法获取用户配置目录: %v", err)
		MainConfig = ApplyEnv(MainConfig)
		return
	}
	configdata := filepath.Join(configDir, "BoundlessMap", "vrt.xml")
	if _, err := os.Stat(configdata); err == nil {
		cfg, err := LoadConfig(configdata)
		if err != nil {
			log.Printf("读取配置失败: %v", err)
		} else {
			MainConfig = cfg
		}
	}
	MainConfig = ApplyEnv(MainConfig)
}

// LoadConfig 从XML文件读取配置，缺省字段取默认值
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	xmlFile, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config %s: %w", path, err)
	}
	defer xmlFile.Close()

	xmlDecoder := xml.NewDecoder(xmlFile)
	if err := xmlDecoder.Decode(&cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg.normalize(), nil
}

// ApplyEnv 用环境变量覆盖配置
func ApplyEnv(cfg Config) Config {
	if v, ok := os.LookupEnv(envSharedSource); ok {
		if b, ok := parseBoolOption(v); ok {
			cfg.SharedSources = b
		} else {
			log.Printf("忽略无效的 %s=%q", envSharedSource, v)
		}
	}
	if v, ok := os.LookupEnv(envMaxPoolSize); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxPoolSize = n
		} else {
			log.Printf("忽略无效的 %s=%q", envMaxPoolSize, v)
		}
	}
	return cfg.normalize()
}

func (c Config) normalize() Config {
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = DefaultMaxPoolSize
	}
	if c.MaxRecursionDepth <= 0 {
		c.MaxRecursionDepth = DefaultMaxRecursionDepth
	}
	return c
}

// parseBoolOption 解析 YES/NO/ON/OFF/TRUE/FALSE/1/0
func parseBoolOption(v string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "1", "YES", "ON", "TRUE":
		return true, true
	case "0", "NO", "OFF", "FALSE":
		return false, true
	}
	return false, false
}
