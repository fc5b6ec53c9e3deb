package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"airgap-bundler/checksum"
)

//
// @Author yfy2001
// @Date 2026/2/2 10 18
//

const (
	// ManifestName v1清单文件名
	ManifestName = "manifest.json"
	// EnhancedManifestName v2（增强）清单文件名
	EnhancedManifestName = "bundle-manifest.json"
)

// ErrNoManifest 捆绑包目录中没有清单
var ErrNoManifest = errors.New("捆绑包中没有清单文件")

// Manifest 捆绑包清单，按schema字段区分v1/v2两个变体
type Manifest interface {
	SchemaVersion() int
	ArchiveName() string
	ImageRefs() []string
	RuntimeName() string
	CompressionName() string
}

// ManifestV1 基础清单：扁平镜像列表
type ManifestV1 struct {
	Schema        int      `json:"schema"`
	Created       string   `json:"created"`
	CreatedBy     string   `json:"created_by"`
	Runtime       string   `json:"runtime"`
	Compression   string   `json:"compression"`
	Archive       string   `json:"archive"`
	BundleVersion string   `json:"bundle_version"`
	Architecture  string   `json:"architecture"`
	Images        []string `json:"images"`
}

func (m *ManifestV1) SchemaVersion() int      { return m.Schema }
func (m *ManifestV1) ArchiveName() string     { return m.Archive }
func (m *ManifestV1) ImageRefs() []string     { return m.Images }
func (m *ManifestV1) RuntimeName() string     { return m.Runtime }
func (m *ManifestV1) CompressionName() string { return m.Compression }

// ImageDigest 镜像及其registry侧解析出的不可变摘要
type ImageDigest struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// ManifestV2 增强清单：在v1基础上增加compose信息、
// 逐镜像摘要，以及覆盖除清单自身外全部成员的文件校验和表
type ManifestV2 struct {
	ManifestV1
	ComposeVersion  string            `json:"compose_version,omitempty"`
	ComposeChecksum string            `json:"compose_checksum,omitempty"`
	ImageDigests    []ImageDigest     `json:"image_digests"`
	Files           map[string]string `json:"files"`
}

// Decode 按schema字段分派反序列化
func Decode(data []byte) (Manifest, error) {
	var probe struct {
		Schema int `json:"schema"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("清单解析失败: %w", err)
	}
	switch probe.Schema {
	case 1:
		var m ManifestV1
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("清单(v1)解析失败: %w", err)
		}
		return &m, nil
	case 2:
		var m ManifestV2
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("清单(v2)解析失败: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("不支持的清单schema版本: %d", probe.Schema)
	}
}

// ReadManifest 读取捆绑包清单，增强清单优先。
// 两种清单都不存在时返回ErrNoManifest。
func ReadManifest(dir string) (Manifest, error) {
	for _, name := range []string{EnhancedManifestName, ManifestName} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("读取清单 %s 失败: %w", name, err)
		}
		return Decode(data)
	}
	return nil, ErrNoManifest
}

// writeManifest 原子写入清单
func writeManifest(dir, name string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("清单序列化失败: %w", err)
	}
	data = append(data, '\n')
	if err := checksum.AtomicWrite(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("写入清单失败: %w", err)
	}
	return nil
}
