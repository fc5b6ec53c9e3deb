package bundle

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	gort "runtime"
	"time"

	"airgap-bundler/archive"
	"airgap-bundler/checksum"
	"airgap-bundler/engine"
	"airgap-bundler/pull"

	"github.com/Yui100901/MyGo/log_utils"
	"gopkg.in/yaml.v2"
)

//
// @Author yfy2001
// @Date 2026/2/2 11 40
//

const (
	archiveBase = "images.tar"
	readmeName  = "README"
	auditName   = "security-audit.txt"
	secretsName = "versions.env"
	composeName = "docker-compose.yml"
)

// CreateOptions 捆绑包创建参数
type CreateOptions struct {
	Engine      engine.Client
	Images      []string
	Compression archive.Compression
	Pull        pull.Policy
	// VersionsFile 非空且文件存在时，将其加密快照存入捆绑包
	VersionsFile string
	// Passphrase 快照加密口令，为空则跳过快照并告警
	Passphrase string
	// Enhanced 生成v2清单：附带compose文件、逐镜像摘要与全成员校验和表
	Enhanced      bool
	ComposeFile   string
	BundleVersion string
}

// Create 组装捆绑包：建目录→拉取→归档→清单→密钥快照→README→安全审计。
// 幂等：相同输入重复执行时除created/created_by外产物逐字节一致。
func Create(dir string, opts CreateOptions) error {
	if opts.Engine == nil {
		return fmt.Errorf("%w: 未指定容器运行时", engine.ErrNotAvailable)
	}
	if len(opts.Images) == 0 {
		return pull.ErrNoImages
	}
	if opts.Compression == "" {
		opts.Compression = archive.Gzip
	}
	if opts.BundleVersion == "" {
		opts.BundleVersion = "1.0.0"
	}
	if opts.Enhanced && opts.ComposeFile == "" {
		return fmt.Errorf("增强模式需要指定compose文件")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建捆绑包目录 %s 失败: %w", dir, err)
	}

	if err := pull.Images(opts.Engine, opts.Images, opts.Pull); err != nil {
		return err
	}

	archivePath, err := archive.Save(opts.Engine, filepath.Join(dir, archiveBase), opts.Images, opts.Compression)
	if err != nil {
		return err
	}

	base := ManifestV1{
		Schema:        1,
		Created:       time.Now().UTC().Format(time.RFC3339),
		CreatedBy:     creator(),
		Runtime:       opts.Engine.Name(),
		Compression:   string(opts.Compression),
		Archive:       filepath.Base(archivePath),
		BundleVersion: opts.BundleVersion,
		Architecture:  gort.GOARCH,
		Images:        opts.Images,
	}

	if !opts.Enhanced {
		if err := writeManifest(dir, ManifestName, &base); err != nil {
			return err
		}
	}

	secretsEncrypted, err := snapshotSecrets(dir, opts)
	if err != nil {
		return err
	}

	if opts.Enhanced {
		if err := copyCompose(dir, opts.ComposeFile); err != nil {
			return err
		}
	}

	if err := writeReadme(dir, &base); err != nil {
		return err
	}
	if err := writeAudit(dir, &base, secretsEncrypted); err != nil {
		return err
	}

	if opts.Enhanced {
		if err := writeEnhancedManifest(dir, base, opts); err != nil {
			return err
		}
	}

	log_utils.Info.Println("捆绑包创建完成", dir)
	return nil
}

// snapshotSecrets 加密保存versions环境文件快照，返回是否已加密写入
func snapshotSecrets(dir string, opts CreateOptions) (bool, error) {
	if opts.VersionsFile == "" {
		return false, nil
	}
	if _, err := os.Stat(opts.VersionsFile); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("读取versions文件失败: %w", err)
	}
	if opts.Passphrase == "" {
		log_utils.Error.Println("警告: 未设置加密口令（AB_PASSPHRASE），跳过versions快照")
		return false, nil
	}
	dst := filepath.Join(dir, secretsName)
	if err := EncryptFile(opts.VersionsFile, dst, opts.Passphrase); err != nil {
		return false, err
	}
	return true, nil
}

// copyCompose 校验compose文件为合法YAML后复制进捆绑包
func copyCompose(dir, composeFile string) error {
	data, err := os.ReadFile(composeFile)
	if err != nil {
		return fmt.Errorf("读取compose文件失败: %w", err)
	}
	var doc map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("compose文件 %s 不是合法YAML: %w", composeFile, err)
	}
	return checksum.AtomicWrite(filepath.Join(dir, composeName), data, 0644)
}

// writeEnhancedManifest 生成v2清单：compose校验和、逐镜像摘要、
// 除清单自身外全部成员的文件校验和表。必须最后写入。
func writeEnhancedManifest(dir string, base ManifestV1, opts CreateOptions) error {
	base.Schema = 2
	m := ManifestV2{
		ManifestV1:   base,
		ImageDigests: make([]ImageDigest, 0, len(opts.Images)),
		Files:        make(map[string]string),
	}

	composePath := filepath.Join(dir, composeName)
	composeDigest, err := checksum.Digest(composePath)
	if err != nil {
		return err
	}
	m.ComposeChecksum = composeDigest
	m.ComposeVersion = composeVersion(composePath)

	for _, ref := range opts.Images {
		d, err := opts.Engine.RepoDigest(ref)
		if err != nil {
			return fmt.Errorf("解析镜像 %s 的摘要失败: %w", ref, err)
		}
		m.ImageDigests = append(m.ImageDigests, ImageDigest{Name: ref, Digest: d})
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == EnhancedManifestName {
			continue
		}
		d, err := checksum.Digest(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		m.Files[entry.Name()] = d
	}

	return writeManifest(dir, EnhancedManifestName, &m)
}

// composeVersion 读取compose文件顶层version字段，缺失时为空
func composeVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var doc map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ""
	}
	if v, ok := doc["version"].(string); ok {
		return v
	}
	return ""
}

// writeReadme 写入捆绑包说明与导入指引
func writeReadme(dir string, m *ManifestV1) error {
	text := fmt.Sprintf(`离线镜像捆绑包
================

创建时间: %s
创建者:   %s
运行时:   %s
压缩方式: %s
归档文件: %s

包含镜像:
`, m.Created, m.CreatedBy, m.Runtime, m.Compression, m.Archive)
	for _, img := range m.Images {
		text += "  - " + img + "\n"
	}
	text += fmt.Sprintf(`
导入方法（在离线目标主机上执行）:

  ab load <捆绑包目录>

或直接使用容器运行时:

  %s load -i %s

导入前会校验归档的SHA-256校验和（%s%s）。
`, m.Runtime, m.Archive, m.Archive, checksum.Suffix)
	return checksum.AtomicWrite(filepath.Join(dir, readmeName), []byte(text), 0644)
}

// creator 捆绑包创建者标识，user@host
func creator() string {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return username + "@" + host
}
