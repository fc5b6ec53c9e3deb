package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"airgap-bundler/checksum"
	"airgap-bundler/engine"

	"github.com/Yui100901/MyGo/log_utils"
)

//
// @Author yfy2001
// @Date 2026/2/3 09 12
//

// ErrAmbiguousArchive 目录中存在多个归档候选，无法确定导入目标
var ErrAmbiguousArchive = errors.New("捆绑包中存在多个归档文件，无法确定导入目标")

// LoadOptions 捆绑包导入参数
type LoadOptions struct {
	Engine engine.Client
	// VerifyAfter 导入后列出本地镜像供操作员核对，失败不影响导入结果
	VerifyAfter bool
}

// Load 在目标主机导入捆绑包。
// 归档存在校验和伴随文件时校验为强制项，不匹配直接中止；
// 伴随文件缺失时仅告警后继续。
func Load(dir string, opts LoadOptions) error {
	if opts.Engine == nil {
		return fmt.Errorf("%w: 未指定容器运行时", engine.ErrNotAvailable)
	}

	archivePath, err := locateArchive(dir)
	if err != nil {
		return err
	}

	if _, err := os.Stat(archivePath + checksum.Suffix); err == nil {
		if !checksum.Verify(archivePath) {
			return fmt.Errorf("归档 %s %w，中止导入", archivePath, checksum.ErrMismatch)
		}
		log_utils.Info.Println("归档校验和验证通过", archivePath)
	} else {
		log_utils.Error.Println("警告: 归档没有校验和文件，跳过完整性校验", archivePath)
	}

	if err := opts.Engine.Load(archivePath); err != nil {
		return err
	}
	log_utils.Info.Println("捆绑包导入完成", dir)

	if opts.VerifyAfter {
		images, err := opts.Engine.Images()
		if err != nil {
			log_utils.Error.Println("警告: 导入后列出镜像失败:", err)
		} else {
			log_utils.Info.Println("当前本地镜像:")
			for _, img := range images {
				log_utils.Info.Println("  ", img)
			}
		}
	}
	return nil
}

// locateArchive 定位归档：优先取清单的archive字段；
// 没有清单时按images.tar*通配查找，多于一个候选时报歧义错误。
func locateArchive(dir string) (string, error) {
	m, err := ReadManifest(dir)
	if err == nil {
		if m.ArchiveName() == "" {
			return "", fmt.Errorf("清单缺少archive字段")
		}
		path := filepath.Join(dir, m.ArchiveName())
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("清单指向的归档不存在: %w", err)
		}
		return path, nil
	}
	if !errors.Is(err, ErrNoManifest) {
		return "", err
	}

	log_utils.Error.Println("警告: 捆绑包没有清单文件，按通配查找归档", dir)
	matches, err := filepath.Glob(filepath.Join(dir, archiveBase+"*"))
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, match := range matches {
		if strings.HasSuffix(match, checksum.Suffix) {
			continue
		}
		candidates = append(candidates, match)
	}
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("捆绑包 %s 中未找到镜像归档", dir)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrAmbiguousArchive, candidates)
	}
}
