package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	gort "runtime"
	"sync"

	"airgap-bundler/checksum"
	"airgap-bundler/engine"

	"github.com/Yui100901/MyGo/log_utils"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

//
// @Author yfy2001
// @Date 2026/1/20 16 02
//

// Compression 归档压缩方式
type Compression string

const (
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
	None Compression = "none"
)

// ErrNoImages 镜像列表为空
var ErrNoImages = errors.New("镜像列表为空")

// ParseCompression 解析压缩方式，未知取值为致命配置错误
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case Gzip, Zstd, None:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("未知的压缩方式: %q（支持gzip、zstd、none）", s)
	}
}

// Ext 压缩方式对应的归档扩展名
func (c Compression) Ext() string {
	switch c {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// 提前退出（错误或信号）时待清理的临时文件
var (
	cleanupMu    sync.Mutex
	cleanupFiles = make(map[string]struct{})
)

func registerCleanup(path string) {
	cleanupMu.Lock()
	cleanupFiles[path] = struct{}{}
	cleanupMu.Unlock()
}

func unregisterCleanup(path string) {
	cleanupMu.Lock()
	delete(cleanupFiles, path)
	cleanupMu.Unlock()
}

// Cleanup 删除所有已登记的临时文件，进程收到信号时由main调用
func Cleanup() {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	for path := range cleanupFiles {
		if err := os.Remove(path); err == nil {
			log_utils.Info.Println("清理临时文件", path)
		}
		delete(cleanupFiles, path)
	}
}

// Save 将镜像列表一次性导出为归档并按配置压缩，
// 返回最终归档路径（outputPath加压缩扩展名），
// 并在返回前为最终产物写出校验和伴随文件。
func Save(rt engine.Client, outputPath string, refs []string, c Compression) (string, error) {
	if len(refs) == 0 {
		return "", ErrNoImages
	}
	if _, err := ParseCompression(string(c)); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	// 单次save调用保存全部镜像，保证归档内层共享的一致性
	tmpTar := outputPath + ".saving"
	registerCleanup(tmpTar)
	defer func() {
		_ = os.Remove(tmpTar)
		unregisterCleanup(tmpTar)
	}()

	log_utils.Info.Println("导出镜像归档", refs)
	if err := rt.Save(tmpTar, refs...); err != nil {
		return "", err
	}

	final := outputPath + c.Ext()
	registerCleanup(final)
	defer unregisterCleanup(final)

	switch c {
	case None:
		if err := os.Rename(tmpTar, final); err != nil {
			return "", err
		}
	case Gzip, Zstd:
		log_utils.Info.Println("压缩归档", final)
		if err := compressFile(tmpTar, final, c); err != nil {
			_ = os.Remove(final)
			return "", fmt.Errorf("压缩归档失败: %w", err)
		}
	}

	if _, err := checksum.Write(final); err != nil {
		_ = os.Remove(final)
		return "", err
	}
	return final, nil
}

// compressFile 流式压缩src到dst
func compressFile(src, dst string, c Compression) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	var w io.WriteCloser
	switch c {
	case Gzip:
		// pgzip为并行gzip实现，多核机器上明显快于标准gzip
		w = pgzip.NewWriter(out)
	case Zstd:
		zw, err := zstd.NewWriter(out, zstd.WithEncoderConcurrency(gort.GOMAXPROCS(0)))
		if err != nil {
			return err
		}
		w = zw
	default:
		return fmt.Errorf("未知的压缩方式: %q", c)
	}

	if _, err := io.Copy(w, in); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return out.Sync()
}
