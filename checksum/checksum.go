package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Yui100901/MyGo/log_utils"
)

//
// @Author yfy2001
// @Date 2026/1/12 14 30
//

// Suffix 校验和伴随文件的后缀
const Suffix = ".sha256"

// ErrMismatch 校验和不匹配
var ErrMismatch = errors.New("校验和不匹配")

// Digest 计算文件内容的SHA-256，返回小写十六进制串
func Digest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("读取文件 %s 失败: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("读取文件 %s 失败: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Write 为文件生成校验和伴随文件（<path>.sha256），
// 内容为"<hex>  <basename>\n"，原子写入，权限0644。
// 返回伴随文件路径。
func Write(path string) (string, error) {
	digest, err := Digest(path)
	if err != nil {
		return "", err
	}
	sidecar := path + Suffix
	content := fmt.Sprintf("%s  %s\n", digest, filepath.Base(path))
	if err := AtomicWrite(sidecar, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("写入校验和文件 %s 失败: %w", sidecar, err)
	}
	return sidecar, nil
}

// Verify 重新计算文件摘要并与伴随文件比对。
// 伴随文件或目标文件缺失时返回false并记录原因，不抛错。
func Verify(path string) bool {
	sidecar := path + Suffix
	data, err := os.ReadFile(sidecar)
	if err != nil {
		log_utils.Error.Println("校验和文件缺失或不可读:", sidecar, err)
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		log_utils.Error.Println("校验和文件格式错误:", sidecar)
		return false
	}
	expected := fields[0]

	actual, err := Digest(path)
	if err != nil {
		log_utils.Error.Println("目标文件缺失或不可读:", path, err)
		return false
	}
	// 大小写敏感比较，摘要统一为小写十六进制
	if actual != expected {
		log_utils.Error.Println("校验和不匹配:", path, "期望", expected, "实际", actual)
		return false
	}
	return true
}

// AtomicWrite 原子写入文件：先写临时文件再重命名
func AtomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
