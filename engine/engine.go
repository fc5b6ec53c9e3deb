package engine

import (
	"errors"
	"fmt"
	"os/exec"
)

//
// @Author yfy2001
// @Date 2026/1/9 10 22
//

var (
	// ErrNotAvailable 找不到可用的容器运行时
	ErrNotAvailable = errors.New("没有可用的容器运行时")
	// ErrCommandFailed 运行时命令执行失败
	ErrCommandFailed = errors.New("容器运行时命令执行失败")
)

// Client 容器运行时抽象，屏蔽docker与podman的差异。
// 所有组件通过显式传入的Client操作镜像，不依赖全局状态。
type Client interface {
	// Name 运行时名称，"docker"或"podman"
	Name() string
	// Pull 拉取单个镜像
	Pull(ref string) error
	// Save 将多个镜像一次性导出为一个tar文件
	Save(output string, refs ...string) error
	// Load 从tar文件（可为gzip/zstd压缩）导入镜像
	Load(archive string) error
	// Exists 镜像是否存在于本地镜像库
	Exists(ref string) bool
	// RepoDigest 查询镜像在registry侧的不可变摘要
	RepoDigest(ref string) (string, error)
	// Images 列出本地镜像
	Images() ([]string, error)
}

// Detect 探测容器运行时。preferred非空时只使用指定的运行时，
// 否则优先docker，其次podman。
func Detect(preferred string) (Client, error) {
	switch preferred {
	case "docker":
		if _, err := exec.LookPath("docker"); err != nil {
			return nil, fmt.Errorf("%w: 未找到docker，请安装docker或改用podman", ErrNotAvailable)
		}
		return NewDocker()
	case "podman":
		if _, err := exec.LookPath("podman"); err != nil {
			return nil, fmt.Errorf("%w: 未找到podman，请安装podman或改用docker", ErrNotAvailable)
		}
		return NewPodman(), nil
	case "":
		if _, err := exec.LookPath("docker"); err == nil {
			return NewDocker()
		}
		if _, err := exec.LookPath("podman"); err == nil {
			return NewPodman(), nil
		}
		return nil, fmt.Errorf("%w: 请先安装docker或podman", ErrNotAvailable)
	default:
		return nil, fmt.Errorf("未知的容器运行时: %q（支持docker、podman）", preferred)
	}
}
