package engine

import (
	"fmt"
	"strings"

	"github.com/Yui100901/MyGo/command"
	"github.com/Yui100901/MyGo/log_utils"
)

//
// @Author yfy2001
// @Date 2026/1/9 11 05
//

// Podman 基于podman命令行的运行时实现
type Podman struct{}

// NewPodman 构造函数
func NewPodman() *Podman { return &Podman{} }

func (p *Podman) Name() string { return "podman" }

// Pull 拉取镜像
func (p *Podman) Pull(ref string) error {
	log_utils.Info.Println("拉取镜像", ref)
	if err := command.RunCommand("podman", "pull", ref); err != nil {
		return fmt.Errorf("%w: podman pull %s: %v", ErrCommandFailed, ref, err)
	}
	return nil
}

// Save 导出镜像，单次调用保存全部镜像以保证归档自洽
func (p *Podman) Save(output string, refs ...string) error {
	log_utils.Info.Println("导出镜像", refs)
	args := append([]string{"save", "-o", output}, refs...)
	if err := command.RunCommand("podman", args...); err != nil {
		return fmt.Errorf("%w: podman save: %v", ErrCommandFailed, err)
	}
	return nil
}

// Load 导入镜像，podman原生支持gzip与zstd归档
func (p *Podman) Load(archive string) error {
	log_utils.Info.Println("导入镜像", archive)
	if err := command.RunCommand("podman", "load", "-i", archive); err != nil {
		return fmt.Errorf("%w: podman load %s: %v", ErrCommandFailed, archive, err)
	}
	return nil
}

// Exists 镜像是否存在
func (p *Podman) Exists(ref string) bool {
	return command.RunCommand("podman", "image", "exists", ref) == nil
}

// RepoDigest 取registry侧摘要
func (p *Podman) RepoDigest(ref string) (string, error) {
	output, err := command.RunCommandOutput("podman", "image", "inspect",
		"--format", "{{index .RepoDigests 0}}", ref)
	if err != nil {
		return "", fmt.Errorf("%w: podman inspect %s: %v", ErrCommandFailed, ref, err)
	}
	repoDigest := strings.TrimSpace(output)
	if repoDigest == "" {
		return "", fmt.Errorf("镜像 %s 没有registry摘要（可能为本地构建镜像）", ref)
	}
	if idx := strings.LastIndex(repoDigest, "@"); idx >= 0 {
		return repoDigest[idx+1:], nil
	}
	return repoDigest, nil
}

// Images 列出本地镜像
func (p *Podman) Images() ([]string, error) {
	output, err := command.RunCommandOutput("podman", "images", "--format", "{{.Repository}}:{{.Tag}}")
	if err != nil {
		return nil, fmt.Errorf("%w: podman images: %v", ErrCommandFailed, err)
	}
	var images []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			images = append(images, line)
		}
	}
	return images, nil
}
