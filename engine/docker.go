package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

//
// @Author yfy2001
// @Date 2026/1/9 10 40
//

// Docker 基于docker SDK的运行时实现
type Docker struct {
	cli *client.Client
}

// NewDocker 构造函数
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: 初始化docker客户端失败: %v", ErrNotAvailable, err)
	}
	return &Docker{cli: cli}, nil
}

func (d *Docker) Name() string { return "docker" }

// Pull 拉取镜像
func (d *Docker) Pull(ref string) error {
	ctx := context.Background()
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: docker pull %s: %v", ErrCommandFailed, ref, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	// 必须读完响应流，拉取才会真正完成
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: docker pull %s: %v", ErrCommandFailed, ref, err)
	}
	return nil
}

// Save 导出镜像，单次调用保存全部镜像以保证归档自洽
func (d *Docker) Save(output string, refs ...string) error {
	ctx := context.Background()
	reader, err := d.cli.ImageSave(ctx, refs)
	if err != nil {
		return fmt.Errorf("%w: docker save: %v", ErrCommandFailed, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	file, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "警告: 关闭文件 %s 失败: %v\n", output, cerr)
		}
	}()

	_, err = io.Copy(file, reader)
	return err
}

// Load 导入镜像，按扩展名在客户端侧解压
func (d *Docker) Load(archive string) error {
	ctx := context.Background()
	file, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	var input io.Reader = file
	switch {
	case strings.HasSuffix(archive, ".gz"):
		gz, err := pgzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("解压gzip归档 %s 失败: %w", archive, err)
		}
		defer func() {
			_ = gz.Close()
		}()
		input = gz
	case strings.HasSuffix(archive, ".zst"):
		zr, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("解压zstd归档 %s 失败: %w", archive, err)
		}
		defer zr.Close()
		input = zr
	}

	resp, err := d.cli.ImageLoad(ctx, input, client.ImageLoadWithQuiet(false))
	if err != nil {
		return fmt.Errorf("%w: docker load: %v", ErrCommandFailed, err)
	}
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

// Exists 镜像是否存在
func (d *Docker) Exists(ref string) bool {
	ctx := context.Background()
	_, err := d.cli.ImageInspect(ctx, ref)
	return err == nil
}

// RepoDigest 取registry侧摘要
func (d *Docker) RepoDigest(ref string) (string, error) {
	ctx := context.Background()
	info, err := d.cli.ImageInspect(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%w: docker inspect %s: %v", ErrCommandFailed, ref, err)
	}
	if len(info.RepoDigests) == 0 {
		return "", fmt.Errorf("镜像 %s 没有registry摘要（可能为本地构建镜像）", ref)
	}
	// RepoDigests形如 repo@sha256:xxx，只保留摘要部分
	if idx := strings.LastIndex(info.RepoDigests[0], "@"); idx >= 0 {
		return info.RepoDigests[0][idx+1:], nil
	}
	return info.RepoDigests[0], nil
}

// Images 列出本地镜像
func (d *Docker) Images() ([]string, error) {
	ctx := context.Background()
	summaries, err := d.cli.ImageList(ctx, image.ListOptions{All: false})
	if err != nil {
		return nil, fmt.Errorf("%w: docker images: %v", ErrCommandFailed, err)
	}
	var images []string
	for _, s := range summaries {
		images = append(images, s.RepoTags...)
	}
	return images, nil
}
