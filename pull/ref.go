package pull

import (
	"fmt"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

//
// @Author yfy2001
// @Date 2026/1/15 09 45
//

// Ref 解析后的镜像引用。
// 同时带tag与digest时以digest寻址，tag只是可变的提示。
type Ref struct {
	// Name 规范化仓库名，如docker.io/library/busybox
	Name string
	// Tag 标签，未指定时为latest；digest寻址时可能为空
	Tag string
	// Digest 不可变内容摘要，可为空
	Digest digest.Digest
}

// Parse 解析并规范化镜像引用（repo[:tag]或repo@sha256:<64 hex>）
func Parse(s string) (Ref, error) {
	named, err := reference.ParseDockerRef(s)
	if err != nil {
		return Ref{}, fmt.Errorf("镜像引用 %q 格式错误: %w", s, err)
	}
	r := Ref{Name: named.Name()}
	if tagged, ok := named.(reference.Tagged); ok {
		r.Tag = tagged.Tag()
	}
	if canonical, ok := named.(reference.Canonical); ok {
		r.Digest = canonical.Digest()
		if err := r.Digest.Validate(); err != nil {
			return Ref{}, fmt.Errorf("镜像引用 %q 的摘要无效: %w", s, err)
		}
	}
	return r, nil
}

// Pinned 是否以不可变摘要固定
func (r Ref) Pinned() bool { return r.Digest != "" }

// PullTarget 拉取时使用的寻址串，digest优先于tag
func (r Ref) PullTarget() string {
	if r.Pinned() {
		return r.Name + "@" + r.Digest.String()
	}
	return r.Name + ":" + r.Tag
}
