package pull

import (
	"errors"
	"fmt"
	"log"
	"time"

	"airgap-bundler/engine"

	"github.com/cenkalti/backoff/v4"
)

//
// @Author yfy2001
// @Date 2026/1/15 09 46
//

const (
	// 拉取重试默认配置
	defaultMaxAttempts = 5
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 20 * time.Second
)

// ErrNoImages 镜像列表为空
var ErrNoImages = errors.New("镜像列表为空")

// Policy 拉取重试策略：指数退避，每次延迟翻倍，封顶MaxDelay
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy 默认重试策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Images 按顺序拉取镜像，每个镜像带指数退避重试。
// 任一镜像重试耗尽即中止整批并返回最后一次错误（fail-fast）。
func Images(rt engine.Client, refs []string, policy Policy) error {
	if rt == nil {
		return fmt.Errorf("%w: 未指定容器运行时", engine.ErrNotAvailable)
	}
	if len(refs) == 0 {
		return ErrNoImages
	}
	policy = policy.normalized()

	for _, raw := range refs {
		ref, err := Parse(raw)
		if err != nil {
			return err
		}
		target := ref.PullTarget()
		log.Printf("拉取镜像 %s（经由%s）", target, rt.Name())
		if err := pullOne(rt, target, policy); err != nil {
			return fmt.Errorf("拉取镜像 %s 失败（已重试%d次）: %w", target, policy.MaxAttempts, err)
		}
	}
	return nil
}

// pullOne 单镜像拉取，指数退避
func pullOne(rt engine.Client, target string, policy Policy) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		return rt.Pull(target)
	}
	notify := func(err error, delay time.Duration) {
		log.Printf("拉取 %s 失败（尝试 %d/%d）: %v，%s后重试...",
			target, attempt, policy.MaxAttempts, err, delay)
	}
	return backoff.RetryNotify(operation,
		backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), notify)
}
