package main

import (
	"os"
	"strconv"
	"time"

	"airgap-bundler/archive"
	"airgap-bundler/bundle"
	"airgap-bundler/engine"
	"airgap-bundler/pull"
	"airgap-bundler/versions"

	"github.com/Yui100901/MyGo/log_utils"
	"github.com/spf13/cobra"
)

//
// @Author yfy2001
// @Date 2026/2/6 09 42
//

func newCreateCommand() *cobra.Command {
	var (
		runtimeName  string
		compression  string
		versionsFile string
		composeFile  string
		enhanced     bool
		bundleVer    string
	)
	cmd := &cobra.Command{
		Use:   "create <dir> [images...]",
		Short: "创建离线捆绑包：拉取镜像并打包归档、清单、校验和与审计报告",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := args[0]
			rt, err := engine.Detect(runtimeName)
			if err != nil {
				log_utils.Error.Fatalf("探测容器运行时失败: %v", err)
			}
			comp, err := archive.ParseCompression(compression)
			if err != nil {
				log_utils.Error.Fatalf("%v", err)
			}
			opts := bundle.CreateOptions{
				Engine:        rt,
				Images:        args[1:],
				Compression:   comp,
				Pull:          pullPolicyFromEnv(),
				VersionsFile:  versionsFile,
				Passphrase:    os.Getenv("AB_PASSPHRASE"),
				Enhanced:      enhanced,
				ComposeFile:   composeFile,
				BundleVersion: bundleVer,
			}
			if len(opts.Images) == 0 && versionsFile != "" {
				if err := versions.CreateBundle(dir, versionsFile, opts); err != nil {
					log_utils.Error.Fatalf("创建捆绑包失败: %v", err)
				}
				return
			}
			if err := bundle.Create(dir, opts); err != nil {
				log_utils.Error.Fatalf("创建捆绑包失败: %v", err)
			}
		},
	}
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", envOr("AB_RUNTIME", ""), "容器运行时（docker或podman，默认自动探测）")
	cmd.Flags().StringVarP(&compression, "compression", "c", envOr("AB_COMPRESSION", "gzip"), "归档压缩方式（gzip、zstd、none）")
	cmd.Flags().StringVarP(&versionsFile, "versions", "f", "", "声明式镜像清单文件，取其中*_IMAGE变量")
	cmd.Flags().StringVarP(&composeFile, "compose", "", "", "随捆绑包分发的compose文件（增强模式必填）")
	cmd.Flags().BoolVarP(&enhanced, "enhanced", "e", false, "生成v2增强清单（逐镜像摘要与全成员校验和）")
	cmd.Flags().StringVarP(&bundleVer, "bundle-version", "", "1.0.0", "捆绑包版本号")
	return cmd
}

func newLoadCommand() *cobra.Command {
	var runtimeName string
	var verifyAfter bool
	cmd := &cobra.Command{
		Use:   "load <dir>",
		Short: "在离线主机导入捆绑包，导入前校验归档校验和",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := engine.Detect(runtimeName)
			if err != nil {
				log_utils.Error.Fatalf("探测容器运行时失败: %v", err)
			}
			opts := bundle.LoadOptions{Engine: rt, VerifyAfter: verifyAfter}
			if err := bundle.Load(args[0], opts); err != nil {
				log_utils.Error.Fatalf("导入捆绑包失败: %v", err)
			}
		},
	}
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", envOr("AB_RUNTIME", ""), "容器运行时（docker或podman，默认自动探测）")
	cmd.Flags().BoolVarP(&verifyAfter, "verify-after", "v", envOr("AB_VERIFY_AFTER_LOAD", "") != "", "导入后列出本地镜像供核对")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var runtimeName string
	cmd := &cobra.Command{
		Use:   "verify <dir>",
		Short: "校验捆绑包：归档校验和与清单镜像是否全部就绪",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := engine.Detect(runtimeName)
			if err != nil {
				log_utils.Error.Fatalf("探测容器运行时失败: %v", err)
			}
			if missing, err := bundle.Verify(args[0], rt); err != nil {
				log_utils.Error.Fatalf("校验失败（缺失%d个镜像）: %v", missing, err)
			}
		},
	}
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", envOr("AB_RUNTIME", ""), "容器运行时（docker或podman，默认自动探测）")
	return cmd
}

func newPullCommand() *cobra.Command {
	var runtimeName string
	cmd := &cobra.Command{
		Use:   "pull <images...>",
		Short: "拉取镜像，带指数退避重试",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := engine.Detect(runtimeName)
			if err != nil {
				log_utils.Error.Fatalf("探测容器运行时失败: %v", err)
			}
			if err := pull.Images(rt, args, pullPolicyFromEnv()); err != nil {
				log_utils.Error.Fatalf("拉取镜像失败: %v", err)
			}
		},
	}
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", envOr("AB_RUNTIME", ""), "容器运行时（docker或podman，默认自动探测）")
	return cmd
}

func newImagesCommand() *cobra.Command {
	var runtimeName string
	cmd := &cobra.Command{
		Use:   "images",
		Short: "列出本地镜像",
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := engine.Detect(runtimeName)
			if err != nil {
				log_utils.Error.Fatalf("探测容器运行时失败: %v", err)
			}
			images, err := rt.Images()
			if err != nil {
				log_utils.Error.Fatalf("列出镜像失败: %v", err)
			}
			for _, img := range images {
				log_utils.Info.Println(img)
			}
		},
	}
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", envOr("AB_RUNTIME", ""), "容器运行时（docker或podman，默认自动探测）")
	return cmd
}

// pullPolicyFromEnv 拉取重试策略，环境变量可调
func pullPolicyFromEnv() pull.Policy {
	policy := pull.DefaultPolicy()
	if v, err := strconv.Atoi(os.Getenv("AB_RETRY_MAX")); err == nil && v > 0 {
		policy.MaxAttempts = v
	}
	if d, err := time.ParseDuration(os.Getenv("AB_RETRY_BASE_DELAY")); err == nil && d > 0 {
		policy.BaseDelay = d
	}
	if d, err := time.ParseDuration(os.Getenv("AB_RETRY_MAX_DELAY")); err == nil && d > 0 {
		policy.MaxDelay = d
	}
	return policy
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
