package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"airgap-bundler/archive"

	"github.com/spf13/cobra"
)

//
// @Author yfy2001
// @Date 2026/2/6 09 30
//

func main() {
	// 异常退出时清理残留的临时归档
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		archive.Cleanup()
		os.Exit(1)
	}()

	rootCmd := &cobra.Command{
		Use:   "ab <command>",
		Short: "离线环境镜像捆绑工具，打包容器镜像用于无网络环境部署.\nAuthor:Yui",
		Run: func(cmd *cobra.Command, args []string) {
			err := cmd.Help()
			if err != nil {
				return
			}
		},
	}

	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newLoadCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newPullCommand())
	rootCmd.AddCommand(newImagesCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		archive.Cleanup()
		os.Exit(1)
	}
}
