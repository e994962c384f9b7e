// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

type cliOptions struct {
	configPath string
	clientID   string
	gatewayURL string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func defaultClientID() string {
	if id := os.Getenv("BRIDGE_CLIENT_ID"); id != "" {
		return id
	}
	host, _ := os.Hostname()
	return "cli-" + host
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:          "bridge",
		Short:        "agent runtime 对话桥命令行",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径，默认 configs/api.yaml 或 BRIDGE_CONFIG")
	root.PersistentFlags().StringVar(&opts.clientID, "client-id", defaultClientID(), "客户端身份，决定复用哪个 session")
	root.PersistentFlags().StringVar(&opts.gatewayURL, "gateway", os.Getenv("BRIDGE_GATEWAY_URL"), "经由网关访问，如 http://localhost:8080；为空时进程内直连 runtime")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "显示版本",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "agent-bridge cli %s\n", version)
			},
		},
		newConfigCmd(opts),
		newHealthCmd(opts),
		newAppsCmd(opts),
		newChatCmd(opts),
		newSessionCmd(opts),
	)
	return root
}

// withBackend 打开 backend，执行 fn 后释放
func withBackend(cmd *cobra.Command, opts *cliOptions, fn func(b backend) error) error {
	var b backend
	if opts.gatewayURL != "" {
		b = newGatewayBackend(opts.gatewayURL, opts.clientID)
	} else {
		lb, err := newLocalBackend(cmd.Context(), opts)
		if err != nil {
			return err
		}
		b = lb
	}
	defer b.Close()
	return fn(b)
}

func newConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "显示配置概要",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "api.port=%d\n", cfg.API.Port)
			fmt.Fprintf(out, "runtime.base_url=%s\n", cfg.Runtime.BaseURL)
			fmt.Fprintf(out, "runtime.app_name=%s\n", cfg.Runtime.AppName)
			fmt.Fprintf(out, "runtime.timeout=%s\n", cfg.Runtime.Timeout)
			fmt.Fprintf(out, "runtime.stream_timeout=%s\n", cfg.Runtime.StreamTimeout)
			fmt.Fprintf(out, "runtime.retry_count=%d\n", cfg.Runtime.RetryCount)
			fmt.Fprintf(out, "session.ttl=%s\n", cfg.Session.TTL)
			fmt.Fprintf(out, "session.store.type=%s\n", cfg.Session.Store.Type)
			return nil
		},
	}
}

func newHealthCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "探测 runtime（或网关）是否可用",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				if err := b.HealthCheck(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func newAppsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "列出 runtime 上可用的 app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				apps, err := b.ListApps(cmd.Context())
				if err != nil {
					return err
				}
				for _, a := range apps {
					fmt.Fprintln(cmd.OutOrStdout(), a)
				}
				return nil
			})
		},
	}
}

func newSessionCmd(opts *cliOptions) *cobra.Command {
	session := &cobra.Command{
		Use:   "session",
		Short: "session 管理",
	}
	session.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "丢弃当前客户端身份缓存的 session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				if err := b.ClearSession(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
				return nil
			})
		},
	})
	return session
}

func newChatCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "交互式对话；输入 /clear 重置会话，exit 退出",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(b backend) error {
				return runChat(cmd.Context(), b, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

// runChat 逐行读取输入并流式打印回复；单轮失败只打印提示，不退出
func runChat(ctx context.Context, b backend, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		msg := strings.TrimSpace(line)
		if msg == "exit" || msg == "quit" {
			return nil
		}
		switch {
		case msg == "":
		case msg == "/clear":
			if cerr := b.ClearSession(ctx); cerr != nil {
				fmt.Fprintf(out, "清除失败: %v\n", cerr)
			} else {
				fmt.Fprintln(out, "(会话已重置)")
			}
		default:
			serr := b.Send(ctx, msg, func(delta string) {
				fmt.Fprint(out, delta)
			})
			fmt.Fprintln(out)
			if serr != nil {
				fmt.Fprintf(out, "[错误] %v\n", serr)
			}
		}
		if err != nil || ctx.Err() != nil {
			return nil
		}
	}
}
