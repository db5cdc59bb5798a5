package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCommand はtabkeepのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newServeCmd(w)

	root := &cobra.Command{
		Use:   "tabkeep",
		Short: "Google OAuthログインとユーザーごとのタブ保存を提供するAPIサーバー",
		Long: `tabkeep はGoogleアカウントでログインしたユーザーごとに
上限付きのタブ（タイトルと本文）を保存するHTTP APIサーバーです。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	root.SetOut(w)
	root.SetErr(w)
	root.AddCommand(
		serve,
		newMigrateCmd(w),
		newCleanupCmd(w),
		newHealthcheckCmd(),
	)
	return root
}

func newServeCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newMigrateCmd(w io.Writer) *cobra.Command {
	var rollback int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "未適用のデータベースマイグレーションを適用する",
		Long: `埋め込みのSQLマイグレーションを適用する。
--rollback を指定した場合は、適用済みのマイグレーションを指定件数だけ巻き戻す。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			if rollback > 0 {
				return runRollback(cfg, rollback)
			}
			return runMigrate(cfg)
		},
	}

	cmd.Flags().IntVar(&rollback, "rollback", 0, "巻き戻すマイグレーションの件数")
	return cmd
}

func newCleanupCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "期限切れのセッションを削除する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runCleanup(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

// newHealthcheckCmd は軽量サブコマンドのため、設定の読み込みをスキップする。
func newHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "稼働中のサーバーの/healthを確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(cmd.Context(), port)
		},
	}
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
