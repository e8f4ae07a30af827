package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qi_api/internal/domain/payment"
	"qi_api/internal/pkg/config"
	"qi_api/internal/pkg/registry"
	"qi_api/pkg/database"
	"qi_api/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Payment order reconciliation tools",
	Long: `运维对账工具，与 HTTP 服务共用同一套结算逻辑和订单锁：
- sweep: 立即处理一批已过期的 NOTPAY 订单
- order: 查询网关并推进单个订单`,
	SilenceUsage: true,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resolve one batch of expired NOTPAY orders",
	RunE:  runSweep,
}

var orderCmd = &cobra.Command{
	Use:   "order <orderNo>",
	Short: "Reconcile a single order against its gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrder,
}

func init() {
	rootCmd.AddCommand(sweepCmd, orderCmd)
}

func main() {
	// Ctrl+C 取消正在进行的网关调用
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	c, cleanup, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := c.Sweeper.SweepOnce(cmd.Context())
	fmt.Printf("Examined %d expired orders\n", n)
	return err
}

func runOrder(cmd *cobra.Command, args []string) error {
	c, cleanup, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.Engine.ReconcileOrder(cmd.Context(), args[0]); err != nil {
		return err
	}
	order, err := c.Store.GetByOrderNo(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Order %s: %s\n", order.OrderNo, order.Status)
	return nil
}

// setup 连接数据库和 Redis 并组装支付组件，不启动后台任务
func setup(ctx context.Context) (*payment.Components, func(), error) {
	config.LoadConfig()
	cfg := &config.GlobalConfig
	if err := logger.InitLogger(cfg.App.Env, cfg.App.Debug); err != nil {
		return nil, nil, err
	}

	db, err := database.InitDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := database.InitRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}

	c, err := payment.Build(&registry.ModuleContext{Ctx: ctx, Config: cfg, DB: db, Redis: rdb})
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = rdb.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		logger.Sync()
	}
	return c, cleanup, nil
}
