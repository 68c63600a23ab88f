package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"integration-console/internal/config"
	"integration-console/internal/handler"
	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/internal/pkg/logger"
	"integration-console/internal/pkg/utils"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "integration-console",
	Short:         "集成管理控制台后端",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "配置文件路径")

	initAdminCmd.Flags().String("email", "admin@example.com", "管理员邮箱")
	initAdminCmd.Flags().String("password", "", "管理员密码（为空时随机生成）")
	initAdminCmd.Flags().String("name", "管理员", "显示名称")

	rootCmd.AddCommand(serveCmd, migrateCmd, initAdminCmd, purgeDeletionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

// bootstrap 加载配置、初始化日志并打开数据库（带迁移）
func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if _, err := logger.Init(cfg); err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	if err := model.InitDB(&cfg.Database); err != nil {
		return nil, nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	zap.L().Info("数据库连接成功", zap.String("driver", cfg.Database.Driver))

	if err := model.AutoMigrate(model.DB); err != nil {
		return nil, nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return cfg, model.DB, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "执行数据库迁移后退出",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, _, err := bootstrap(); err != nil {
			return err
		}
		zap.L().Info("数据库迁移完成")
		return nil
	},
}

var initAdminCmd = &cobra.Command{
	Use:   "init-admin",
	Short: "创建初始管理员账号",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := bootstrap()
		if err != nil {
			return err
		}
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")

		generated := password == ""
		if generated {
			password = "A1" + utils.GenerateRandomString(14)
		}

		accounts, ips := service.NewLoginLimiters(&cfg.Security)
		users := service.NewUserService(db, accounts, ips, cfg)
		admin, err := users.CreateAdmin(cmd.Context(), email, password, name)
		if err != nil {
			return fmt.Errorf("创建管理员失败: %w", err)
		}

		fmt.Println("管理员账号创建成功!")
		fmt.Println("邮箱:", admin.Email)
		if generated {
			fmt.Println("密码:", password)
			fmt.Println("【重要提示】请登录后立即修改密码！")
		}
		return nil
	},
}

var purgeDeletionsCmd = &cobra.Command{
	Use:   "purge-deletions",
	Short: "立即执行所有到期的删除申请",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := bootstrap()
		if err != nil {
			return err
		}
		gdpr := service.NewGDPRService(db, service.NewEmailService(service.NewSender(&cfg.Email), cfg.Server.ConsoleURL), nil, cfg.GDPR.GraceDays)
		n, err := gdpr.PurgeDue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("已执行 %d 条删除申请\n", n)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer zap.L().Sync() //nolint:errcheck

		if cfg.Server.Mode == "release" {
			gin.SetMode(gin.ReleaseMode)
		}
		return serve(cfg, db)
	},
}

// stateStore 配置了 Redis 时使用 Redis，否则退回内存存储（仅适合单实例）
func stateStore(ctx context.Context, cfg *config.Config) (service.StateStore, func()) {
	if !cfg.Redis.Enabled {
		zap.L().Warn("未启用 Redis，OAuth state 保存在内存中，仅适合单实例部署")
		return service.NewMemoryStateStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zap.L().Warn("Redis 不可用，退回内存存储", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		_ = client.Close()
		return service.NewMemoryStateStore(), func() {}
	}
	zap.L().Info("OAuth state 使用 Redis 存储", zap.String("addr", cfg.Redis.Addr()))
	return service.NewRedisStateStore(client), func() { _ = client.Close() }
}

func serve(cfg *config.Config, db *gorm.DB) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vault, err := crypto.NewVault(cfg.Vault.MasterKey)
	if err != nil {
		return fmt.Errorf("初始化凭证加密失败: %w", err)
	}
	states, closeStates := stateStore(ctx, cfg)
	defer closeStates()

	metrics := service.NewMetrics()
	accounts, ips := service.NewLoginLimiters(&cfg.Security)
	email := service.NewEmailService(service.NewSender(&cfg.Email), cfg.Server.ConsoleURL)
	httpClient := resty.New().SetTimeout(time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second)

	oauth := service.NewOAuthService(db, vault, states, metrics, cfg)
	if err := oauth.SeedApps(ctx, cfg.Integrations); err != nil {
		return fmt.Errorf("初始化集成应用失败: %w", err)
	}
	keys := service.NewApiKeyService(db, metrics)
	hooks := service.NewWebhookService(db, keys, metrics, httpClient, cfg)
	health := service.NewHealthService(db, metrics, cfg.Health.WindowHours)
	gdpr := service.NewGDPRService(db, email, hooks, cfg.GDPR.GraceDays)
	invites := service.NewInviteService(db, email, cfg.Security.PasswordMinLength)

	services := &handler.Services{
		DB:          db,
		Metrics:     metrics,
		Users:       service.NewUserService(db, accounts, ips, cfg),
		OAuth:       oauth,
		Connections: service.NewConnectionService(db, oauth, httpClient),
		ApiKeys:     keys,
		Webhooks:    hooks,
		Diagnostics: service.NewDiagnosticsService(db, keys, metrics),
		Health:      health,
		Invites:     invites,
		GDPR:        gdpr,
		Analyses:    service.NewAnalysisService(db, hooks),
	}

	scheduler := service.NewSchedulerService(service.SchedulerDeps{
		Health:        health,
		GDPR:          gdpr,
		Invites:       invites,
		Webhooks:      hooks,
		Limiters:      []*service.LoginLimiter{accounts, ips},
		PollInterval:  cfg.Health.Interval(),
		RetentionDays: cfg.Webhook.RetentionDays,
	})
	if err := scheduler.Register(); err != nil {
		return fmt.Errorf("注册定时任务失败: %w", err)
	}
	scheduler.Start()

	r := gin.New()
	handler.SetupRouter(r, cfg, services)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("服务器启动", zap.String("addr", srv.Addr), zap.Bool("tls", cfg.Server.TLS.Enabled))
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
	case <-ctx.Done():
	}

	zap.L().Info("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("关闭 HTTP 服务失败", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	if err := hooks.Wait(shutdownCtx); err != nil {
		zap.L().Warn("仍有 Webhook 投递未完成", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	zap.L().Info("服务器已关闭")
	return nil
}
