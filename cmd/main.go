// 交易历史服务主程序
// 负责加载配置，初始化存储、代币解析、适配器注册表和协调器
// 通过HTTP暴露会话和交易历史查询接口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swapr-dapp/trades-service/internal/adapters"
	"swapr-dapp/trades-service/internal/handlers"
	"swapr-dapp/trades-service/internal/middleware"
	"swapr-dapp/trades-service/internal/repository"
	"swapr-dapp/trades-service/internal/services"
	"swapr-dapp/trades-service/internal/store"
	"swapr-dapp/trades-service/internal/tokens"
	"swapr-dapp/trades-service/internal/types"
	"swapr-dapp/trades-service/pkg/cache"
	"swapr-dapp/trades-service/pkg/config"
	"swapr-dapp/trades-service/pkg/database"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Application 交易历史应用程序
type Application struct {
	Config      *types.Config           // 应用配置
	Cache       cache.CacheManager      // 存储后端
	Database    *database.Database      // 数据库连接(可选)
	Coordinator *services.TradesAdapter // 适配器协调器
	Session     *services.Session       // 用户会话
	Handler     *handlers.TradesHandler // HTTP处理器
	Server      *http.Server            // HTTP服务器
	Logger      *logrus.Logger          // 日志记录器
}

// main 主函数
func main() {
	app, err := NewApplication()
	if err != nil {
		logrus.Fatalf("创建交易历史应用失败: %v", err)
	}

	if err := app.Run(); err != nil {
		logrus.Fatalf("运行交易历史应用失败: %v", err)
	}
}

// NewApplication 创建交易历史应用实例
func NewApplication() (*Application, error) {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志记录器
	logger := initLogger(cfg)
	logger.Infof("启动交易历史服务 - 环境: %s", cfg.Server.Environment)

	// 3. 初始化存储后端
	cacheManager, err := initCache(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("存储后端初始化失败: %w", err)
	}
	historyStore := store.NewStore(cacheManager, cfg.Store.TTL, logger)

	// 4. 可选数据库：代币表和适配器配置
	var db *database.Database
	var resolvers []tokens.Resolver
	if cfg.Database.Enabled {
		logger.Info("初始化数据库连接...")
		db, err = database.New(&cfg.Database, logger)
		if err != nil {
			cacheManager.Close()
			return nil, fmt.Errorf("数据库初始化失败: %w", err)
		}

		models := append([]interface{}{&repository.Token{}}, config.Models()...)
		if err := db.AutoMigrate(models...); err != nil {
			db.Close()
			cacheManager.Close()
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}

		config.ApplyDatabaseAdapters(cfg, db, logger)
		resolvers = append(resolvers, tokens.NewRepositoryResolver(repository.NewTokenRepository(db.DB)))
	}

	// 5. 静态代币列表
	staticResolver, err := tokens.LoadStaticResolver(cfg.Tokens.ListPath)
	if err != nil {
		logger.Warnf("加载静态代币列表失败: %v", err)
	} else {
		logger.Infof("已加载静态代币列表: %d 个代币", staticResolver.Len())
		resolvers = append(resolvers, staticResolver)
	}
	if len(resolvers) == 0 {
		closeAll(cacheManager, db)
		return nil, fmt.Errorf("没有可用的代币数据源")
	}
	resolver := tokens.NewChainResolver(logger, resolvers...)

	// 6. 适配器注册表和协调器
	logger.Info("初始化交易历史适配器...")
	registry, err := adapters.BuildRegistry(cfg.Adapters, logger)
	if err != nil {
		closeAll(cacheManager, db)
		return nil, fmt.Errorf("适配器注册表初始化失败: %w", err)
	}

	coordinator, err := services.NewTradesAdapter(services.TradesAdapterParams{
		Registry: registry,
		ChainID:  cfg.Session.DefaultChainID,
		Store:    historyStore,
		Logger:   logger,
	})
	if err != nil {
		closeAll(cacheManager, db)
		return nil, fmt.Errorf("协调器初始化失败: %w", err)
	}

	session := services.NewSession(coordinator, resolver, logger)
	if err := session.SetActiveChain(context.Background(), cfg.Session.DefaultChainID); err != nil {
		coordinator.Close()
		closeAll(cacheManager, db)
		return nil, fmt.Errorf("设置默认链失败: %w", err)
	}

	// 7. 初始化HTTP处理器
	handler := handlers.NewTradesHandler(session, coordinator, historyStore, resolver, logger)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := setupRouter(cfg, handler, logger)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return &Application{
		Config:      cfg,
		Cache:       cacheManager,
		Database:    db,
		Coordinator: coordinator,
		Session:     session,
		Handler:     handler,
		Server:      server,
		Logger:      logger,
	}, nil
}

// Run 启动应用程序
func (app *Application) Run() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		app.Logger.Infof("交易历史服务启动，监听端口: %s", app.Server.Addr)
		app.Logger.Info("API接口:")
		app.Logger.Info("  会话状态: GET  /api/v1/session")
		app.Logger.Info("  切换链:   PUT  /api/v1/session/chain")
		app.Logger.Info("  选择币种: PUT  /api/v1/session/currencies")
		app.Logger.Info("  交易历史: GET  /api/v1/trades")
		app.Logger.Info("  代币列表: GET  /api/v1/tokens")
		app.Logger.Infof("  健康检查: GET  %s", app.Config.Monitoring.HealthCheckPath)

		if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatalf("HTTP服务器启动失败: %v", err)
		}
	}()

	<-quit
	app.Logger.Info("接收到关闭信号，开始优雅关闭...")

	return app.Shutdown()
}

// Shutdown 优雅关闭应用程序
// 先停止接收请求，再取消进行中的抓取，最后关闭存储
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.Logger.Info("正在关闭HTTP服务器...")
	if err := app.Server.Shutdown(ctx); err != nil {
		app.Logger.Errorf("HTTP服务器关闭失败: %v", err)
		return err
	}

	app.Logger.Info("正在停止交易历史抓取...")
	app.Coordinator.Close()

	app.Logger.Info("正在关闭存储连接...")
	if err := app.Cache.Close(); err != nil {
		app.Logger.Errorf("存储关闭失败: %v", err)
		return err
	}

	if app.Database != nil {
		if err := app.Database.Close(); err != nil {
			app.Logger.Errorf("数据库关闭失败: %v", err)
			return err
		}
	}

	app.Logger.Info("交易历史服务已优雅关闭")
	return nil
}

// initLogger 初始化日志记录器
func initLogger(cfg *types.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Server.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	return logger
}

// initCache 按配置选择存储后端
func initCache(cfg *types.Config, logger *logrus.Logger) (cache.CacheManager, error) {
	switch cfg.Store.Backend {
	case types.StoreBackendMemory:
		logger.Info("使用内存存储后端")
		return cache.NewMemoryCache(), nil
	default:
		logger.Info("初始化Redis存储后端...")
		return cache.NewRedisCache(&cfg.Redis, cfg.Store.PrefixKey, logger)
	}
}

func closeAll(cacheManager cache.CacheManager, db *database.Database) {
	cacheManager.Close()
	if db != nil {
		db.Close()
	}
}

// setupRouter 设置HTTP路由器
func setupRouter(cfg *types.Config, handler *handlers.TradesHandler, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Security())
	router.Use(middleware.NewRateLimiter(&cfg.RateLimit, logger).RateLimit())

	handler.RegisterRoutes(router, cfg.Monitoring)

	// 404处理
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    types.ErrCodeNotFound,
				Message: "请求的资源不存在",
			},
			Timestamp: time.Now().Unix(),
			RequestID: c.GetString(types.ContextKeyRequestID),
		})
	})

	return router
}
