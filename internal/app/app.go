package app

import (
	"context"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/controller"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/service"
	"exam_portal_backend/pkg/database"
	"exam_portal_backend/pkg/logger"
	"exam_portal_backend/pkg/monitoring"
	"exam_portal_backend/pkg/security"
	"exam_portal_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	sweeperStop     chan struct{}
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user       *repository.UserRepository
	exam       *repository.ExamRepository
	submission *repository.SubmissionRepository
}

type services struct {
	auth       *service.AuthService
	user       *service.UserService
	storage    *service.StorageService
	exam       *service.ExamService
	session    *service.SessionService
	grading    *service.GradingService
	drafts     service.DraftStore
	monitorHub *service.MonitorHub
}

type controllers struct {
	auth    *controller.AuthController
	user    *controller.UserController
	exam    *controller.ExamController
	session *controller.SessionController
	grading *controller.GradingController
	health  *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// ApplyConfig 配置文件热更新入口。只替换每次请求时读取的配置段，
// 启动时已固化的部分（端口、数据库、中间件参数）需要重启才生效。
func (a *App) ApplyConfig(newCfg *config.Config) {
	a.Config.Exam = newCfg.Exam
	a.Config.JWT.ExpireTime = newCfg.JWT.ExpireTime

	logger.Log.Info("Config reloaded",
		zap.Int("imageBudgetKB", newCfg.Exam.ImageBudgetKB),
		zap.Int("draftTTLHours", newCfg.Exam.DraftTTLHours))

	for _, cb := range a.configCallbacks {
		cb(newCfg)
	}
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		exam:       repository.NewExamRepository(db, rdb),
		submission: repository.NewSubmissionRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.user = service.NewUserService(repos.user)
	s.exam = service.NewExamService(repos.exam)

	// Redis 关闭时草稿退化为进程内存储（仅适用单实例部署）
	if rdb != nil {
		s.drafts = service.NewRedisDraftStore(rdb)
	} else {
		s.drafts = service.NewMemoryDraftStore()
	}

	s.monitorHub = service.NewMonitorHub(rdb)
	go s.monitorHub.Run()

	s.session = service.NewSessionService(repos.exam, repos.submission, s.storage, s.drafts, s.monitorHub, cfg)
	s.grading = service.NewGradingService(repos.exam, repos.submission, s.drafts, s.monitorHub)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth, s.user),
		user:    controller.NewUserController(s.user),
		exam:    controller.NewExamController(s.exam, s.storage, a.Config),
		session: controller.NewSessionController(s.session),
		grading: controller.NewGradingController(s.grading, s.monitorHub),
		health:  controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	router.Use(security.RateLimiter(maxRequests, window))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 超时收卷清扫器：漏掉在线触发的过期作答由它兜底
func (a *App) startBackgroundTasks(s *services) {
	a.sweeperStop = make(chan struct{})
	interval := time.Duration(a.Config.Exam.SweepSeconds) * time.Second

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.session.ProcessExpiredSessions(context.Background()); err != nil {
					logger.Log.Error("expired session sweep error", zap.Error(err))
				}
			case <-a.sweeperStop:
				return
			}
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
			log.Fatalf("Failed to initialize redis: %v", err)
		}
	} else {
		logger.Log.Warn("Redis disabled, using in-memory draft store")
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("exam-portal", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	app.registerRoutes(router, controllers, repos, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	// debug/release 切换时重建 logger，调低日志级别不用重启
	app.RegisterConfigCallback(func(newCfg *config.Config) {
		if newCfg.Server.Mode != app.Config.Server.Mode {
			app.Config.Server.Mode = newCfg.Server.Mode
			logger.InitLogger(newCfg)
		}
	})

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 停掉清扫器和监考连接
	if a.sweeperStop != nil {
		close(a.sweeperStop)
	}
	if a.services != nil && a.services.monitorHub != nil {
		a.services.monitorHub.Stop()
	}

	// 关闭服务
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
