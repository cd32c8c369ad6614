package app

import (
	"exam_portal_backend/docs"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/middleware"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerTeacherRoutes(authGroup, c)
		a.registerAdminRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/me", c.auth.GetMe)
	rg.PUT("/me", c.auth.UpdateMe)

	// 作答流程限学生角色，教师在自己的试卷上开考会污染批改列表
	student := rg.Group("")
	student.Use(middleware.RoleMiddleware(model.Student))
	{
		student.GET("/exams", c.session.ListExams)
		student.GET("/exams/:id", c.session.GetExamDetail)
		student.POST("/exams/:id/start", c.session.StartExam)
		student.GET("/exams/:id/draft", c.session.GetDraft)
		student.PUT("/exams/:id/draft", c.session.SaveDraft)
		student.POST("/exams/:id/submit", c.session.SubmitExam)

		// 成绩
		student.GET("/results", c.session.ListResults)
		student.GET("/results/:id", c.session.GetResult)
	}
}

func (a *App) registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	teacher := rg.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		// 试卷编排
		teacher.POST("/exams", c.exam.CreateExam)
		teacher.GET("/exams", c.exam.ListExams)
		teacher.POST("/exams/import", c.exam.ImportExam)
		teacher.POST("/exams/images", c.exam.UploadQuestionImage)
		teacher.GET("/exams/:id", c.exam.GetExam)
		teacher.PUT("/exams/:id", c.exam.UpdateExam)
		teacher.DELETE("/exams/:id", c.exam.DeleteExam)

		// 批改与监考
		teacher.GET("/exams/:id/submissions", c.grading.ListSubmissions)
		teacher.GET("/exams/:id/monitor", c.grading.MonitorExam)
		teacher.GET("/submissions/:id", c.grading.GetSubmission)
		teacher.PUT("/submissions/:id/grade", c.grading.GradeSubmission)
		teacher.POST("/submissions/:id/reset", c.grading.ResetSubmission)
	}
}

func (a *App) registerAdminRoutes(rg *gin.RouterGroup, c *controllers) {
	admin := rg.Group("/admin")
	admin.Use(middleware.RoleMiddleware(model.Admin))
	{
		admin.GET("/users", c.user.ListUsers)
		admin.GET("/users/:id", c.user.GetUser)
		admin.PUT("/users/:id", c.user.UpdateUser)
		admin.PUT("/users/:id/disabled", c.user.SetDisabled)
		admin.PUT("/users/:id/password", c.user.ResetPassword)
		admin.DELETE("/users/:id", c.user.DeleteUser)
	}
}
