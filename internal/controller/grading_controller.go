package controller

import (
	"errors"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GradingController 教师批改与监考入口
type GradingController struct {
	GradingService *service.GradingService
	MonitorHub     *service.MonitorHub
}

func NewGradingController(gradingService *service.GradingService, monitorHub *service.MonitorHub) *GradingController {
	return &GradingController{
		GradingService: gradingService,
		MonitorHub:     monitorHub,
	}
}

func (c *GradingController) respondGradingError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrExamNotFound),
		errors.Is(err, util.ErrSubmissionNotFound),
		errors.Is(err, util.ErrAnswerNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrExamNotSubmitted):
		util.Error(ctx, 400, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// @Summary 获取试卷的作答列表
// @Tags 批改
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Param name query string false "学生姓名"
// @Param submitted query bool false "按交卷状态过滤"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/teacher/exams/{id}/submissions [get]
func (c *GradingController) ListSubmissions(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	name := ctx.Query("name")

	var submitted *bool
	if raw := ctx.Query("submitted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			util.BadRequest(ctx, "submitted 参数非法")
			return
		}
		submitted = &v
	}

	rows, total, err := c.GradingService.ListSubmissions(ctx.Param("id"), user.UserID, user.Role == model.Admin,
		page, limit, name, submitted)
	if err != nil {
		c.respondGradingError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: rows, Total: total, Page: page, Limit: limit})
}

// @Summary 获取学生作答详情（批改视图）
// @Tags 批改
// @Produce json
// @Security BearerAuth
// @Param id path string true "提交ID"
// @Success 200 {object} util.Response{data=model.Submission}
// @Router /api/teacher/submissions/{id} [get]
func (c *GradingController) GetSubmission(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	submission, err := c.GradingService.GetSubmission(ctx.Param("id"), user.UserID, user.Role == model.Admin)
	if err != nil {
		c.respondGradingError(ctx, err)
		return
	}
	util.Success(ctx, submission)
}

// @Summary 为解答题给分
// @Description 每题得分钳制在 [0, 满分]，总分在同一事务内重算
// @Tags 批改
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "提交ID"
// @Param body body service.GradeReq true "答案ID到得分的映射"
// @Success 200 {object} util.Response{data=model.Submission}
// @Router /api/teacher/submissions/{id}/grade [put]
func (c *GradingController) GradeSubmission(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.GradeReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	submission, err := c.GradingService.Grade(ctx.Request.Context(), ctx.Param("id"), user.UserID, user.Role == model.Admin, req)
	if err != nil {
		c.respondGradingError(ctx, err)
		return
	}
	util.Success(ctx, submission)
}

// @Summary 重置学生作答（允许重考）
// @Tags 批改
// @Produce json
// @Security BearerAuth
// @Param id path string true "提交ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/submissions/{id}/reset [post]
func (c *GradingController) ResetSubmission(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	id := ctx.Param("id")
	if err := c.GradingService.ResetSubmission(ctx.Request.Context(), id, user.UserID, user.Role == model.Admin); err != nil {
		c.respondGradingError(ctx, err)
		return
	}
	util.Success(ctx, "已重置学生作答")
}

// @Summary 监考 WebSocket
// @Description 订阅某试卷的开考/交卷/批改事件实时推送，token 通过 query 传递
// @Tags 批改
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Router /api/teacher/exams/{id}/monitor [get]
func (c *GradingController) MonitorExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	examID := ctx.Param("id")
	if err := c.GradingService.CheckExamAccess(examID, user.UserID, user.Role == model.Admin); err != nil {
		c.respondGradingError(ctx, err)
		return
	}

	service.ServeMonitorWs(c.MonitorHub, ctx.Writer, ctx.Request, examID, user.UserID)
}
