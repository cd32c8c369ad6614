package controller

import (
	"errors"
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// SessionController 学生作答入口
type SessionController struct {
	SessionService *service.SessionService
}

func NewSessionController(sessionService *service.SessionService) *SessionController {
	return &SessionController{SessionService: sessionService}
}

func (c *SessionController) respondSessionError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrExamNotFound),
		errors.Is(err, util.ErrExamNotPublished),
		errors.Is(err, util.ErrSubmissionNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrExamNotYetAvailable),
		errors.Is(err, util.ErrExamNoLongerOpen),
		errors.Is(err, util.ErrExamNotStarted):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrExamAlreadySubmitted):
		util.Conflict(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// @Summary 获取可参加的试卷列表
// @Tags 学生作答
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/exams [get]
func (c *SessionController) ListExams(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	rows, err := c.SessionService.ListAvailableExams(user.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}

// @Summary 获取试卷作答详情
// @Description 返回题目、作答状态和服务端计算的剩余秒数；进行中不返回标准答案
// @Tags 学生作答
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Success 200 {object} util.Response{data=service.StudentExamDetail}
// @Router /api/exams/{id} [get]
func (c *SessionController) GetExamDetail(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	detail, err := c.SessionService.GetExamDetail(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		c.respondSessionError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// @Summary 开始作答
// @Description 幂等：已开始时返回已有作答记录，计时不重置
// @Tags 学生作答
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Success 200 {object} util.Response{data=model.Submission}
// @Failure 400 {object} util.Response "不在开放时间窗口内"
// @Router /api/exams/{id}/start [post]
func (c *SessionController) StartExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	submission, err := c.SessionService.StartExam(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		c.respondSessionError(ctx, err)
		return
	}
	util.Success(ctx, submission)
}

// @Summary 保存作答草稿
// @Description 整体覆盖写入，刷新或换设备后可恢复
// @Tags 学生作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Param body body service.AnswerDraft true "草稿内容"
// @Success 200 {object} util.Response
// @Router /api/exams/{id}/draft [put]
func (c *SessionController) SaveDraft(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var draft service.AnswerDraft
	if err := ctx.ShouldBindJSON(&draft); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.SessionService.SaveDraft(ctx.Request.Context(), user.UserID, ctx.Param("id"), draft); err != nil {
		c.respondSessionError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"saved": true})
}

// @Summary 读取作答草稿
// @Tags 学生作答
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Success 200 {object} util.Response{data=service.AnswerDraft}
// @Router /api/exams/{id}/draft [get]
func (c *SessionController) GetDraft(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	draft, err := c.SessionService.GetDraft(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		c.respondSessionError(ctx, err)
		return
	}
	util.Success(ctx, draft)
}

// @Summary 提交试卷
// @Description 答案为空时按已保存草稿收卷；重复提交返回 409
// @Tags 学生作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Param body body service.SubmitReq true "最终答案"
// @Success 200 {object} util.Response{data=model.Submission}
// @Failure 409 {object} util.Response "已提交过"
// @Router /api/exams/{id}/submit [post]
func (c *SessionController) SubmitExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SubmitReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	submission, err := c.SessionService.SubmitExam(ctx.Request.Context(), user.UserID, ctx.Param("id"), req)
	if err != nil {
		c.respondSessionError(ctx, err)
		return
	}
	util.Success(ctx, submission)
}

// @Summary 获取本人成绩列表
// @Tags 学生作答
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/results [get]
func (c *SessionController) ListResults(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	results, err := c.SessionService.ListResults(user.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, results)
}

// @Summary 获取本人某次作答详情
// @Tags 学生作答
// @Produce json
// @Security BearerAuth
// @Param id path string true "提交ID"
// @Success 200 {object} util.Response{data=model.Submission}
// @Router /api/results/{id} [get]
func (c *SessionController) GetResult(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	submission, err := c.SessionService.GetResult(user.UserID, ctx.Param("id"))
	if err != nil {
		c.respondSessionError(ctx, err)
		return
	}
	util.Success(ctx, submission)
}
