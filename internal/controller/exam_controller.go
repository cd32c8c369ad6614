package controller

import (
	"errors"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ExamController 教师侧的试卷编排入口
type ExamController struct {
	ExamService *service.ExamService
	Storage     *service.StorageService
	Cfg         *config.Config
}

func NewExamController(examService *service.ExamService, storage *service.StorageService, cfg *config.Config) *ExamController {
	return &ExamController{
		ExamService: examService,
		Storage:     storage,
		Cfg:         cfg,
	}
}

func (c *ExamController) respondExamError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrExamNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	default:
		util.LogInternalError(ctx, err)
	}
}

// @Summary 创建试卷
// @Tags 试卷编排
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.ExamReq true "试卷信息"
// @Success 201 {object} util.Response
// @Router /api/teacher/exams [post]
func (c *ExamController) CreateExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.ExamReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	exam, err := c.ExamService.CreateExam(user.UserID, req)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	util.Created(ctx, exam)
}

// @Summary 获取本人试卷列表
// @Tags 试卷编排
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/teacher/exams [get]
func (c *ExamController) ListExams(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	exams, total, err := c.ExamService.ListExams(user.UserID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{List: exams, Total: total, Page: page, Limit: limit})
}

// @Summary 获取试卷详情（含题目与标准答案）
// @Tags 试卷编排
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/exams/{id} [get]
func (c *ExamController) GetExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	exam, qs, err := c.ExamService.GetExam(ctx.Param("id"), user.UserID, user.Role == model.Admin)
	if err != nil {
		c.respondExamError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"exam": exam, "questions": qs})
}

// @Summary 更新试卷
// @Tags 试卷编排
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Param body body service.ExamReq true "试卷信息"
// @Success 200 {object} util.Response
// @Router /api/teacher/exams/{id} [put]
func (c *ExamController) UpdateExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.ExamReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	exam, err := c.ExamService.UpdateExam(ctx.Param("id"), user.UserID, user.Role == model.Admin, req)
	if err != nil {
		c.respondExamError(ctx, err)
		return
	}

	util.Success(ctx, exam)
}

// @Summary 删除试卷（级联删除题目与作答）
// @Tags 试卷编排
// @Produce json
// @Security BearerAuth
// @Param id path string true "试卷ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/exams/{id} [delete]
func (c *ExamController) DeleteExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	id := ctx.Param("id")
	if err := c.ExamService.DeleteExam(id, user.UserID, user.Role == model.Admin); err != nil {
		c.respondExamError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"deleted": id})
}

// @Summary 从 JSON 文件导入试卷
// @Description 整体校验导入文件，任何字段非法都拒绝并列出问题字段
// @Tags 试卷编排
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.QuizImport true "试卷 JSON"
// @Success 201 {object} util.Response
// @Failure 400 {object} util.Response "导入文件非法"
// @Router /api/teacher/exams/import [post]
func (c *ExamController) ImportExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	raw, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	exam, err := c.ExamService.ImportExam(user.UserID, raw)
	if err != nil {
		var verr *service.ImportValidationError
		if errors.As(err, &verr) {
			util.Error(ctx, 400, verr.Error())
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Created(ctx, exam)
}

// @Summary 上传题目配图
// @Tags 试卷编排
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "图片文件"
// @Success 200 {object} util.Response{data=object} "返回图片 URL"
// @Failure 400 {object} util.Response "文件类型不支持或无法解码"
// @Router /api/teacher/exams/images [post]
func (c *ExamController) UploadQuestionImage(ctx *gin.Context) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "缺少文件")
		return
	}

	if !util.IsImage(fileHeader.Header.Get("Content-Type")) {
		util.BadRequest(ctx, "仅支持图片文件")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	compressed, err := util.CompressImage(data, c.Cfg.Exam.ImageBudgetKB)
	if err != nil {
		util.BadRequest(ctx, "无法解码图片")
		return
	}

	url, err := c.Storage.UploadQuestionImage(ctx.Request.Context(), fileHeader.Filename, compressed)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"url": url})
}
