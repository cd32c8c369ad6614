package service

import (
	"context"
	"errors"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

// GradingService 教师批改：作答列表、人工给分、重考重置
type GradingService struct {
	ExamRepo *repository.ExamRepository
	SubRepo  *repository.SubmissionRepository
	Drafts   DraftStore
	Monitor  *MonitorHub
}

func NewGradingService(examRepo *repository.ExamRepository, subRepo *repository.SubmissionRepository,
	drafts DraftStore, monitor *MonitorHub) *GradingService {
	return &GradingService{
		ExamRepo: examRepo,
		SubRepo:  subRepo,
		Drafts:   drafts,
		Monitor:  monitor,
	}
}

func (s *GradingService) checkExamOwner(examID string, teacherID uint, isAdmin bool) (*model.Exam, error) {
	exam, err := s.ExamRepo.FindByID(examID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrExamNotFound
	}
	if err != nil {
		return nil, err
	}
	if !isAdmin && exam.TeacherID != teacherID {
		return nil, util.ErrPermissionDenied
	}
	return exam, nil
}

// CheckExamAccess 监考/批改前的权限确认
func (s *GradingService) CheckExamAccess(examID string, teacherID uint, isAdmin bool) error {
	_, err := s.checkExamOwner(examID, teacherID, isAdmin)
	return err
}

// ListSubmissions 某试卷的作答列表，可按学生姓名与交卷状态筛选
func (s *GradingService) ListSubmissions(examID string, teacherID uint, isAdmin bool,
	page, limit int, studentName string, submitted *bool) ([]repository.SubmissionListRow, int64, error) {
	if _, err := s.checkExamOwner(examID, teacherID, isAdmin); err != nil {
		return nil, 0, err
	}
	return s.SubRepo.ListByExam(examID, page, limit, studentName, submitted)
}

func (s *GradingService) findOwnedSubmission(submissionID string, teacherID uint, isAdmin bool) (*model.Submission, error) {
	submission, err := s.SubRepo.FindByID(submissionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.checkExamOwner(submission.ExamID, teacherID, isAdmin); err != nil {
		return nil, err
	}
	return submission, nil
}

// GetSubmission 批改视图：带题目和学生答案的完整作答
func (s *GradingService) GetSubmission(submissionID string, teacherID uint, isAdmin bool) (*model.Submission, error) {
	return s.findOwnedSubmission(submissionID, teacherID, isAdmin)
}

type GradeReq struct {
	// answerID -> 给分
	Marks map[string]int `json:"marks" binding:"required"`
}

// Grade 为解答题人工给分。每题得分钳制在 [0, 题目满分]，
// 全部更新与 total_marks 重算在同一事务内完成。
func (s *GradingService) Grade(ctx context.Context, submissionID string, teacherID uint, isAdmin bool, req GradeReq) (*model.Submission, error) {
	submission, err := s.findOwnedSubmission(submissionID, teacherID, isAdmin)
	if err != nil {
		return nil, err
	}
	if !submission.IsSubmitted {
		return nil, util.ErrExamNotSubmitted
	}

	answerMap := make(map[string]*model.Answer, len(submission.Answers))
	for i := range submission.Answers {
		answerMap[submission.Answers[i].ID] = &submission.Answers[i]
	}

	clamped := make(map[string]int, len(req.Marks))
	for answerID, m := range req.Marks {
		answer, ok := answerMap[answerID]
		if !ok {
			return nil, util.ErrAnswerNotFound
		}
		// 选择题交卷时已按标准答案自动判分，人工给分只落在解答题上
		if answer.Question != nil && answer.Question.Type == model.QuestionMCQ {
			continue
		}
		max := 0
		if answer.Question != nil {
			max = answer.Question.Marks
		}
		clamped[answerID] = util.ClampInt(m, 0, max)
	}

	if err := s.SubRepo.SaveGrades(submissionID, clamped); err != nil {
		return nil, err
	}

	updated, err := s.SubRepo.FindByID(submissionID)
	if err != nil {
		return nil, err
	}

	if s.Monitor != nil {
		s.Monitor.Publish(ctx, ExamEvent{
			Type:         EventGraded,
			ExamID:       updated.ExamID,
			SubmissionID: updated.ID,
			StudentID:    updated.StudentID,
			TotalMarks:   updated.TotalMarks,
			At:           time.Now(),
		})
	}

	return updated, nil
}

// ResetSubmission 清除某学生的作答让其重考。唯一索引挡住软删除残留，
// 这里是物理删除，草稿一并清掉。
func (s *GradingService) ResetSubmission(ctx context.Context, submissionID string, teacherID uint, isAdmin bool) error {
	submission, err := s.findOwnedSubmission(submissionID, teacherID, isAdmin)
	if err != nil {
		return err
	}

	if err := s.SubRepo.Delete(submission.ID); err != nil {
		return err
	}
	return s.Drafts.Delete(ctx, submission.ID)
}
