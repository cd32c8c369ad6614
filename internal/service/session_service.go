package service

import (
	"context"
	"errors"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"
	"exam_portal_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 交卷触发方式，用于监控指标
const (
	SubmitTriggerManual  = "manual"
	SubmitTriggerTimeout = "timeout"
	SubmitTriggerSweeper = "sweeper"
)

// SessionService 学生作答流程：开考建档、草稿读写、判分交卷、超时收卷。
// 状态机 Overview -> InProgress -> Submitting -> Submitted 的服务端形态：
// 无作答记录即 Overview，is_submitted=false 即 InProgress，Finalize 的
// 单向翻转完成 Submitting -> Submitted。
type SessionService struct {
	ExamRepo *repository.ExamRepository
	SubRepo  *repository.SubmissionRepository
	Storage  *StorageService
	Drafts   DraftStore
	Monitor  *MonitorHub
	Cfg      *config.Config
}

func NewSessionService(examRepo *repository.ExamRepository, subRepo *repository.SubmissionRepository,
	storage *StorageService, drafts DraftStore, monitor *MonitorHub, cfg *config.Config) *SessionService {
	return &SessionService{
		ExamRepo: examRepo,
		SubRepo:  subRepo,
		Storage:  storage,
		Drafts:   drafts,
		Monitor:  monitor,
		Cfg:      cfg,
	}
}

type StudentExamRow struct {
	Exam        model.Exam `json:"exam"`
	Status      string     `json:"status"` // pending, in_progress, completed
	TotalMarks  *int       `json:"totalMarks,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

// ListAvailableExams 已发布试卷及本人作答状态
func (s *SessionService) ListAvailableExams(studentID uint) ([]StudentExamRow, error) {
	exams, err := s.ExamRepo.ListPublished()
	if err != nil {
		return nil, err
	}

	rows := make([]StudentExamRow, 0, len(exams))
	for _, exam := range exams {
		row := StudentExamRow{Exam: exam, Status: "pending"}
		sub, err := s.SubRepo.FindByExamAndStudent(exam.ID, studentID)
		if err == nil {
			if sub.IsSubmitted {
				row.Status = "completed"
				row.TotalMarks = &sub.TotalMarks
				row.SubmittedAt = sub.SubmittedAt
			} else {
				row.Status = "in_progress"
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *SessionService) loadPublishedExam(examID string) (*model.Exam, error) {
	exam, err := s.ExamRepo.FindByID(examID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrExamNotFound
	}
	if err != nil {
		return nil, err
	}
	if !exam.IsPublished {
		return nil, util.ErrExamNotPublished
	}
	return exam, nil
}

// StartExam 创建作答记录，started_at 即计时起点。
// 重复调用幂等返回已有记录；(exam_id, student_id) 唯一索引兜底并发开考。
func (s *SessionService) StartExam(ctx context.Context, studentID uint, examID string) (*model.Submission, error) {
	exam, err := s.loadPublishedExam(examID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if exam.StartsAt != nil && now.Before(*exam.StartsAt) {
		return nil, util.ErrExamNotYetAvailable
	}
	if exam.EndsAt != nil && now.After(*exam.EndsAt) {
		return nil, util.ErrExamNoLongerOpen
	}

	if existing, err := s.SubRepo.FindByExamAndStudent(examID, studentID); err == nil {
		return existing, nil
	}

	submission, created, err := s.createSubmission(examID, studentID, now)
	if err != nil {
		return nil, err
	}
	if !created {
		return submission, nil
	}

	if s.Monitor != nil {
		s.Monitor.Publish(ctx, ExamEvent{
			Type:         EventStarted,
			ExamID:       examID,
			SubmissionID: submission.ID,
			StudentID:    studentID,
			At:           now,
		})
	}

	return submission, nil
}

// createSubmission 插入作答记录。并发开考时前面的存在性检查可能同时落空，
// 落败方撞上 (exam_id, student_id) 唯一索引后回读胜出方的记录，保持幂等。
func (s *SessionService) createSubmission(examID string, studentID uint, now time.Time) (*model.Submission, bool, error) {
	submission := &model.Submission{
		ExamID:    examID,
		StudentID: studentID,
		StartedAt: now,
	}
	if err := s.SubRepo.Create(submission); err != nil {
		if existing, findErr := s.SubRepo.FindByExamAndStudent(examID, studentID); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return submission, true, nil
}

type StudentQuestion struct {
	ID       string             `json:"id"`
	Order    int                `json:"order"`
	Type     model.QuestionType `json:"type"`
	Text     string             `json:"text"`
	ImageURL string             `json:"imageUrl,omitempty"`
	Options  []string           `json:"options,omitempty"`
	Marks    int                `json:"marks"`
	// status == completed 时返回
	CorrectAnswer  *string `json:"correctAnswer,omitempty"`
	Solution       *string `json:"solution,omitempty"`
	AnswerText     *string `json:"answerText,omitempty"`
	AnswerImageURL *string `json:"answerImageUrl,omitempty"`
	IsCorrect      *bool   `json:"isCorrect,omitempty"`
	MarksObtained  *int    `json:"marksObtained,omitempty"`
}

type StudentExamDetail struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Duration      int               `json:"duration"`
	QuestionCount int               `json:"questionCount"`
	Status        string            `json:"status"` // pending, in_progress, completed
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	RemainingTime int               `json:"remainingTime"` // 剩余秒数，服务端权威
	TotalMarks    *int              `json:"totalMarks,omitempty"`
	Questions     []StudentQuestion `json:"questions"`
}

// RemainingSeconds 剩余秒数 = max(0, 总限时 - 已经过时间)
func RemainingSeconds(startedAt time.Time, durationMinutes int, now time.Time) int {
	remaining := durationMinutes*60 - int(now.Sub(startedAt).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetExamDetail 学生视角的试卷详情。进行中隐藏标准答案与解析；
// 已过期的进行中记录在读取时立即从草稿收卷（过期会话的"到点即交"），
// 不等清扫器。
func (s *SessionService) GetExamDetail(ctx context.Context, studentID uint, examID string) (*StudentExamDetail, error) {
	exam, err := s.loadPublishedExam(examID)
	if err != nil {
		return nil, err
	}

	qs, err := s.ExamRepo.ListQuestions(examID)
	if err != nil {
		return nil, err
	}

	submission, subErr := s.SubRepo.FindByExamAndStudent(examID, studentID)
	if subErr != nil && !errors.Is(subErr, gorm.ErrRecordNotFound) {
		return nil, subErr
	}

	status := "pending"
	var startedAt *time.Time
	remaining := exam.Duration * 60

	if subErr == nil {
		startedAt = &submission.StartedAt
		if submission.IsSubmitted {
			status = "completed"
			remaining = 0
		} else {
			status = "in_progress"
			remaining = RemainingSeconds(submission.StartedAt, exam.Duration, time.Now())
			if remaining == 0 {
				if err := s.submitFromDraft(ctx, submission, exam, SubmitTriggerTimeout); err != nil && !errors.Is(err, util.ErrExamAlreadySubmitted) {
					return nil, err
				}
				if submission, err = s.SubRepo.FindByExamAndStudent(examID, studentID); err != nil {
					return nil, err
				}
				status = "completed"
			}
		}
	}

	var ansMap map[string]model.Answer
	if status == "completed" {
		answers, err := s.SubRepo.ListAnswers(submission.ID)
		if err != nil {
			return nil, err
		}
		ansMap = make(map[string]model.Answer, len(answers))
		for _, a := range answers {
			ansMap[a.QuestionID] = a
		}
	}

	studentQs := make([]StudentQuestion, len(qs))
	for i, q := range qs {
		sq := StudentQuestion{
			ID:       q.ID,
			Order:    q.Order,
			Type:     q.Type,
			Text:     q.Text,
			ImageURL: q.ImageURL,
			Options:  q.OptionList(),
			Marks:    q.Marks,
		}

		if status == "completed" {
			correct := q.CorrectAnswer
			solution := q.Solution
			sq.CorrectAnswer = &correct
			sq.Solution = &solution
			if a, ok := ansMap[q.ID]; ok {
				text := a.AnswerText
				img := a.AnswerImageURL
				marks := a.MarksObtained
				sq.AnswerText = &text
				sq.AnswerImageURL = &img
				sq.MarksObtained = &marks
				sq.IsCorrect = a.IsCorrect
			}
		}
		studentQs[i] = sq
	}

	detail := &StudentExamDetail{
		ID:            exam.ID,
		Title:         exam.Title,
		Description:   exam.Description,
		Duration:      exam.Duration,
		QuestionCount: len(qs),
		Status:        status,
		StartedAt:     startedAt,
		RemainingTime: remaining,
		Questions:     studentQs,
	}
	if status == "completed" && submission != nil {
		total := submission.TotalMarks
		detail.TotalMarks = &total
	}

	return detail, nil
}

func (s *SessionService) draftTTL(exam *model.Exam) time.Duration {
	return time.Duration(exam.Duration)*time.Minute +
		time.Duration(s.Cfg.Exam.DraftTTLHours)*time.Hour
}

func (s *SessionService) findInProgress(examID string, studentID uint) (*model.Submission, *model.Exam, error) {
	exam, err := s.loadPublishedExam(examID)
	if err != nil {
		return nil, nil, err
	}
	submission, err := s.SubRepo.FindByExamAndStudent(examID, studentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, util.ErrExamNotStarted
	}
	if err != nil {
		return nil, nil, err
	}
	if submission.IsSubmitted {
		return nil, nil, util.ErrExamAlreadySubmitted
	}
	return submission, exam, nil
}

// SaveDraft 写穿草稿缓存，答案以 questionID 为键
func (s *SessionService) SaveDraft(ctx context.Context, studentID uint, examID string, draft AnswerDraft) error {
	submission, exam, err := s.findInProgress(examID, studentID)
	if err != nil {
		return err
	}
	return s.Drafts.Set(ctx, submission.ID, draft, s.draftTTL(exam))
}

// GetDraft 读回草稿，页面刷新后恢复作答现场
func (s *SessionService) GetDraft(ctx context.Context, studentID uint, examID string) (AnswerDraft, error) {
	submission, _, err := s.findInProgress(examID, studentID)
	if err != nil {
		return nil, err
	}
	return s.Drafts.Get(ctx, submission.ID)
}

type SubmitReq struct {
	Answers   AnswerDraft `json:"answers"`
	IsTimeout bool        `json:"isTimeout"`
}

// SubmitExam 手动交卷。Answers 为空时回落到草稿（计时器触发的交卷
// 用的就是当前已记录的草稿）。
func (s *SessionService) SubmitExam(ctx context.Context, studentID uint, examID string, req SubmitReq) (*model.Submission, error) {
	submission, exam, err := s.findInProgress(examID, studentID)
	if err != nil {
		return nil, err
	}

	answers := req.Answers
	if answers == nil {
		if answers, err = s.Drafts.Get(ctx, submission.ID); err != nil {
			return nil, err
		}
	}

	trigger := SubmitTriggerManual
	if req.IsTimeout {
		trigger = SubmitTriggerTimeout
	}

	if err := s.finalize(ctx, submission, exam, answers, req.IsTimeout, trigger); err != nil {
		return nil, err
	}
	return s.SubRepo.FindByID(submission.ID)
}

// gradeMCQ 判分：与标准答案全等才得分，不做任何大小写或空白归一化
func gradeMCQ(q *model.Question, answerText string) (isCorrect *bool, marks int) {
	if answerText == "" {
		return nil, 0
	}
	correct := answerText == q.CorrectAnswer
	if correct {
		marks = q.Marks
	}
	return &correct, marks
}

// finalize 判分并收卷。先完成全部图片压缩与上传，再在一个事务里
// 整批 upsert 答案并翻转 is_submitted；任何一步失败草稿都原样保留，
// 交卷可以无损重试。
func (s *SessionService) finalize(ctx context.Context, submission *model.Submission, exam *model.Exam,
	answers AnswerDraft, isTimeout bool, trigger string) error {

	qs, err := s.ExamRepo.ListQuestions(exam.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	if now.After(submission.Deadline(exam.Duration)) {
		isTimeout = true
	}

	totalMarks := 0
	records := make([]model.Answer, 0, len(qs))

	for i := range qs {
		q := &qs[i]
		entry := answers[q.ID]

		record := model.Answer{
			SubmissionID: submission.ID,
			QuestionID:   q.ID,
			AnswerText:   entry.Text,
		}

		if q.Type == model.QuestionMCQ {
			record.IsCorrect, record.MarksObtained = gradeMCQ(q, entry.Text)
			totalMarks += record.MarksObtained
		} else if entry.Image != "" {
			raw, err := util.DecodeDataURL(entry.Image)
			if err != nil {
				return err
			}
			compressed, err := util.CompressImage(raw, s.Cfg.Exam.ImageBudgetKB)
			if err != nil {
				return err
			}
			url, err := s.Storage.UploadAnswerImage(ctx, submission.ID, q.ID, compressed)
			if err != nil {
				return err
			}
			record.AnswerImageURL = url
		}

		records = append(records, record)
	}

	if err := s.SubRepo.Finalize(submission.ID, records, totalMarks, isTimeout, now); err != nil {
		return err
	}

	if err := s.Drafts.Delete(ctx, submission.ID); err != nil {
		logger.Log.Warn("failed to clear answer draft",
			zap.String("submissionId", submission.ID), zap.Error(err))
	}

	if s.Monitor != nil {
		s.Monitor.Publish(ctx, ExamEvent{
			Type:         EventSubmitted,
			ExamID:       exam.ID,
			SubmissionID: submission.ID,
			StudentID:    submission.StudentID,
			TotalMarks:   totalMarks,
			IsTimeout:    isTimeout,
			At:           now,
		})
	}
	recordSubmission(trigger)

	return nil
}

func (s *SessionService) submitFromDraft(ctx context.Context, submission *model.Submission, exam *model.Exam, trigger string) error {
	draft, err := s.Drafts.Get(ctx, submission.ID)
	if err != nil {
		return err
	}
	return s.finalize(ctx, submission, exam, draft, true, trigger)
}

// ProcessExpiredSessions 超时收卷清扫器：把已过截止时刻仍未交卷的
// 作答记录按草稿强制收卷。与学生手动交卷竞争时，Finalize 的单向翻转
// 保证只有一方生效。由 app 层定时驱动。
func (s *SessionService) ProcessExpiredSessions(ctx context.Context) error {
	pending, err := s.SubRepo.ListInProgress()
	if err != nil {
		return err
	}

	now := time.Now()
	for i := range pending {
		sub := &pending[i]
		if sub.Exam == nil || now.Before(sub.Deadline(sub.Exam.Duration)) {
			continue
		}
		if err := s.submitFromDraft(ctx, sub, sub.Exam, SubmitTriggerSweeper); err != nil {
			if errors.Is(err, util.ErrExamAlreadySubmitted) {
				continue
			}
			logger.Log.Error("failed to finalize expired session",
				zap.String("submissionId", sub.ID), zap.Error(err))
		}
	}
	return nil
}

// ListResults 学生本人已交卷的成绩列表
func (s *SessionService) ListResults(studentID uint) ([]model.Submission, error) {
	return s.SubRepo.ListByStudent(studentID)
}

// GetResult 学生本人某次作答的详情（含题目与答案）
func (s *SessionService) GetResult(studentID uint, submissionID string) (*model.Submission, error) {
	submission, err := s.SubRepo.FindByID(submissionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	if submission.StudentID != studentID {
		return nil, util.ErrPermissionDenied
	}
	if !submission.IsSubmitted {
		return nil, util.ErrSubmissionNotFound
	}
	return submission, nil
}
