package service

import (
	"encoding/json"
	"errors"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

type ExamService struct {
	ExamRepo *repository.ExamRepository
	validate *validator.Validate
}

func NewExamService(examRepo *repository.ExamRepository) *ExamService {
	return &ExamService{
		ExamRepo: examRepo,
		validate: validator.New(),
	}
}

type ExamQuestionReq struct {
	ID            string   `json:"id"`
	Type          string   `json:"type" binding:"required,oneof=mcq written"`
	Text          string   `json:"text" binding:"required"`
	ImageURL      string   `json:"imageUrl"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Marks         int      `json:"marks"`
	Solution      string   `json:"solution"`
	Order         int      `json:"order"`
}

type ExamReq struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Duration    *int               `json:"duration"`
	IsPublished *bool              `json:"isPublished"`
	StartsAt    *time.Time         `json:"startsAt"`
	EndsAt      *time.Time         `json:"endsAt"`
	Questions   *[]ExamQuestionReq `json:"questions"`
}

func validateQuestionReq(q *ExamQuestionReq) error {
	if q.Marks <= 0 {
		return errors.New("question marks must be positive")
	}
	if model.QuestionType(q.Type) == model.QuestionMCQ {
		if len(q.Options) < 2 {
			return errors.New("mcq question needs at least two options")
		}
		if q.CorrectAnswer == "" {
			return errors.New("mcq question needs a correct answer")
		}
	}
	return nil
}

func buildQuestion(examID string, req *ExamQuestionReq) (*model.Question, error) {
	if err := validateQuestionReq(req); err != nil {
		return nil, err
	}

	q := &model.Question{
		ExamID:        examID,
		Order:         req.Order,
		Type:          model.QuestionType(req.Type),
		Text:          req.Text,
		ImageURL:      req.ImageURL,
		CorrectAnswer: req.CorrectAnswer,
		Marks:         req.Marks,
		Solution:      req.Solution,
	}
	if len(req.Options) > 0 {
		opts, err := json.Marshal(req.Options)
		if err != nil {
			return nil, err
		}
		q.Options = opts
	}
	return q, nil
}

func (s *ExamService) CreateExam(teacherID uint, req ExamReq) (*model.Exam, error) {
	if req.Title == nil || *req.Title == "" {
		return nil, errors.New("title is required")
	}
	if req.Duration == nil || *req.Duration <= 0 {
		return nil, errors.New("duration must be positive")
	}

	exam := &model.Exam{
		Title:     *req.Title,
		Duration:  *req.Duration,
		TeacherID: teacherID,
	}
	if req.Description != nil {
		exam.Description = *req.Description
	}
	if req.IsPublished != nil && *req.IsPublished {
		exam.IsPublished = true
		now := time.Now()
		exam.PublishedAt = &now
	}
	exam.StartsAt = req.StartsAt
	exam.EndsAt = req.EndsAt

	if err := s.ExamRepo.Create(exam); err != nil {
		return nil, err
	}

	if req.Questions != nil {
		for i := range *req.Questions {
			q, err := buildQuestion(exam.ID, &(*req.Questions)[i])
			if err != nil {
				return nil, err
			}
			if err := s.ExamRepo.CreateQuestion(q); err != nil {
				return nil, err
			}
		}
	}

	return exam, nil
}

func (s *ExamService) findOwnedExam(examID string, teacherID uint, isAdmin bool) (*model.Exam, error) {
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

func (s *ExamService) UpdateExam(examID string, teacherID uint, isAdmin bool, req ExamReq) (*model.Exam, error) {
	exam, err := s.findOwnedExam(examID, teacherID, isAdmin)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		exam.Title = *req.Title
	}
	if req.Description != nil {
		exam.Description = *req.Description
	}
	if req.Duration != nil && *req.Duration > 0 {
		exam.Duration = *req.Duration
	}
	if req.IsPublished != nil {
		if *req.IsPublished && !exam.IsPublished {
			now := time.Now()
			exam.PublishedAt = &now
		}
		exam.IsPublished = *req.IsPublished
	}
	if req.StartsAt != nil {
		exam.StartsAt = req.StartsAt
	}
	if req.EndsAt != nil {
		exam.EndsAt = req.EndsAt
	}

	if err := s.ExamRepo.Update(exam); err != nil {
		return nil, err
	}

	// 题目调和：带 ID 的更新，无 ID 的新建，缺席的删除
	if req.Questions != nil {
		existingQs, err := s.ExamRepo.ListQuestions(examID)
		if err != nil {
			return nil, err
		}
		existingMap := make(map[string]*model.Question)
		for i := range existingQs {
			existingMap[existingQs[i].ID] = &existingQs[i]
		}

		keptIDs := make(map[string]bool)
		for i := range *req.Questions {
			qReq := &(*req.Questions)[i]
			if qReq.ID != "" {
				q, ok := existingMap[qReq.ID]
				if !ok {
					continue
				}
				updated, err := buildQuestion(examID, qReq)
				if err != nil {
					return nil, err
				}
				updated.UUIDBase = q.UUIDBase
				if err := s.ExamRepo.UpdateQuestion(updated); err != nil {
					return nil, err
				}
				keptIDs[q.ID] = true
			} else {
				q, err := buildQuestion(examID, qReq)
				if err != nil {
					return nil, err
				}
				if err := s.ExamRepo.CreateQuestion(q); err != nil {
					return nil, err
				}
			}
		}

		for id := range existingMap {
			if !keptIDs[id] {
				if err := s.ExamRepo.DeleteQuestion(id); err != nil {
					return nil, err
				}
			}
		}
	}

	return exam, nil
}

func (s *ExamService) DeleteExam(examID string, teacherID uint, isAdmin bool) error {
	if _, err := s.findOwnedExam(examID, teacherID, isAdmin); err != nil {
		return err
	}
	return s.ExamRepo.Delete(examID)
}

func (s *ExamService) GetExam(examID string, teacherID uint, isAdmin bool) (*model.Exam, []model.Question, error) {
	exam, err := s.findOwnedExam(examID, teacherID, isAdmin)
	if err != nil {
		return nil, nil, err
	}
	qs, err := s.ExamRepo.ListQuestions(examID)
	return exam, qs, err
}

func (s *ExamService) ListExams(teacherID uint, page, limit int) ([]repository.ExamListRow, int64, error) {
	return s.ExamRepo.ListByTeacher(teacherID, page, limit)
}

// QuizImportQuestion JSON 导入的单题结构
type QuizImportQuestion struct {
	Type          string   `json:"type" validate:"required,oneof=mcq written"`
	Question      string   `json:"question" validate:"required"`
	Image         string   `json:"image"`
	Options       []string `json:"options" validate:"required_if=Type mcq,omitempty,min=2"`
	CorrectAnswer string   `json:"correctAnswer" validate:"required_if=Type mcq"`
	Marks         int      `json:"marks" validate:"required,gt=0"`
	Solution      string   `json:"solution"`
}

// QuizImport JSON 导入的试卷结构
type QuizImport struct {
	Title       string               `json:"title" validate:"required"`
	Description string               `json:"description"`
	Duration    int                  `json:"duration" validate:"required,gt=0"`
	Questions   []QuizImportQuestion `json:"questions" validate:"required,min=1,dive"`
}

// ImportValidationError 列出缺失或非法的字段，整体拒绝导入
type ImportValidationError struct {
	Fields []string
}

func (e *ImportValidationError) Error() string {
	return fmt.Sprintf("invalid exam import, missing or invalid fields: %s", strings.Join(e.Fields, ", "))
}

// ImportExam 校验通过后才落库；任何字段不合法都不产生部分写入
func (s *ExamService) ImportExam(teacherID uint, raw []byte) (*model.Exam, error) {
	var doc QuizImport
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ImportValidationError{Fields: []string{"(malformed JSON: " + err.Error() + ")"}}
	}

	if err := s.validate.Struct(&doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return nil, &ImportValidationError{Fields: fields}
		}
		return nil, err
	}

	questions := make([]ExamQuestionReq, len(doc.Questions))
	for i, q := range doc.Questions {
		questions[i] = ExamQuestionReq{
			Type:          q.Type,
			Text:          q.Question,
			ImageURL:      q.Image,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Marks:         q.Marks,
			Solution:      q.Solution,
			Order:         i + 1,
		}
	}

	return s.CreateExam(teacherID, ExamReq{
		Title:       &doc.Title,
		Description: &doc.Description,
		Duration:    &doc.Duration,
		Questions:   &questions,
	})
}
