package repository

import (
	"context"
	"encoding/json"
	"exam_portal_backend/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// publishedCacheKey 已发布试卷列表的缓存键，任何试卷写操作都会清掉它
const publishedCacheKey = "exam:cache:published"

const publishedCacheTTL = 30 * time.Second

type ExamRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
	ctx   context.Context
}

func NewExamRepository(db *gorm.DB, rdb *redis.Client) *ExamRepository {
	return &ExamRepository{
		DB:    db,
		Redis: rdb,
		ctx:   context.Background(),
	}
}

func (r *ExamRepository) invalidatePublished() {
	if r.Redis != nil {
		r.Redis.Del(r.ctx, publishedCacheKey)
	}
}

func (r *ExamRepository) Create(exam *model.Exam) error {
	err := r.DB.Create(exam).Error
	if err == nil {
		r.invalidatePublished()
	}
	return err
}

func (r *ExamRepository) FindByID(id string) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.First(&exam, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (r *ExamRepository) Update(exam *model.Exam) error {
	err := r.DB.Save(exam).Error
	if err == nil {
		r.invalidatePublished()
	}
	return err
}

// Delete 级联删除试卷、题目、作答记录和答案
func (r *ExamRepository) Delete(id string) error {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("exam_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return err
		}
		var submissionIDs []string
		if err := tx.Model(&model.Submission{}).Where("exam_id = ?", id).Pluck("id", &submissionIDs).Error; err == nil && len(submissionIDs) > 0 {
			if err := tx.Where("submission_id IN ?", submissionIDs).Delete(&model.Answer{}).Error; err != nil {
				return err
			}
			if err := tx.Where("exam_id = ?", id).Delete(&model.Submission{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Exam{}, "id = ?", id).Error
	})
	if err == nil {
		r.invalidatePublished()
	}
	return err
}

type ExamListRow struct {
	model.Exam
	QuestionCount   int `json:"questionCount"`
	SubmissionCount int `json:"submissionCount"`
}

// ListByTeacher 教师侧试卷列表，附带题目数和已交卷数
func (r *ExamRepository) ListByTeacher(teacherID uint, page, limit int) ([]ExamListRow, int64, error) {
	var total int64
	if err := r.DB.Model(&model.Exam{}).Where("teacher_id = ?", teacherID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var exams []ExamListRow
	dbQuery := r.DB.Table("exams e").
		Select("e.*, "+
			"(SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id AND q.deleted_at IS NULL) as question_count, "+
			"(SELECT COUNT(*) FROM submissions s WHERE s.exam_id = e.id AND s.deleted_at IS NULL AND s.is_submitted = true) as submission_count").
		Where("e.teacher_id = ? AND e.deleted_at IS NULL", teacherID)

	if limit > 0 {
		offset := (page - 1) * limit
		dbQuery = dbQuery.Offset(offset).Limit(limit)
	}

	err := dbQuery.Order("e.created_at desc").Scan(&exams).Error
	return exams, total, err
}

// ListPublished 学生可见的已发布试卷，短 TTL 缓存挡住考试开始前的集中刷新
func (r *ExamRepository) ListPublished() ([]model.Exam, error) {
	if r.Redis != nil {
		cached, err := r.Redis.Get(r.ctx, publishedCacheKey).Result()
		if err == nil && cached != "" {
			var exams []model.Exam
			if err := json.Unmarshal([]byte(cached), &exams); err == nil {
				return exams, nil
			}
		}
	}

	var exams []model.Exam
	err := r.DB.Where("is_published = ?", true).
		Order("created_at desc").
		Preload("Teacher").
		Find(&exams).Error
	if err != nil {
		return nil, err
	}

	if r.Redis != nil {
		if data, err := json.Marshal(exams); err == nil {
			r.Redis.Set(r.ctx, publishedCacheKey, data, publishedCacheTTL)
		}
	}
	return exams, nil
}

func (r *ExamRepository) CreateQuestion(question *model.Question) error {
	return r.DB.Create(question).Error
}

func (r *ExamRepository) FindQuestionByID(id string) (*model.Question, error) {
	var q model.Question
	err := r.DB.First(&q, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *ExamRepository) UpdateQuestion(question *model.Question) error {
	return r.DB.Save(question).Error
}

func (r *ExamRepository) DeleteQuestion(id string) error {
	return r.DB.Delete(&model.Question{}, "id = ?", id).Error
}

func (r *ExamRepository) ListQuestions(examID string) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.Where("exam_id = ?", examID).
		Order("question_order asc, created_at asc").
		Find(&qs).Error
	return qs, err
}
