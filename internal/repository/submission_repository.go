package repository

import (
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/util"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubmissionRepository struct {
	DB *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{DB: db}
}

func (r *SubmissionRepository) Create(submission *model.Submission) error {
	return r.DB.Create(submission).Error
}

func (r *SubmissionRepository) FindByID(id string) (*model.Submission, error) {
	var s model.Submission
	err := r.DB.Preload("Exam").Preload("Student").
		Preload("Answers").Preload("Answers.Question").
		First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepository) FindByExamAndStudent(examID string, studentID uint) (*model.Submission, error) {
	var s model.Submission
	err := r.DB.Where("exam_id = ? AND student_id = ?", examID, studentID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type SubmissionListRow struct {
	model.Submission
	StudentName  string `json:"studentName"`
	StudentEmail string `json:"studentEmail"`
}

// ListByExam 教师侧某试卷的作答列表，可按学生姓名和状态过滤
func (r *SubmissionRepository) ListByExam(examID string, page, limit int, studentName string, submitted *bool) ([]SubmissionListRow, int64, error) {
	query := r.DB.Table("submissions s").
		Select("s.*, u.name as student_name, u.email as student_email").
		Joins("JOIN users u ON s.student_id = u.id").
		Where("s.exam_id = ? AND s.deleted_at IS NULL", examID)

	if studentName != "" {
		query = query.Where("u.name LIKE ?", "%"+studentName+"%")
	}
	if submitted != nil {
		query = query.Where("s.is_submitted = ?", *submitted)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []SubmissionListRow
	offset := (page - 1) * limit
	err := query.Order("s.created_at desc").Offset(offset).Limit(limit).Scan(&rows).Error
	return rows, total, err
}

// ListByStudent 学生侧成绩列表
func (r *SubmissionRepository) ListByStudent(studentID uint) ([]model.Submission, error) {
	var ss []model.Submission
	err := r.DB.Where("student_id = ? AND is_submitted = ?", studentID, true).
		Order("submitted_at desc").
		Preload("Exam").
		Find(&ss).Error
	return ss, err
}

// ListInProgress 全部未交卷记录（带试卷），供超时清扫器筛选
func (r *SubmissionRepository) ListInProgress() ([]model.Submission, error) {
	var ss []model.Submission
	err := r.DB.Where("is_submitted = ?", false).Preload("Exam").Find(&ss).Error
	return ss, err
}

// Finalize 在同一事务内写入全部答案并翻转 is_submitted。
// 答案按 (submission_id, question_id) upsert；翻转带 is_submitted = false
// 条件，RowsAffected 为 0 说明已被并发提交抢先，整个事务回滚——
// 外部观察者不可能看到 is_submitted = true 而答案缺失的状态。
func (r *SubmissionRepository) Finalize(submissionID string, answers []model.Answer, totalMarks int, isTimeout bool, submittedAt time.Time) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if len(answers) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "submission_id"}, {Name: "question_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"answer_text", "answer_image_url", "marks_obtained", "is_correct", "updated_at",
				}),
			}).Create(&answers).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&model.Submission{}).
			Where("id = ? AND is_submitted = ?", submissionID, false).
			Updates(map[string]interface{}{
				"is_submitted": true,
				"submitted_at": submittedAt,
				"total_marks":  totalMarks,
				"is_timeout":   isTimeout,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrExamAlreadySubmitted
		}
		return nil
	})
}

// SaveGrades 批改：逐条更新答案得分后重算 total_marks，单事务
func (r *SubmissionRepository) SaveGrades(submissionID string, marks map[string]int) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		for answerID, m := range marks {
			res := tx.Model(&model.Answer{}).
				Where("id = ? AND submission_id = ?", answerID, submissionID).
				Update("marks_obtained", m)
			if res.Error != nil {
				return res.Error
			}
		}

		var total int64
		if err := tx.Model(&model.Answer{}).
			Where("submission_id = ?", submissionID).
			Select("COALESCE(SUM(marks_obtained), 0)").
			Scan(&total).Error; err != nil {
			return err
		}

		return tx.Model(&model.Submission{}).
			Where("id = ?", submissionID).
			Update("total_marks", int(total)).Error
	})
}

// Delete 物理删除作答及其答案，让学生可以重考。
// (exam_id, student_id) 上有唯一索引，软删除的残留行会挡住重考，
// 所以这里必须 Unscoped。
func (r *SubmissionRepository) Delete(submissionID string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("submission_id = ?", submissionID).Delete(&model.Answer{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&model.Submission{}, "id = ?", submissionID).Error
	})
}

func (r *SubmissionRepository) ListAnswers(submissionID string) ([]model.Answer, error) {
	var answers []model.Answer
	err := r.DB.Where("submission_id = ?", submissionID).
		Preload("Question").
		Find(&answers).Error
	return answers, err
}
