package model

import "time"

// Submission 一名学生对一份试卷的唯一作答记录。
// (exam_id, student_id) 上的唯一索引保证同一学生不会产生并行的作答记录；
// is_submitted 只允许 false -> true 单向翻转。
// swagger:model Submission
type Submission struct {
	UUIDBase
	ExamID      string     `gorm:"type:varchar(36);uniqueIndex:idx_exam_student" json:"examId"`
	StudentID   uint       `gorm:"type:bigint unsigned;uniqueIndex:idx_exam_student" json:"studentId"`
	StartedAt   time.Time  `json:"startedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	TotalMarks  int        `gorm:"default:0" json:"totalMarks"`
	IsSubmitted bool       `gorm:"default:false" json:"isSubmitted"`
	IsTimeout   bool       `gorm:"default:false" json:"isTimeout"` // 由超时清扫或超时提交置位
	Exam        *Exam      `gorm:"foreignKey:ExamID" json:"exam,omitempty"`
	Student     *User      `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	Answers     []Answer   `gorm:"foreignKey:SubmissionID" json:"answers,omitempty"`
}

func (Submission) TableName() string {
	return "submissions"
}

// Deadline 服务端权威的交卷截止时刻
func (s *Submission) Deadline(durationMinutes int) time.Time {
	return s.StartedAt.Add(time.Duration(durationMinutes) * time.Minute)
}
