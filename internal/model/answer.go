package model

// Answer 每题一条，按 (submission_id, question_id) 唯一，提交时整批 upsert。
// mcq 的 IsCorrect/MarksObtained 在提交时自动判分；written 的 IsCorrect 保持
// NULL，MarksObtained 初始为 0，由教师批改后写入。
// swagger:model Answer
type Answer struct {
	UUIDBase
	SubmissionID   string    `gorm:"type:varchar(36);uniqueIndex:idx_submission_question" json:"submissionId"`
	QuestionID     string    `gorm:"type:varchar(36);uniqueIndex:idx_submission_question" json:"questionId"`
	AnswerText     string    `gorm:"type:text" json:"answerText,omitempty"`
	AnswerImageURL string    `gorm:"size:500" json:"answerImageUrl,omitempty"`
	MarksObtained  int       `gorm:"default:0" json:"marksObtained"`
	IsCorrect      *bool     `json:"isCorrect,omitempty"`
	Question       *Question `gorm:"foreignKey:QuestionID" json:"question,omitempty"`
}

func (Answer) TableName() string {
	return "answers"
}
