package model

import "encoding/json"

type QuestionType string

const (
	QuestionMCQ     QuestionType = "mcq"     // 选择题，按标准答案自动判分
	QuestionWritten QuestionType = "written" // 解答题，学生拍照作答，教师人工评分
)

// swagger:model Question
type Question struct {
	UUIDBase
	ExamID        string          `gorm:"index;type:varchar(36)" json:"examId"`
	Order         int             `gorm:"column:question_order;default:0" json:"order"` // 试卷内展示顺序
	Type          QuestionType    `gorm:"size:20;not null" json:"type"`
	Text          string          `gorm:"type:text;not null" json:"text"`
	ImageURL      string          `gorm:"size:500" json:"imageUrl,omitempty"`
	Options       json.RawMessage `gorm:"type:json" json:"options,omitempty"` // JSON: []string，仅 mcq
	CorrectAnswer string          `gorm:"type:text" json:"correctAnswer,omitempty"`
	Marks         int             `gorm:"default:1" json:"marks"`
	Solution      string          `gorm:"type:text" json:"solution,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// OptionList 解析选项 JSON，非 mcq 或解析失败时返回 nil
func (q *Question) OptionList() []string {
	if len(q.Options) == 0 {
		return nil
	}
	var opts []string
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil
	}
	return opts
}
