package model

import "time"

// swagger:model Exam
type Exam struct {
	UUIDBase
	Title       string     `gorm:"size:255;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Duration    int        `gorm:"default:0" json:"duration"` // 限时（分钟）
	IsPublished bool       `gorm:"default:false" json:"isPublished"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	StartsAt    *time.Time `json:"startsAt,omitempty"` // 可选的开放窗口
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	TeacherID   uint       `gorm:"index;type:bigint unsigned" json:"teacherId"`
	Teacher     *User      `gorm:"foreignKey:TeacherID" json:"teacher,omitempty"`
}

func (Exam) TableName() string {
	return "exams"
}
