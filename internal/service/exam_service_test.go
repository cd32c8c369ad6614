package service

import (
	"errors"
	"strings"
	"testing"
)

func TestImportExamValidatesWholeDocument(t *testing.T) {
	env := newTestEnv(t)

	// 缺 duration，且单选题缺选项和标准答案：整体拒绝并列出全部问题字段
	raw := []byte(`{
		"title": "物理小测",
		"questions": [
			{"type": "mcq", "question": "F=?", "marks": 1}
		]
	}`)

	_, err := env.exams.ImportExam(env.teacher.ID, raw)
	var verr *ImportValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ImportValidationError, got %v", err)
	}

	msg := verr.Error()
	for _, want := range []string{"Duration", "Options", "CorrectAnswer"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in validation message, got %q", want, msg)
		}
	}

	// 校验失败不产生部分写入
	exams, total, listErr := env.exams.ListExams(env.teacher.ID, 1, 20)
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if total != 0 || len(exams) != 0 {
		t.Fatalf("failed import must not create exams, got %d", total)
	}
}

func TestImportExamRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.exams.ImportExam(env.teacher.ID, []byte(`{"title": `))
	var verr *ImportValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ImportValidationError for malformed JSON, got %v", err)
	}
}

func TestImportExamCreatesQuestionsInOrder(t *testing.T) {
	env := newTestEnv(t)

	raw := []byte(`{
		"title": "化学小测",
		"description": "第一章",
		"duration": 15,
		"questions": [
			{"type": "mcq", "question": "水的化学式?", "options": ["H2O", "CO2"], "correctAnswer": "H2O", "marks": 1},
			{"type": "written", "question": "写出中和反应方程式", "marks": 4, "solution": "酸+碱=盐+水"}
		]
	}`)

	exam, err := env.exams.ImportExam(env.teacher.ID, raw)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if exam.IsPublished {
		t.Fatalf("imported exam should start unpublished")
	}

	qs, err := env.exams.ExamRepo.ListQuestions(exam.ID)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if qs[0].Order != 1 || qs[1].Order != 2 {
		t.Fatalf("expected sequential order, got %d %d", qs[0].Order, qs[1].Order)
	}
	if got := qs[0].OptionList(); len(got) != 2 || got[0] != "H2O" {
		t.Fatalf("options mismatch: %v", got)
	}
	if qs[1].Solution != "酸+碱=盐+水" {
		t.Fatalf("solution mismatch: %q", qs[1].Solution)
	}
}

func TestUpdateExamReconcilesQuestions(t *testing.T) {
	env := newTestEnv(t)
	exam, qs := env.createPublishedExam(t, 8)

	// 保留第一题并改分值，删掉其余，新增一题
	req := ExamReq{
		Questions: &[]ExamQuestionReq{
			{ID: qs[0].ID, Type: "mcq", Text: "2+2=?", Options: []string{"2", "4"}, CorrectAnswer: "4", Marks: 2, Order: 1},
			{Type: "written", Text: "新解答题", Marks: 5, Order: 2},
		},
	}
	if _, err := env.exams.UpdateExam(exam.ID, env.teacher.ID, false, req); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated, err := env.exams.ExamRepo.ListQuestions(exam.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 questions after reconcile, got %d", len(updated))
	}
	if updated[0].ID != qs[0].ID || updated[0].Marks != 2 {
		t.Fatalf("kept question should be updated in place: %+v", updated[0])
	}
	if updated[1].Text != "新解答题" {
		t.Fatalf("new question missing: %+v", updated[1])
	}
}

func TestCreateExamRejectsInvalidQuestions(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.exams.CreateExam(env.teacher.ID, ExamReq{
		Title:    strPtr("坏卷子"),
		Duration: intPtr(10),
		Questions: &[]ExamQuestionReq{
			{Type: "mcq", Text: "只有一个选项", Options: []string{"a"}, CorrectAnswer: "a", Marks: 1},
		},
	})
	if err == nil {
		t.Fatalf("expected error for mcq with one option")
	}

	_, err = env.exams.CreateExam(env.teacher.ID, ExamReq{
		Title:    strPtr("零分题"),
		Duration: intPtr(10),
		Questions: &[]ExamQuestionReq{
			{Type: "written", Text: "x", Marks: 0},
		},
	})
	if err == nil {
		t.Fatalf("expected error for non-positive marks")
	}
}
