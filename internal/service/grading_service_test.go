package service

import (
	"context"
	"errors"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/util"
	"testing"
)

func submitForGrading(t *testing.T, env *testEnv) (*model.Exam, []model.Question, *model.Submission) {
	t.Helper()
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)
	if _, err := env.session.StartExam(ctx, env.student.ID, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{
			qs[0].ID: {Text: "4"},
			qs[2].ID: {Text: "证明过程"},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return exam, qs, sub
}

func answerIDFor(t *testing.T, env *testEnv, sub *model.Submission, questionID string) string {
	t.Helper()
	answers, err := env.session.SubRepo.ListAnswers(sub.ID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	for _, a := range answers {
		if a.QuestionID == questionID {
			return a.ID
		}
	}
	t.Fatalf("answer for question %s not found", questionID)
	return ""
}

func TestGradeClampsMarks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, qs, sub := submitForGrading(t, env)
	answerID := answerIDFor(t, env, sub, qs[2].ID)

	// 超出满分钳到3
	graded, err := env.grading.Grade(ctx, sub.ID, env.teacher.ID, false, GradeReq{
		Marks: map[string]int{answerID: 99},
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.TotalMarks != 4 { // 1 (mcq) + 3 (钳制后)
		t.Fatalf("expected total 4, got %d", graded.TotalMarks)
	}

	// 负分钳到0，总分回落
	graded, err = env.grading.Grade(ctx, sub.ID, env.teacher.ID, false, GradeReq{
		Marks: map[string]int{answerID: -5},
	})
	if err != nil {
		t.Fatalf("regrade: %v", err)
	}
	if graded.TotalMarks != 1 {
		t.Fatalf("expected total 1, got %d", graded.TotalMarks)
	}
}

func TestGradeLeavesMCQScoreIntact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, qs, sub := submitForGrading(t, env)
	mcqAnswerID := answerIDFor(t, env, sub, qs[0].ID)
	writtenID := answerIDFor(t, env, sub, qs[2].ID)

	// 给分表里混入选择题也不能覆盖自动判分
	graded, err := env.grading.Grade(ctx, sub.ID, env.teacher.ID, false, GradeReq{
		Marks: map[string]int{mcqAnswerID: 0, writtenID: 2},
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.TotalMarks != 3 { // 1 (mcq 自动判分) + 2 (解答题)
		t.Fatalf("expected total 3, got %d", graded.TotalMarks)
	}

	answers, err := env.session.SubRepo.ListAnswers(sub.ID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	for _, a := range answers {
		if a.ID != mcqAnswerID {
			continue
		}
		if a.MarksObtained != 1 {
			t.Fatalf("mcq marks overwritten: got %d, want 1", a.MarksObtained)
		}
		if a.IsCorrect == nil || !*a.IsCorrect {
			t.Fatalf("mcq is_correct lost after grading: %+v", a)
		}
	}
}

func TestGradeRejectsForeignTeacher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, qs, sub := submitForGrading(t, env)
	answerID := answerIDFor(t, env, sub, qs[2].ID)

	other := env.createUser(t, "other@test.local", model.Teacher)
	_, err := env.grading.Grade(ctx, sub.ID, other.ID, false, GradeReq{
		Marks: map[string]int{answerID: 1},
	})
	if !errors.Is(err, util.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// 管理员放行
	if _, err := env.grading.Grade(ctx, sub.ID, other.ID, true, GradeReq{
		Marks: map[string]int{answerID: 1},
	}); err != nil {
		t.Fatalf("admin grade: %v", err)
	}
}

func TestGradeRejectsUnknownAnswer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _, sub := submitForGrading(t, env)

	_, err := env.grading.Grade(ctx, sub.ID, env.teacher.ID, false, GradeReq{
		Marks: map[string]int{"no-such-answer": 1},
	})
	if !errors.Is(err, util.ErrAnswerNotFound) {
		t.Fatalf("expected ErrAnswerNotFound, got %v", err)
	}
}

func TestGradeRequiresSubmitted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, _ := env.createPublishedExam(t, 8)
	sub, err := env.session.StartExam(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = env.grading.Grade(ctx, sub.ID, env.teacher.ID, false, GradeReq{Marks: map[string]int{}})
	if !errors.Is(err, util.ErrExamNotSubmitted) {
		t.Fatalf("expected ErrExamNotSubmitted, got %v", err)
	}
}

func TestResetSubmissionAllowsRetake(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, _, sub := submitForGrading(t, env)

	if err := env.grading.ResetSubmission(ctx, sub.ID, env.teacher.ID, false); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// (exam_id, student_id) 唯一索引下重考必须能重新建档
	fresh, err := env.session.StartExam(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("restart after reset: %v", err)
	}
	if fresh.ID == sub.ID {
		t.Fatalf("expected a new submission after reset")
	}
	if fresh.IsSubmitted {
		t.Fatalf("fresh submission should not be submitted")
	}
}

func TestListSubmissionsFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	second := env.createUser(t, "student2@test.local", model.Student)
	if _, err := env.session.StartExam(ctx, env.student.ID, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.session.StartExam(ctx, second.ID, exam.ID); err != nil {
		t.Fatalf("start second: %v", err)
	}
	if _, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{qs[0].ID: {Text: "4"}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	rows, total, err := env.grading.ListSubmissions(exam.ID, env.teacher.ID, false, 1, 20, "", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 submissions, got total=%d len=%d", total, len(rows))
	}

	submitted := true
	rows, total, err = env.grading.ListSubmissions(exam.ID, env.teacher.ID, false, 1, 20, "", &submitted)
	if err != nil {
		t.Fatalf("list submitted: %v", err)
	}
	if total != 1 || rows[0].StudentID != env.student.ID {
		t.Fatalf("expected only the submitted student, got %+v", rows)
	}
}
