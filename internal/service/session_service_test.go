package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"
	"exam_portal_backend/pkg/database"
	"exam_portal_backend/pkg/logger"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	db      *gorm.DB
	cfg     *config.Config
	exams   *ExamService
	session *SessionService
	grading *GradingService
	drafts  DraftStore
	teacher *model.User
	student *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.Log = zap.NewNop()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{}
	cfg.Storage.Type = util.StorageLocal
	cfg.Storage.LocalPath = t.TempDir()
	cfg.Exam = config.ExamConfig{ImageBudgetKB: 200, DraftTTLHours: 24, SweepSeconds: 60}

	examRepo := repository.NewExamRepository(db, nil)
	subRepo := repository.NewSubmissionRepository(db)
	drafts := NewMemoryDraftStore()
	storage := NewStorageService(cfg)

	env := &testEnv{
		db:      db,
		cfg:     cfg,
		exams:   NewExamService(examRepo),
		session: NewSessionService(examRepo, subRepo, storage, drafts, nil, cfg),
		grading: NewGradingService(examRepo, subRepo, drafts, nil),
		drafts:  drafts,
	}

	env.teacher = env.createUser(t, "teacher@test.local", model.Teacher)
	env.student = env.createUser(t, "student@test.local", model.Student)
	return env
}

func (e *testEnv) createUser(t *testing.T, email string, role model.UserRole) *model.User {
	t.Helper()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	u := &model.User{Name: email, Email: email, Password: string(hashed), Role: role}
	if err := e.db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

// 两道单选各1分，一道解答题3分
func (e *testEnv) createPublishedExam(t *testing.T, duration int) (*model.Exam, []model.Question) {
	t.Helper()
	exam, err := e.exams.CreateExam(e.teacher.ID, ExamReq{
		Title:       strPtr("数学小测"),
		Duration:    intPtr(duration),
		IsPublished: boolPtr(true),
		Questions: &[]ExamQuestionReq{
			{Type: "mcq", Text: "2+2=?", Options: []string{"2", "4"}, CorrectAnswer: "4", Marks: 1, Order: 1},
			{Type: "mcq", Text: "x+x=?", Options: []string{"x", "2x"}, CorrectAnswer: "2x", Marks: 1, Order: 2},
			{Type: "written", Text: "证明勾股定理", Marks: 3, Order: 3},
		},
	})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	qs, err := e.exams.ExamRepo.ListQuestions(exam.ID)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	return exam, qs
}

func TestStartExamRecoversFromConcurrentCreate(t *testing.T) {
	env := newTestEnv(t)
	exam, _ := env.createPublishedExam(t, 8)

	// 模拟并发开考：存在性检查落空后另一请求已抢先插入
	first := &model.Submission{ExamID: exam.ID, StudentID: env.student.ID, StartedAt: time.Now()}
	if err := env.session.SubRepo.Create(first); err != nil {
		t.Fatalf("preinsert: %v", err)
	}

	sub, created, err := env.session.createSubmission(exam.ID, env.student.ID, time.Now())
	if err != nil {
		t.Fatalf("expected fallback to existing submission, got %v", err)
	}
	if created {
		t.Fatalf("duplicate insert must not report created")
	}
	if sub.ID != first.ID {
		t.Fatalf("expected existing submission %s, got %s", first.ID, sub.ID)
	}
}

func TestExamFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	sub, err := env.session.StartExam(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("start exam: %v", err)
	}

	// 开考幂等：再次 start 返回同一条记录
	again, err := env.session.StartExam(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("restart exam: %v", err)
	}
	if again.ID != sub.ID {
		t.Fatalf("expected same submission, got %s and %s", sub.ID, again.ID)
	}

	// 草稿往返
	draft := AnswerDraft{
		qs[0].ID: {Text: "4"},
		qs[2].ID: {Text: "略"},
	}
	if err := env.session.SaveDraft(ctx, env.student.ID, exam.ID, draft); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	got, err := env.session.GetDraft(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got[qs[0].ID].Text != "4" || got[qs[2].ID].Text != "略" {
		t.Fatalf("draft round trip mismatch: %+v", got)
	}

	// 交卷：第一题对，第二题错，解答题待批改
	submitted, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{
			qs[0].ID: {Text: "4"},
			qs[1].ID: {Text: "x"},
			qs[2].ID: {Text: "设直角三角形……"},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !submitted.IsSubmitted {
		t.Fatalf("expected submitted")
	}
	if submitted.TotalMarks != 1 {
		t.Fatalf("expected total 1 (mcq only), got %d", submitted.TotalMarks)
	}
	if submitted.IsTimeout {
		t.Fatalf("manual submit within time should not be timeout")
	}

	// 成功交卷后草稿被清除
	left, _ := env.drafts.Get(ctx, sub.ID)
	if len(left) != 0 {
		t.Fatalf("draft should be cleared after submit, got %+v", left)
	}

	// 完成后详情带标准答案和判分结果
	detail, err := env.session.GetExamDetail(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Status != "completed" {
		t.Fatalf("expected completed, got %s", detail.Status)
	}
	if detail.RemainingTime != 0 {
		t.Fatalf("expected 0 remaining after submit, got %d", detail.RemainingTime)
	}
	var mcqCorrect, mcqWrong, written *StudentQuestion
	for i := range detail.Questions {
		q := &detail.Questions[i]
		switch q.ID {
		case qs[0].ID:
			mcqCorrect = q
		case qs[1].ID:
			mcqWrong = q
		case qs[2].ID:
			written = q
		}
	}
	if mcqCorrect.IsCorrect == nil || !*mcqCorrect.IsCorrect || *mcqCorrect.MarksObtained != 1 {
		t.Fatalf("first mcq should be correct with 1 mark: %+v", mcqCorrect)
	}
	if mcqWrong.IsCorrect == nil || *mcqWrong.IsCorrect || *mcqWrong.MarksObtained != 0 {
		t.Fatalf("second mcq should be wrong with 0 marks: %+v", mcqWrong)
	}
	if written.IsCorrect != nil || *written.MarksObtained != 0 {
		t.Fatalf("written answer should be ungraded with 0 marks: %+v", written)
	}
	if written.CorrectAnswer == nil {
		t.Fatalf("completed detail should expose correct answers")
	}

	// 批改解答题给2分后总分变为3
	var writtenAnswerID string
	answers, err := env.session.SubRepo.ListAnswers(sub.ID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	for _, a := range answers {
		if a.QuestionID == qs[2].ID {
			writtenAnswerID = a.ID
		}
	}
	graded, err := env.grading.Grade(ctx, sub.ID, env.teacher.ID, false, GradeReq{
		Marks: map[string]int{writtenAnswerID: 2},
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.TotalMarks != 3 {
		t.Fatalf("expected total 3 after grading, got %d", graded.TotalMarks)
	}
}

func TestSubmitUploadsCameraAnswer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	if _, err := env.session.StartExam(ctx, env.student.ID, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	sub, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{
			qs[2].ID: {Image: dataURL},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	answers, err := env.session.SubRepo.ListAnswers(sub.ID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	var url string
	for _, a := range answers {
		if a.QuestionID == qs[2].ID {
			url = a.AnswerImageURL
		}
	}
	wantURL := fmt.Sprintf("/uploads/%s/%s/%s.jpg", util.BucketAnswerImages, sub.ID, qs[2].ID)
	if url != wantURL {
		t.Fatalf("expected %q, got %q", wantURL, url)
	}

	stored := filepath.Join(env.cfg.Storage.LocalPath, util.BucketAnswerImages, sub.ID, qs[2].ID+".jpg")
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("stored image missing: %v", err)
	}
}

func TestSubmitRejectsBadImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	if _, err := env.session.StartExam(ctx, env.student.ID, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{
			qs[2].ID: {Image: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("garbage"))},
		},
	})
	if !errors.Is(err, util.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}

	// 失败的交卷不落库，会话仍可重试
	reloaded, err := env.session.SubRepo.FindByExamAndStudent(exam.ID, env.student.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsSubmitted {
		t.Fatalf("failed submit must not finalize the session")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	if _, err := env.session.StartExam(ctx, env.student.ID, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{qs[0].ID: {Text: "4"}},
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{qs[0].ID: {Text: "2"}},
	})
	if !errors.Is(err, util.ErrExamAlreadySubmitted) {
		t.Fatalf("expected ErrExamAlreadySubmitted, got %v", err)
	}
}

func TestRemainingTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, _ := env.createPublishedExam(t, 8)

	sub, err := env.session.StartExam(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	detail, err := env.session.GetExamDetail(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", detail.Status)
	}
	// 8分钟 = 480秒，刚开始误差不超过2秒
	if detail.RemainingTime > 480 || detail.RemainingTime < 478 {
		t.Fatalf("expected ~480s remaining, got %d", detail.RemainingTime)
	}

	// 把开始时间拨回10分钟前，超时后读详情应立即按草稿收卷
	started := time.Now().Add(-10 * time.Minute)
	if err := env.db.Model(&model.Submission{}).Where("id = ?", sub.ID).
		Update("started_at", started).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	detail, err = env.session.GetExamDetail(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("detail after expiry: %v", err)
	}
	if detail.Status != "completed" {
		t.Fatalf("expired session should be finalized on read, got %s", detail.Status)
	}
	if detail.RemainingTime != 0 {
		t.Fatalf("expected 0 remaining, got %d", detail.RemainingTime)
	}

	final, err := env.session.SubRepo.FindByID(sub.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !final.IsTimeout {
		t.Fatalf("expired finalize should mark timeout")
	}
}

func TestSweeperFinalizesExpiredSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	sub, err := env.session.StartExam(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// 已记录的草稿在强制收卷时生效
	if err := env.session.SaveDraft(ctx, env.student.ID, exam.ID, AnswerDraft{
		qs[0].ID: {Text: "4"},
	}); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	started := time.Now().Add(-10 * time.Minute)
	if err := env.db.Model(&model.Submission{}).Where("id = ?", sub.ID).
		Update("started_at", started).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if err := env.session.ProcessExpiredSessions(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	final, err := env.session.SubRepo.FindByID(sub.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !final.IsSubmitted || !final.IsTimeout {
		t.Fatalf("sweeper should submit with timeout, got submitted=%v timeout=%v", final.IsSubmitted, final.IsTimeout)
	}
	if final.TotalMarks != 1 {
		t.Fatalf("draft answer should be graded, got total %d", final.TotalMarks)
	}

	// 已收卷的不再被重复处理
	if err := env.session.ProcessExpiredSessions(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
}

func TestAvailabilityWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	notYet, err := env.exams.CreateExam(env.teacher.ID, ExamReq{
		Title: strPtr("未开放"), Duration: intPtr(10), IsPublished: boolPtr(true), StartsAt: &future,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.session.StartExam(ctx, env.student.ID, notYet.ID); !errors.Is(err, util.ErrExamNotYetAvailable) {
		t.Fatalf("expected ErrExamNotYetAvailable, got %v", err)
	}

	closed, err := env.exams.CreateExam(env.teacher.ID, ExamReq{
		Title: strPtr("已截止"), Duration: intPtr(10), IsPublished: boolPtr(true), EndsAt: &past,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.session.StartExam(ctx, env.student.ID, closed.ID); !errors.Is(err, util.ErrExamNoLongerOpen) {
		t.Fatalf("expected ErrExamNoLongerOpen, got %v", err)
	}

	unpublished, err := env.exams.CreateExam(env.teacher.ID, ExamReq{
		Title: strPtr("草稿卷"), Duration: intPtr(10),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.session.StartExam(ctx, env.student.ID, unpublished.ID); !errors.Is(err, util.ErrExamNotPublished) {
		t.Fatalf("expected ErrExamNotPublished, got %v", err)
	}
}

func TestDraftRequiresStartedExam(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	err := env.session.SaveDraft(ctx, env.student.ID, exam.ID, AnswerDraft{qs[0].ID: {Text: "4"}})
	if !errors.Is(err, util.ErrExamNotStarted) {
		t.Fatalf("expected ErrExamNotStarted, got %v", err)
	}
}

func TestListAvailableExamsStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, qs := env.createPublishedExam(t, 8)

	rows, err := env.session.ListAvailableExams(env.student.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != "pending" {
		t.Fatalf("expected one pending exam, got %+v", rows)
	}

	if _, err := env.session.StartExam(ctx, env.student.ID, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	rows, _ = env.session.ListAvailableExams(env.student.ID)
	if rows[0].Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", rows[0].Status)
	}

	if _, err := env.session.SubmitExam(ctx, env.student.ID, exam.ID, SubmitReq{
		Answers: AnswerDraft{qs[0].ID: {Text: "4"}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rows, _ = env.session.ListAvailableExams(env.student.ID)
	if rows[0].Status != "completed" || rows[0].TotalMarks == nil || *rows[0].TotalMarks != 1 {
		t.Fatalf("expected completed with total 1, got %+v", rows[0])
	}
}

func TestInProgressDetailHidesAnswers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	exam, _ := env.createPublishedExam(t, 8)

	if _, err := env.session.StartExam(ctx, env.student.ID, exam.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	detail, err := env.session.GetExamDetail(ctx, env.student.ID, exam.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	for _, q := range detail.Questions {
		if q.CorrectAnswer != nil || q.Solution != nil {
			t.Fatalf("in-progress detail must not expose answers: %+v", q)
		}
	}
}
