package util

import "errors"

var (
	ErrUserNotFound         = errors.New("用户不存在")
	ErrEmailRegistered      = errors.New("该邮箱已被注册")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrExamNotFound         = errors.New("exam not found")
	ErrExamNotPublished     = errors.New("exam not published or not accessible")
	ErrExamNotYetAvailable  = errors.New("exam not yet available")
	ErrExamNoLongerOpen     = errors.New("exam no longer open")
	ErrExamNotStarted       = errors.New("exam not started")
	ErrExamAlreadySubmitted = errors.New("exam already submitted")
	ErrExamNotSubmitted     = errors.New("exam not submitted yet")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrAnswerNotFound       = errors.New("answer not found")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrImageDecode          = errors.New("unable to decode answer image")
)
