package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 对象存储逻辑分桶：题目配图与学生答题图分开存放
const (
	BucketQuestionImages = "question-images"
	BucketAnswerImages   = "answer-images"
)

const (
	MimeImage = "image/"
	MimeJPEG  = "image/jpeg"
)
