package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DraftEntry 单题的作答草稿：选择题存文本，解答题存图片 data URL
type DraftEntry struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// AnswerDraft questionID -> 草稿内容
type AnswerDraft map[string]DraftEntry

// DraftStore 以作答记录 ID 为键的写穿式草稿缓存。
// 学生每次改动答案后整体写入，刷新/换设备后读回恢复；只在成功交卷时清除。
// 库里的 Answer 行才是权威数据，草稿只是恢复机制。
type DraftStore interface {
	Get(ctx context.Context, submissionID string) (AnswerDraft, error)
	Set(ctx context.Context, submissionID string, draft AnswerDraft, ttl time.Duration) error
	Delete(ctx context.Context, submissionID string) error
}

const draftKeyPrefix = "exam:draft:"

type RedisDraftStore struct {
	rdb *redis.Client
}

func NewRedisDraftStore(rdb *redis.Client) *RedisDraftStore {
	return &RedisDraftStore{rdb: rdb}
}

func (s *RedisDraftStore) Get(ctx context.Context, submissionID string) (AnswerDraft, error) {
	data, err := s.rdb.Get(ctx, draftKeyPrefix+submissionID).Bytes()
	if err == redis.Nil {
		return AnswerDraft{}, nil
	}
	if err != nil {
		return nil, err
	}

	var draft AnswerDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		// 损坏的草稿当作为空，不阻塞考试
		return AnswerDraft{}, nil
	}
	return draft, nil
}

func (s *RedisDraftStore) Set(ctx context.Context, submissionID string, draft AnswerDraft, ttl time.Duration) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, draftKeyPrefix+submissionID, data, ttl).Err()
}

func (s *RedisDraftStore) Delete(ctx context.Context, submissionID string) error {
	return s.rdb.Del(ctx, draftKeyPrefix+submissionID).Err()
}

// MemoryDraftStore 进程内实现，Redis 关闭时使用（单实例部署），测试也用它
type MemoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[string][]byte
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[string][]byte)}
}

func (s *MemoryDraftStore) Get(ctx context.Context, submissionID string) (AnswerDraft, error) {
	s.mu.RLock()
	data, ok := s.drafts[submissionID]
	s.mu.RUnlock()
	if !ok {
		return AnswerDraft{}, nil
	}

	var draft AnswerDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		return AnswerDraft{}, nil
	}
	return draft, nil
}

func (s *MemoryDraftStore) Set(ctx context.Context, submissionID string, draft AnswerDraft, ttl time.Duration) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.drafts[submissionID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryDraftStore) Delete(ctx context.Context, submissionID string) error {
	s.mu.Lock()
	delete(s.drafts, submissionID)
	s.mu.Unlock()
	return nil
}
