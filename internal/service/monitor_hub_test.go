package service

import (
	"context"
	"encoding/json"
	"exam_portal_backend/pkg/logger"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newLocalHub(t *testing.T) *MonitorHub {
	t.Helper()
	logger.Log = zap.NewNop()
	hub := NewMonitorHub(nil)
	go hub.Run()
	return hub
}

func addWatcher(t *testing.T, hub *MonitorHub, examID string) *MonitorClient {
	t.Helper()
	client := &MonitorClient{
		Hub:    hub,
		Send:   make(chan []byte, 8),
		ExamID: examID,
	}
	hub.register <- client

	deadline := time.After(time.Second)
	for hub.WatcherCount(examID) == 0 {
		select {
		case <-deadline:
			t.Fatalf("watcher not registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	return client
}

func TestMonitorHubRoutesEventsByExam(t *testing.T) {
	hub := newLocalHub(t)
	defer hub.Stop()

	watcher := addWatcher(t, hub, "exam-1")
	other := addWatcher(t, hub, "exam-2")

	hub.Publish(context.Background(), ExamEvent{
		Type:         EventSubmitted,
		ExamID:       "exam-1",
		SubmissionID: "sub-1",
		StudentID:    42,
		TotalMarks:   3,
		At:           time.Now(),
	})

	select {
	case payload := <-watcher.Send:
		var ev ExamEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != EventSubmitted || ev.SubmissionID != "sub-1" || ev.StudentID != 42 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("watcher did not receive event")
	}

	select {
	case payload := <-other.Send:
		t.Fatalf("watcher of another exam received event: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorHubUnregisterClosesSend(t *testing.T) {
	hub := newLocalHub(t)
	defer hub.Stop()

	watcher := addWatcher(t, hub, "exam-1")
	hub.Unregister(watcher)

	select {
	case _, ok := <-watcher.Send:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("send channel not closed on unregister")
	}
	if hub.WatcherCount("exam-1") != 0 {
		t.Fatalf("watcher count should be 0")
	}
}

func TestMonitorHubUnregisterAfterStop(t *testing.T) {
	hub := newLocalHub(t)
	watcher := addWatcher(t, hub, "exam-1")
	hub.Stop()

	// Run 退出后摘除连接必须立即返回，不能卡在无人消费的通道上
	finished := make(chan struct{})
	go func() {
		hub.Unregister(watcher)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("unregister blocked after hub stop")
	}
}
