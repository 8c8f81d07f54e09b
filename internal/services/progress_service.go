// internal/services/progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// 任务状态
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`            // pipeline / generation
	Stage    string `json:"stage,omitempty"` // parsed / cleaned / masked / generating
	Progress int    `json:"progress"`        // 进度百分比 (0-100)
	Message  string `json:"message"`         // 描述性消息
	Status   string `json:"status"`          // 状态：running, completed, failed
}

// ProgressListener 接收所有任务的进度更新（例如 websocket 广播）
type ProgressListener func(update ProgressUpdate)

// ProgressTracker 跟踪长时间运行任务的进度
type ProgressTracker struct {
	TaskID      string
	Kind        string
	Stage       string
	Progress    int
	Message     string
	Status      string
	StartTime   time.Time
	UpdateTime  time.Time
	Subscribers map[chan ProgressUpdate]bool
	Done        chan struct{}

	finished bool
	listener ProgressListener
	mutex    sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	listener ProgressListener
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// SetListener 设置全局进度监听器，对之后创建的跟踪器生效
func (s *ProgressService) SetListener(listener ProgressListener) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.listener = listener
}

// CreateTracker 创建新的进度跟踪器
func (s *ProgressService) CreateTracker(taskID, kind string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// 如果已存在，返回现有追踪器
	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	now := time.Now()
	tracker := &ProgressTracker{
		TaskID:      taskID,
		Kind:        kind,
		Message:     "任务初始化中...",
		Status:      StatusRunning,
		StartTime:   now,
		UpdateTime:  now,
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
		listener:    s.listener,
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// CleanupCompletedTasks 清理已完成的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isOld := tracker.finished && now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isOld {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}

// Snapshot 当前状态
func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.snapshotLocked()
}

func (t *ProgressTracker) snapshotLocked() ProgressUpdate {
	return ProgressUpdate{
		TaskID:   t.TaskID,
		Kind:     t.Kind,
		Stage:    t.Stage,
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
	}
}

// UpdateProgress 更新任务进度，进度只增不减
func (t *ProgressTracker) UpdateProgress(progress int, message string) {
	t.update("", progress, message)
}

// UpdateStage 进入新阶段并更新进度
func (t *ProgressTracker) UpdateStage(stage string, progress int, message string) {
	t.update(stage, progress, message)
}

func (t *ProgressTracker) update(stage string, progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	if stage != "" {
		t.Stage = stage
	}
	if progress > t.Progress {
		t.Progress = min(progress, 99)
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()
	t.notifyLocked()
}

// Complete 标记任务完成；重复调用无效
func (t *ProgressTracker) Complete(message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	t.Progress = 100
	if message != "" {
		t.Message = message
	} else {
		t.Message = "任务已完成"
	}
	t.Status = StatusCompleted
	t.finish()
}

// Fail 标记任务失败；重复调用无效
func (t *ProgressTracker) Fail(errorMsg string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	t.Message = fmt.Sprintf("任务失败: %s", errorMsg)
	t.Status = StatusFailed
	t.finish()
}

func (t *ProgressTracker) finish() {
	t.UpdateTime = time.Now()
	t.finished = true
	t.notifyLocked()
	close(t.Done)
}

// notifyLocked 通知订阅者与监听器，非阻塞发送，通道已满则跳过
func (t *ProgressTracker) notifyLocked() {
	update := t.snapshotLocked()
	for subscriber := range t.Subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
	if t.listener != nil {
		t.listener(update)
	}
}

// Subscribe 订阅进度更新，立即收到当前状态
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true
	subscriber <- t.snapshotLocked()
	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.Subscribers[subscriber]; !ok {
		return
	}
	delete(t.Subscribers, subscriber)
	close(subscriber)
}

// IsFinished 任务是否已结束
func (t *ProgressTracker) IsFinished() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.finished
}
