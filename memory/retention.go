package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 🧹 保留清理
// =============================================================================

// Sweep 删除用户早于 now - maxAgeDays 的 conversation 条目，
// 返回删除数量。episodic、semantic 条目与图谱边永不触碰。
// 幂等：同一截止时间重复执行不会删除新内容。
func (e *Engine) Sweep(ctx context.Context, userID int64, maxAgeDays int) (deleted int64, err error) {
	start := e.now()
	defer func() { e.observe("sweep", types.MemoryConversation, start, err) }()

	if err = e.checkOpen(); err != nil {
		return 0, err
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}

	cutoff := e.now().AddDate(0, 0, -maxAgeDays)
	deleted, err = e.store.DeleteAgedConversations(ctx, userID, cutoff)
	if err != nil {
		return 0, err
	}

	if e.collector != nil {
		e.collector.RecordRetentionSweep(deleted, time.Since(start))
	}
	if deleted > 0 {
		e.logger.Info("retention sweep completed",
			zap.Int64("user_id", userID),
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}

// RetentionScheduler 按固定周期对所有活跃用户执行保留清理。
// 单次失败只记录日志，下个周期重试，永不终止宿主进程。
type RetentionScheduler struct {
	engine     *Engine
	interval   time.Duration
	maxAgeDays int
	logger     *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRetentionScheduler 创建后台清理调度器。
func NewRetentionScheduler(engine *Engine, interval time.Duration, maxAgeDays int, logger *zap.Logger) *RetentionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	return &RetentionScheduler{
		engine:     engine,
		interval:   interval,
		maxAgeDays: maxAgeDays,
		logger:     logger.With(zap.String("component", "retention_scheduler")),
		stopCh:     make(chan struct{}),
	}
}

// Start 启动后台清理循环。
func (s *RetentionScheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("retention scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("max_age_days", s.maxAgeDays),
	)
}

// Stop 停止调度器并等待当前周期结束。
func (s *RetentionScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *RetentionScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepAll()
		}
	}
}

// sweepAll 对所有持有对话条目的用户执行一轮清理。
func (s *RetentionScheduler) sweepAll() {
	runID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	users, err := s.engine.store.ActiveUsers(ctx)
	if err != nil {
		s.logger.Error("retention sweep aborted, will retry next cycle",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return
	}

	var total int64
	for _, userID := range users {
		deleted, err := s.engine.Sweep(ctx, userID, s.maxAgeDays)
		if err != nil {
			s.logger.Error("retention sweep failed for user, will retry next cycle",
				zap.String("run_id", runID),
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		total += deleted
	}

	s.logger.Info("retention cycle finished",
		zap.String("run_id", runID),
		zap.Int("users", len(users)),
		zap.Int64("deleted", total),
	)
}
