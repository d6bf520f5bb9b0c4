package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 🕸️ 知识图谱存储
// =============================================================================

// edgeRecord 是 knowledge_graph 表的 GORM 模型。
type edgeRecord struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       int64     `gorm:"column:user_id"`
	SourceNode   string    `gorm:"column:source_node"`
	TargetNode   string    `gorm:"column:target_node"`
	Relationship string    `gorm:"column:relationship"`
	Weight       float64   `gorm:"column:weight"`
	Timestamp    time.Time `gorm:"column:timestamp"`
}

func (edgeRecord) TableName() string { return "knowledge_graph" }

// GraphStore 每用户的有向概念多重图。
// 持久边日志是事实来源，内存邻接镜像是派生缓存：
// 进程启动时必须先 LoadAll 重建镜像，之后每次写入保持两者同步。
type GraphStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time

	mu sync.RWMutex
	// adjacency[userID][sourceLabel] = 出边邻居列表
	adjacency map[int64]map[string][]types.Neighbor
	loaded    bool
}

// NewGraphStore 创建知识图谱存储。调用方必须在接受流量前执行 LoadAll。
func NewGraphStore(db *gorm.DB, logger *zap.Logger) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphStore{
		db:        db,
		logger:    logger.With(zap.String("component", "knowledge_graph")),
		now:       time.Now,
		adjacency: make(map[int64]map[string][]types.Neighbor),
	}
}

// LoadAll 从持久边日志重建内存镜像。必须在引擎接受流量前调用一次。
func (g *GraphStore) LoadAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var records []edgeRecord
	if err := g.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return types.NewError(types.ErrStorage, "failed to load graph edges").
			WithCause(err).WithRetryable(true)
	}

	adjacency := make(map[int64]map[string][]types.Neighbor)
	for _, r := range records {
		userEdges, ok := adjacency[r.UserID]
		if !ok {
			userEdges = make(map[string][]types.Neighbor)
			adjacency[r.UserID] = userEdges
		}
		userEdges[r.SourceNode] = append(userEdges[r.SourceNode], types.Neighbor{
			Label:        r.TargetNode,
			Relationship: r.Relationship,
			Weight:       r.Weight,
		})
	}

	g.mu.Lock()
	g.adjacency = adjacency
	g.loaded = true
	g.mu.Unlock()

	g.logger.Info("knowledge graph rehydrated",
		zap.Int("edges", len(records)),
		zap.Int("users", len(adjacency)),
	)
	return nil
}

// AddEdge 插入一条有向边：先持久写，成功后在写锁内更新镜像。
// 读者要么看到插入前的状态，要么看到完整的边，不会看到半插入状态。
func (g *GraphStore) AddEdge(ctx context.Context, userID int64, source, target, relationship string, weight float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.requireLoaded(); err != nil {
		return err
	}
	if userID <= 0 {
		return types.NewError(types.ErrInvalidInput, "user id must be positive")
	}
	if source == "" || target == "" {
		return types.NewError(types.ErrInvalidInput, "source and target are required")
	}
	if relationship == "" {
		return types.NewError(types.ErrInvalidInput, "relationship is required")
	}
	if weight == 0 {
		weight = 1.0
	}

	record := edgeRecord{
		UserID:       userID,
		SourceNode:   source,
		TargetNode:   target,
		Relationship: relationship,
		Weight:       weight,
		Timestamp:    g.now(),
	}
	if err := g.db.WithContext(ctx).Create(&record).Error; err != nil {
		return types.NewError(types.ErrStorage, "failed to persist graph edge").
			WithCause(err).WithRetryable(true)
	}

	g.mu.Lock()
	userEdges, ok := g.adjacency[userID]
	if !ok {
		userEdges = make(map[string][]types.Neighbor)
		g.adjacency[userID] = userEdges
	}
	userEdges[source] = append(userEdges[source], types.Neighbor{
		Label:        target,
		Relationship: relationship,
		Weight:       weight,
	})
	g.mu.Unlock()

	g.logger.Debug("graph edge added",
		zap.Int64("user_id", userID),
		zap.String("source", source),
		zap.String("target", target),
		zap.String("relationship", relationship),
	)
	return nil
}

// Link 创建双向概念关联：a→b 带原始关系，b→a 带 reverse_ 前缀的逆关系。
func (g *GraphStore) Link(ctx context.Context, userID int64, a, b, relationship string) error {
	if err := g.AddEdge(ctx, userID, a, b, relationship, 1.0); err != nil {
		return err
	}
	return g.AddEdge(ctx, userID, b, a, "reverse_"+relationship, 1.0)
}

// Neighbors 返回概念的出边邻居副本。不存在的节点返回空集而非错误。
func (g *GraphStore) Neighbors(ctx context.Context, userID int64, concept string) ([]types.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.requireLoaded(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	userEdges, ok := g.adjacency[userID]
	if !ok {
		return nil, nil
	}
	neighbors, ok := userEdges[concept]
	if !ok {
		return nil, nil
	}

	// 返回副本，镜像不暴露给调用方
	out := make([]types.Neighbor, len(neighbors))
	copy(out, neighbors)
	return out, nil
}

// HasNode 判断概念是否作为源节点存在。
func (g *GraphStore) HasNode(userID int64, concept string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	userEdges, ok := g.adjacency[userID]
	if !ok {
		return false
	}
	_, ok = userEdges[concept]
	return ok
}

func (g *GraphStore) requireLoaded() error {
	g.mu.RLock()
	loaded := g.loaded
	g.mu.RUnlock()
	if !loaded {
		return types.NewError(types.ErrNotLoaded, "graph mirror not loaded, call LoadAll first")
	}
	return nil
}

// containsAny 判断 s 是否包含任一 token（小写比较）。
func containsAny(s string, tokens ...string) bool {
	lower := strings.ToLower(s)
	for _, token := range tokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
