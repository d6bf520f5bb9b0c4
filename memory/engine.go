package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 🧠 记忆引擎
// =============================================================================

// 默认召回与清理参数
const (
	defaultConversationLimit = 10
	defaultEpisodicLimit     = 20
	defaultSearchLimit       = 5
	defaultMaxAgeDays        = 30
)

// Engine 是智能体长期记忆与上下文检索引擎的入口。
// 显式构造、按引用传递，不持有任何进程级全局状态。
// 构造后必须先 LoadAll 重建图谱镜像，之后才能接受流量。
type Engine struct {
	store    *EntryStore
	graph    *GraphStore
	matcher  ConceptMatcher
	resolver *Resolver
	embedder embedding.Provider

	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	closed    atomic.Bool
}

// Option 配置引擎的可选参数。
type Option func(*Engine)

// WithLogger 注入日志器。
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics 注入指标收集器，nil 表示不记录指标。
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) { e.collector = collector }
}

// WithNow 注入时钟，时序相关测试依赖它。
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine 创建记忆引擎。嵌入提供者与匹配器在构造期注入，
// 之后不可更换。
func NewEngine(db *gorm.DB, embedder embedding.Provider, matcher ConceptMatcher, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		matcher:  matcher,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("memflow/memory"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With(zap.String("component", "memory_engine"))
	e.store = NewEntryStore(db, embedder, e.logger)
	e.graph = NewGraphStore(db, e.logger)
	e.resolver = NewResolver(e.graph, matcher, e.logger)

	e.store.now = e.now
	e.graph.now = e.now

	return e
}

// AutoMigrate 按 ORM 模型建表。生产部署走版本化迁移，
// 嵌入式场景与测试用它快速就绪。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&entryRecord{}, &edgeRecord{})
}

// LoadAll 从持久层重建知识图谱镜像。必须在接受流量前调用一次。
func (e *Engine) LoadAll(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.graph.LoadAll(ctx)
}

// Close 关闭引擎，后续操作返回 ENGINE_CLOSED。
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.logger.Info("memory engine closed")
	return nil
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return types.NewError(types.ErrEngineClosed, "memory engine is closed")
	}
	return nil
}

// observe 记录操作指标，收集器缺席时为空操作。
func (e *Engine) observe(op string, memType types.MemoryType, start time.Time, err error) {
	if e.collector == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.collector.RecordMemoryOperation(op, string(memType), status, time.Since(start))
}

// =============================================================================
// ✍️ 写入操作
// =============================================================================

// StoreConversation 记录一轮对话。条目内容是用户消息与回复的拼接，
// 元数据保留原始消息、回复与使用过的工具。
func (e *Engine) StoreConversation(ctx context.Context, userID int64, userMessage, aiResponse string, toolsUsed []string) (entry types.MemoryEntry, err error) {
	start := e.now()
	defer func() { e.observe("store_conversation", types.MemoryConversation, start, err) }()

	if err = e.checkOpen(); err != nil {
		return types.MemoryEntry{}, err
	}
	if userMessage == "" {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "user message is required")
	}

	ctx, span := e.tracer.Start(ctx, "memory.StoreConversation")
	defer span.End()

	content := fmt.Sprintf("User: %s\nAI: %s", userMessage, aiResponse)
	meta := types.ConversationMeta{
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		ToolsUsed:   toolsUsed,
	}
	return e.store.Append(ctx, userID, content, meta)
}

// StoreEpisodic 记录一次动作及其结果。结果中出现链接类键时，
// 同步在知识图谱中留下痕迹：youtube_link 产生 created_link 边，
// playlist_name 产生 created_playlist 边。
func (e *Engine) StoreEpisodic(ctx context.Context, userID int64, action string, result map[string]any) (entry types.MemoryEntry, err error) {
	start := e.now()
	defer func() { e.observe("store_episodic", types.MemoryEpisodic, start, err) }()

	if err = e.checkOpen(); err != nil {
		return types.MemoryEntry{}, err
	}
	if action == "" {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "action is required")
	}

	ctx, span := e.tracer.Start(ctx, "memory.StoreEpisodic")
	defer span.End()

	meta := types.EpisodicMeta{Result: result}
	entry, err = e.store.Append(ctx, userID, "Action: "+action, meta)
	if err != nil {
		return types.MemoryEntry{}, err
	}

	if link, ok := result["youtube_link"].(string); ok && link != "" {
		if err = e.addEdge(ctx, userID, action, link, "created_link"); err != nil {
			return entry, err
		}
	}
	if name, ok := result["playlist_name"].(string); ok && name != "" {
		if err = e.addEdge(ctx, userID, action, name, "created_playlist"); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

// StoreSemantic 声明一个概念及其关联概念，并为每个关联概念
// 创建单向的 related_to 边（不产生反向边）。
func (e *Engine) StoreSemantic(ctx context.Context, userID int64, concept string, relatedConcepts []string) (entry types.MemoryEntry, err error) {
	start := e.now()
	defer func() { e.observe("store_semantic", types.MemorySemantic, start, err) }()

	if err = e.checkOpen(); err != nil {
		return types.MemoryEntry{}, err
	}
	if concept == "" {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "concept is required")
	}

	ctx, span := e.tracer.Start(ctx, "memory.StoreSemantic")
	defer span.End()

	meta := types.SemanticMeta{RelatedConcepts: relatedConcepts}
	entry, err = e.store.Append(ctx, userID, concept, meta)
	if err != nil {
		return types.MemoryEntry{}, err
	}

	for _, related := range relatedConcepts {
		if err = e.addEdge(ctx, userID, concept, related, "related_to"); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

// Link 创建双向概念关联。
func (e *Engine) Link(ctx context.Context, userID int64, a, b, relationship string) error {
	start := e.now()
	var err error
	defer func() { e.observe("link", "", start, err) }()

	if err = e.checkOpen(); err != nil {
		return err
	}
	if relationship == "" {
		relationship = "related"
	}

	err = e.graph.Link(ctx, userID, a, b, relationship)
	if err == nil && e.collector != nil {
		e.collector.RecordGraphEdge(relationship)
		e.collector.RecordGraphEdge("reverse_" + relationship)
	}
	return err
}

// CreateLearningPathGraph 为一个学习日建立图结构：
// day_N 与概念之间的双向 teaches 关联，概念与每个资源之间按
// 资源文本启发式建立 video_resource 或 note_resource 双向关联，
// 两类 token 都不含的资源跳过。
func (e *Engine) CreateLearningPathGraph(ctx context.Context, userID int64, day int, concept string, resources []string) error {
	start := e.now()
	var err error
	defer func() { e.observe("create_learning_path", "", start, err) }()

	if err = e.checkOpen(); err != nil {
		return err
	}
	if concept == "" {
		return types.NewError(types.ErrInvalidInput, "concept is required")
	}

	dayNode := fmt.Sprintf("day_%d", day)
	if err = e.graph.Link(ctx, userID, dayNode, concept, "teaches"); err != nil {
		return err
	}

	for _, resource := range resources {
		switch {
		case containsAny(resource, "youtube", "video"):
			err = e.graph.Link(ctx, userID, concept, resource, "video_resource")
		case containsAny(resource, "notes", "drive"):
			err = e.graph.Link(ctx, userID, concept, resource, "note_resource")
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// addEdge 单向边写入加指标记录。
func (e *Engine) addEdge(ctx context.Context, userID int64, source, target, relationship string) error {
	if err := e.graph.AddEdge(ctx, userID, source, target, relationship, 1.0); err != nil {
		return err
	}
	if e.collector != nil {
		e.collector.RecordGraphEdge(relationship)
	}
	return nil
}

// =============================================================================
// 📖 读取操作
// =============================================================================

// RecallConversation 召回最近的对话条目，最新在前。limit 非正时取默认值 10。
func (e *Engine) RecallConversation(ctx context.Context, userID int64, limit int) (entries []types.MemoryEntry, err error) {
	start := e.now()
	defer func() { e.observe("recall_conversation", types.MemoryConversation, start, err) }()

	if err = e.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultConversationLimit
	}

	return e.store.Recall(ctx, userID, types.MemoryConversation, limit, "")
}

// RecallEpisodic 召回最近的动作条目，最新在前，最多 20 条。
// actionFilter 非空时按 content 子串过滤。
func (e *Engine) RecallEpisodic(ctx context.Context, userID int64, actionFilter string) (entries []types.MemoryEntry, err error) {
	start := e.now()
	defer func() { e.observe("recall_episodic", types.MemoryEpisodic, start, err) }()

	if err = e.checkOpen(); err != nil {
		return nil, err
	}

	return e.store.Recall(ctx, userID, types.MemoryEpisodic, defaultEpisodicLimit, actionFilter)
}

// Search 对用户全部条目做语义相似度搜索。limit 非正时取默认值 5。
// 空结果是合法输出而非错误。
func (e *Engine) Search(ctx context.Context, userID int64, query string, limit int) (results []types.SearchResult, err error) {
	start := e.now()
	defer func() { e.observe("search", "", start, err) }()

	if err = e.checkOpen(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, types.NewError(types.ErrInvalidInput, "query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	ctx, span := e.tracer.Start(ctx, "memory.Search")
	defer span.End()

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	entries, err := e.store.AllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	results = rankBySimilarity(queryVec, entries, limit)
	if e.collector != nil {
		e.collector.RecordSearchResults("semantic_search", len(results))
	}
	return results, nil
}

// GetRelatedConcepts 返回概念的出边邻居标签。未知概念返回空集。
func (e *Engine) GetRelatedConcepts(ctx context.Context, userID int64, concept string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	neighbors, err := e.graph.Neighbors(ctx, userID, concept)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		labels = append(labels, n.Label)
	}
	return labels, nil
}

// ResolveGraphContext 解析查询的图上下文。
func (e *Engine) ResolveGraphContext(ctx context.Context, userID int64, query string) (types.GraphContext, error) {
	if err := e.checkOpen(); err != nil {
		return types.GraphContext{}, err
	}
	return e.resolver.Resolve(ctx, userID, query)
}

// LastYouTubeLink 返回情节记忆中最近一次出现的 youtube_link，
// 不存在时返回空串而非错误。
func (e *Engine) LastYouTubeLink(ctx context.Context, userID int64) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}

	entries, err := e.store.Recall(ctx, userID, types.MemoryEpisodic, defaultEpisodicLimit, "youtube")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		meta, ok := entry.Metadata.(types.EpisodicMeta)
		if !ok {
			continue
		}
		if link, ok := meta.Result["youtube_link"].(string); ok && link != "" {
			return link, nil
		}
	}
	return "", nil
}

// UserPlaylists 返回用户创建过的播放列表名（去重）。
func (e *Engine) UserPlaylists(ctx context.Context, userID int64) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	entries, err := e.store.Recall(ctx, userID, types.MemoryEpisodic, defaultEpisodicLimit, "playlist")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	playlists := make([]string, 0)
	for _, entry := range entries {
		meta, ok := entry.Metadata.(types.EpisodicMeta)
		if !ok {
			continue
		}
		name, ok := meta.Result["playlist_name"].(string)
		if !ok || name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		playlists = append(playlists, name)
	}
	return playlists, nil
}
