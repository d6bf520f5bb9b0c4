package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 🔗 上下文融合
// =============================================================================

// recentActionLimit 融合结果中携带的最近动作条数。
const recentActionLimit = 5

// GetContextualMemory 是引擎的顶层读取 API：
// 相似度搜索（前 5）、图上下文解析与最近 5 条动作彼此独立，
// 并发计算后合并为一个检索包。summary 只是派生描述，不携带新数据。
func (e *Engine) GetContextualMemory(ctx context.Context, userID int64, query string) (bundle types.ContextBundle, err error) {
	start := e.now()
	defer func() { e.observe("contextual_memory", "", start, err) }()

	if err = e.checkOpen(); err != nil {
		return types.ContextBundle{}, err
	}
	if query == "" {
		return types.ContextBundle{}, types.NewError(types.ErrInvalidInput, "query is required")
	}

	ctx, span := e.tracer.Start(ctx, "memory.GetContextualMemory")
	defer span.End()

	requestID := uuid.NewString()

	var (
		matches []types.SearchResult
		graph   types.GraphContext
		actions []types.MemoryEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var gerr error
		matches, gerr = e.Search(gctx, userID, query, defaultSearchLimit)
		return gerr
	})
	g.Go(func() error {
		var gerr error
		graph, gerr = e.resolver.Resolve(gctx, userID, query)
		return gerr
	})
	g.Go(func() error {
		entries, gerr := e.store.Recall(gctx, userID, types.MemoryEpisodic, recentActionLimit, "")
		if gerr != nil {
			return gerr
		}
		actions = entries
		return nil
	})

	if err = g.Wait(); err != nil {
		e.logger.Warn("contextual fusion failed",
			zap.String("request_id", requestID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return types.ContextBundle{}, err
	}

	bundle = types.ContextBundle{
		SemanticMatches: matches,
		GraphContext:    graph,
		RecentActions:   actions,
		Summary: fmt.Sprintf("Found %d semantic matches, %d related notes",
			len(matches), len(graph.RelatedNotes)),
	}

	e.logger.Debug("contextual memory assembled",
		zap.String("request_id", requestID),
		zap.Int64("user_id", userID),
		zap.Int("semantic_matches", len(matches)),
		zap.Int("recent_actions", len(actions)),
	)
	return bundle, nil
}
