package memory

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 🧭 图上下文解析器
// =============================================================================

// Resolver 从查询文本出发遍历知识图谱，把邻居按语义桶分类。
type Resolver struct {
	graph   *GraphStore
	matcher ConceptMatcher
	logger  *zap.Logger
}

// NewResolver 创建图上下文解析器。
func NewResolver(graph *GraphStore, matcher ConceptMatcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		graph:   graph,
		matcher: matcher,
		logger:  logger.With(zap.String("component", "graph_resolver")),
	}
}

// Resolve 提取查询中的概念并枚举其出边邻居，按三条有序规则分类：
// 关系或邻居标签含笔记/日程类 token 归入 related_notes，
// 否则含视频类 token 归入 related_videos，
// 否则关系含依赖类 token 归入 concept_dependencies[concept]。
// 没有对应节点的概念不产生贡献，也不是错误。
func (r *Resolver) Resolve(ctx context.Context, userID int64, query string) (types.GraphContext, error) {
	result := types.GraphContext{
		RelatedNotes:        []string{},
		RelatedVideos:       []string{},
		ConceptDependencies: map[string][]string{},
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	concepts := r.matcher.ExtractConcepts(query)
	for _, concept := range concepts {
		neighbors, err := r.graph.Neighbors(ctx, userID, concept)
		if err != nil {
			return result, err
		}

		for _, n := range neighbors {
			switch {
			case containsAny(n.Relationship, "note") || containsAny(n.Label, "day"):
				result.RelatedNotes = append(result.RelatedNotes, n.Label)
			case containsAny(n.Relationship, "video") || containsAny(n.Label, "youtube"):
				result.RelatedVideos = append(result.RelatedVideos, n.Label)
			case containsAny(n.Relationship, "depends"):
				result.ConceptDependencies[concept] = append(result.ConceptDependencies[concept], n.Label)
			}
		}
	}

	r.logger.Debug("graph context resolved",
		zap.Int64("user_id", userID),
		zap.Int("concepts", len(concepts)),
		zap.Int("notes", len(result.RelatedNotes)),
		zap.Int("videos", len(result.RelatedVideos)),
	)
	return result, nil
}
