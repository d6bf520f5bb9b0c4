package memory

import (
	"math"
	"sort"

	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 📐 相似度搜索
// =============================================================================

// similarityFloor 相关性阈值，相似度必须严格大于它才进入结果。
const similarityFloor = 0.5

// CosineSimilarity 计算两个向量的余弦相似度，范围 [-1, 1]。
// 维度不一致或任一向量为零向量时返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankBySimilarity 对条目按查询向量的余弦相似度排序：
// 过滤掉相似度 ≤ 0.5 的条目，相似度降序，同分按时间新者在前，
// 截断到 limit。空结果是合法输出而非错误。
func rankBySimilarity(queryVec []float64, entries []types.MemoryEntry, limit int) []types.SearchResult {
	results := make([]types.SearchResult, 0, len(entries))
	for _, entry := range entries {
		similarity := CosineSimilarity(queryVec, entry.Embedding)
		if similarity > similarityFloor {
			results = append(results, types.SearchResult{Entry: entry, Similarity: similarity})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if !results[i].Entry.Timestamp.Equal(results[j].Entry.Timestamp) {
			return results[i].Entry.Timestamp.After(results[j].Entry.Timestamp)
		}
		return results[i].Entry.ID > results[j].Entry.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
