package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 🧪 测试基础设施
// =============================================================================

// testClock 可推进的测试时钟。
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "memflow_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entryRecord{}, &edgeRecord{}))
	return db
}

func newTestMatcher(t *testing.T) ConceptMatcher {
	t.Helper()
	matcher, err := NewVocabMatcher(config.DefaultMatcherConfig())
	require.NoError(t, err)
	return matcher
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	db := openTestDB(t)
	engine := NewEngine(db, embedding.NewMockProvider(32), newTestMatcher(t), opts...)
	require.NoError(t, engine.LoadAll(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// failingEmbedder 总是失败的嵌入提供者。
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, types.NewError(types.ErrEmbeddingUnavailable, "provider down").WithRetryable(true)
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float64, error) {
	return nil, types.NewError(types.ErrEmbeddingUnavailable, "provider down").WithRetryable(true)
}

func (failingEmbedder) Name() string    { return "failing" }
func (failingEmbedder) Model() string   { return "failing" }
func (failingEmbedder) Dimensions() int { return 32 }

// =============================================================================
// 🧪 写入与召回
// =============================================================================

func TestEngine_StoreConversation_RoundTrip(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.StoreConversation(ctx, 1, "what is recursion?", "a function calling itself", []string{"search"})
	require.NoError(t, err)
	assert.Equal(t, "User: what is recursion?\nAI: a function calling itself", entry.Content)
	assert.NotZero(t, entry.ID)
	assert.NotEmpty(t, entry.Embedding)

	recalled, err := engine.RecallConversation(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, recalled, 1)

	assert.Equal(t, entry.Content, recalled[0].Content)
	meta, ok := recalled[0].Metadata.(types.ConversationMeta)
	require.True(t, ok)
	assert.Equal(t, "what is recursion?", meta.UserMessage)
	assert.Equal(t, "a function calling itself", meta.AIResponse)
	assert.Equal(t, []string{"search"}, meta.ToolsUsed)
}

func TestEngine_RecallConversation_NewestFirst(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	engine := newTestEngine(t, WithNow(clock.Now))
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		_, err := engine.StoreConversation(ctx, 1, msg, "reply", nil)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	recalled, err := engine.RecallConversation(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, recalled, 3)

	assert.Contains(t, recalled[0].Content, "third")
	assert.Contains(t, recalled[2].Content, "first")
	for i := 1; i < len(recalled); i++ {
		assert.False(t, recalled[i-1].Timestamp.Before(recalled[i].Timestamp))
	}
}

func TestEngine_StoreConversation_InvalidInput(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.StoreConversation(ctx, 1, "", "reply", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))

	_, err = engine.StoreConversation(ctx, 0, "hello", "reply", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestEngine_FailedEmbed_NothingPersisted(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	engine := NewEngine(db, failingEmbedder{}, newTestMatcher(t))
	require.NoError(t, engine.LoadAll(context.Background()))
	ctx := context.Background()

	_, err := engine.StoreConversation(ctx, 1, "hello", "reply", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrEmbeddingUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	var count int64
	require.NoError(t, db.Model(&entryRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEngine_StoreEpisodic_GraphSideEffects(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.StoreEpisodic(ctx, 1, "share_video", map[string]any{
		"youtube_link":  "https://youtu.be/abc123",
		"playlist_name": "python-basics",
		"status":        "ok",
	})
	require.NoError(t, err)

	related, err := engine.GetRelatedConcepts(ctx, 1, "share_video")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://youtu.be/abc123", "python-basics"}, related)

	neighbors, err := engine.graph.Neighbors(ctx, 1, "share_video")
	require.NoError(t, err)
	rels := make(map[string]string)
	for _, n := range neighbors {
		rels[n.Label] = n.Relationship
	}
	assert.Equal(t, "created_link", rels["https://youtu.be/abc123"])
	assert.Equal(t, "created_playlist", rels["python-basics"])
}

func TestEngine_RecallEpisodic_Filter(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.StoreEpisodic(ctx, 1, "youtube_search", map[string]any{"q": "recursion"})
	require.NoError(t, err)
	_, err = engine.StoreEpisodic(ctx, 1, "create_playlist", map[string]any{"playlist_name": "p1"})
	require.NoError(t, err)

	all, err := engine.RecallEpisodic(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := engine.RecallEpisodic(ctx, 1, "youtube")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Action: youtube_search", filtered[0].Content)
}

// =============================================================================
// 🧪 相似度搜索
// =============================================================================

func TestEngine_Search_SelfMatchRanksFirst(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.StoreConversation(ctx, 1, "explain recursion in python", "sure", nil)
	require.NoError(t, err)
	stored, err := engine.RecallConversation(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// 用与已存条目完全相同的内容查询
	results, err := engine.Search(ctx, 1, stored[0].Content, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, stored[0].ID, results[0].Entry.ID)
	assert.GreaterOrEqual(t, results[0].Similarity, 0.99)
}

func TestEngine_Search_SimilarityFloor(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	for _, msg := range []string{"python loops", "javascript arrays", "cooking pasta"} {
		_, err := engine.StoreConversation(ctx, 1, msg, "reply", nil)
		require.NoError(t, err)
	}

	results, err := engine.Search(ctx, 1, "completely unrelated query text", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.Greater(t, r.Similarity, 0.5)
	}
}

func TestEngine_Search_EmptyResultIsNotError(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	results, err := engine.Search(context.Background(), 42, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// =============================================================================
// 🧪 知识图谱
// =============================================================================

func TestEngine_StoreSemantic_Directionality(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.StoreSemantic(ctx, 1, "recursion", []string{"loops", "functions"})
	require.NoError(t, err)

	related, err := engine.GetRelatedConcepts(ctx, 1, "recursion")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"loops", "functions"}, related)

	// 单向边：loops 没有指回 recursion 的出边
	back, err := engine.GetRelatedConcepts(ctx, 1, "loops")
	require.NoError(t, err)
	assert.NotContains(t, back, "recursion")
}

func TestEngine_Link_Bidirectional(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Link(ctx, 1, "A", "B", "related_to"))

	fromA, err := engine.graph.Neighbors(ctx, 1, "A")
	require.NoError(t, err)
	require.Len(t, fromA, 1)
	assert.Equal(t, "B", fromA[0].Label)
	assert.Equal(t, "related_to", fromA[0].Relationship)

	fromB, err := engine.graph.Neighbors(ctx, 1, "B")
	require.NoError(t, err)
	require.Len(t, fromB, 1)
	assert.Equal(t, "A", fromB[0].Label)
	assert.Equal(t, "reverse_related_to", fromB[0].Relationship)
}

func TestEngine_GetRelatedConcepts_UnknownConcept(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	related, err := engine.GetRelatedConcepts(context.Background(), 1, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestEngine_CreateLearningPathGraph(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	resources := []string{
		"https://youtube.com/watch?v=x",
		"drive notes for day 5",
		"plain textbook chapter",
	}
	require.NoError(t, engine.CreateLearningPathGraph(ctx, 1, 5, "recursion", resources))

	fromDay, err := engine.graph.Neighbors(ctx, 1, "day_5")
	require.NoError(t, err)
	require.Len(t, fromDay, 1)
	assert.Equal(t, "recursion", fromDay[0].Label)
	assert.Equal(t, "teaches", fromDay[0].Relationship)

	fromConcept, err := engine.graph.Neighbors(ctx, 1, "recursion")
	require.NoError(t, err)

	rels := make(map[string]string)
	for _, n := range fromConcept {
		rels[n.Label] = n.Relationship
	}
	assert.Equal(t, "video_resource", rels["https://youtube.com/watch?v=x"])
	assert.Equal(t, "note_resource", rels["drive notes for day 5"])
	// 既不含视频也不含笔记 token 的资源被跳过
	assert.NotContains(t, rels, "plain textbook chapter")
	// reverse_teaches 边也存在
	assert.Equal(t, "reverse_teaches", rels["day_5"])
}

func TestEngine_LoadAll_Rehydration(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	first := NewEngine(db, embedding.NewMockProvider(16), newTestMatcher(t))
	require.NoError(t, first.LoadAll(ctx))
	require.NoError(t, first.Link(ctx, 1, "python", "loops", "related_to"))
	require.NoError(t, first.Close())

	// 同一数据库上的新引擎：LoadAll 之前镜像不可用
	second := NewEngine(db, embedding.NewMockProvider(16), newTestMatcher(t))
	_, err := second.GetRelatedConcepts(ctx, 1, "python")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotLoaded, types.GetErrorCode(err))

	require.NoError(t, second.LoadAll(ctx))
	related, err := second.GetRelatedConcepts(ctx, 1, "python")
	require.NoError(t, err)
	assert.Equal(t, []string{"loops"}, related)
}

func TestEngine_CrossUserIsolation_Concurrent(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for userID := int64(1); userID <= 2; userID++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				target := "loops"
				if uid == 2 {
					target = "generators"
				}
				assert.NoError(t, engine.addEdge(ctx, uid, "python", target, "related_to"))
			}
		}(userID)
	}
	wg.Wait()

	user1, err := engine.GetRelatedConcepts(ctx, 1, "python")
	require.NoError(t, err)
	user2, err := engine.GetRelatedConcepts(ctx, 2, "python")
	require.NoError(t, err)

	assert.NotContains(t, user1, "generators")
	assert.NotContains(t, user2, "loops")
	assert.Len(t, user1, 10)
	assert.Len(t, user2, 10)
}

// =============================================================================
// 🧪 情节便捷查询
// =============================================================================

func TestEngine_LastYouTubeLink(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	engine := newTestEngine(t, WithNow(clock.Now))
	ctx := context.Background()

	link, err := engine.LastYouTubeLink(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, link)

	_, err = engine.StoreEpisodic(ctx, 1, "youtube_search", map[string]any{"youtube_link": "https://youtu.be/old"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = engine.StoreEpisodic(ctx, 1, "youtube_search", map[string]any{"youtube_link": "https://youtu.be/new"})
	require.NoError(t, err)

	link, err = engine.LastYouTubeLink(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/new", link)
}

func TestEngine_UserPlaylists_Dedup(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"study-mix", "study-mix", "focus"} {
		_, err := engine.StoreEpisodic(ctx, 1, "create_playlist", map[string]any{"playlist_name": name})
		require.NoError(t, err)
	}

	playlists, err := engine.UserPlaylists(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"study-mix", "focus"}, playlists)
}

// =============================================================================
// 🧪 上下文融合
// =============================================================================

func TestEngine_GetContextualMemory(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.StoreConversation(ctx, 1, "teach me recursion", "ok", nil)
	require.NoError(t, err)
	require.NoError(t, engine.CreateLearningPathGraph(ctx, 1, 5, "recursion",
		[]string{"drive notes on recursion"}))
	for i := 0; i < 7; i++ {
		_, err = engine.StoreEpisodic(ctx, 1, "youtube_search", map[string]any{"q": "recursion"})
		require.NoError(t, err)
	}

	bundle, err := engine.GetContextualMemory(ctx, 1, "teach me recursion")
	require.NoError(t, err)

	assert.NotEmpty(t, bundle.SemanticMatches)
	assert.LessOrEqual(t, len(bundle.SemanticMatches), 5)
	assert.Len(t, bundle.RecentActions, 5)
	assert.Contains(t, bundle.GraphContext.RelatedNotes, "drive notes on recursion")
	assert.Contains(t, bundle.Summary, "semantic matches")
	assert.Contains(t, bundle.Summary, "related notes")
}

func TestEngine_GetContextualMemory_EmptyQuery(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	_, err := engine.GetContextualMemory(context.Background(), 1, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

// =============================================================================
// 🧪 引擎生命周期
// =============================================================================

func TestEngine_ClosedEngineRejectsOperations(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	ctx := context.Background()

	_, err := engine.StoreConversation(ctx, 1, "hello", "hi", nil)
	assert.Equal(t, types.ErrEngineClosed, types.GetErrorCode(err))

	_, err = engine.Search(ctx, 1, "hello", 5)
	assert.Equal(t, types.ErrEngineClosed, types.GetErrorCode(err))

	_, err = engine.Sweep(ctx, 1, 30)
	assert.Equal(t, types.ErrEngineClosed, types.GetErrorCode(err))
}

func TestEngine_ContextCancellationAbortsWrite(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	engine := NewEngine(db, embedding.NewMockProvider(16), newTestMatcher(t))
	require.NoError(t, engine.LoadAll(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.StoreConversation(ctx, 1, "hello", "hi", nil)
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&entryRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}
