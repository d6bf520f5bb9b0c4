package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/types"
)

// =============================================================================
// 📦 记忆条目存储
// =============================================================================

// entryRecord 是 memory_entries 表的 GORM 模型。
// 嵌入向量以 JSON 编码存放在 embedding_blob 列。
type entryRecord struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        int64     `gorm:"column:user_id"`
	Content       string    `gorm:"column:content"`
	MemoryType    string    `gorm:"column:memory_type"`
	MetadataJSON  string    `gorm:"column:metadata_json"`
	Timestamp     time.Time `gorm:"column:timestamp"`
	EmbeddingBlob []byte    `gorm:"column:embedding_blob"`
}

func (entryRecord) TableName() string { return "memory_entries" }

// EntryStore 追加式的记忆条目持久层。
// 嵌入在持久写之前同步计算：嵌入失败则什么都不落库。
// 同一用户的写入串行化，不同用户互不阻塞。
type EntryStore struct {
	db       *gorm.DB
	embedder embedding.Provider
	logger   *zap.Logger

	// Now 可注入，保留清理与时序测试依赖它
	now func() time.Time

	// 每用户一把写锁
	userMu sync.Map // int64 -> *sync.Mutex
}

// NewEntryStore 创建条目存储。
func NewEntryStore(db *gorm.DB, embedder embedding.Provider, logger *zap.Logger) *EntryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntryStore{
		db:       db,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "entry_store")),
		now:      time.Now,
	}
}

// lockUser 返回指定用户的写锁。
func (s *EntryStore) lockUser(userID int64) *sync.Mutex {
	mu, _ := s.userMu.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Append 计算嵌入后持久化一条记忆。嵌入或写入失败时不产生任何持久副作用。
func (s *EntryStore) Append(ctx context.Context, userID int64, content string, meta types.Metadata) (types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.MemoryEntry{}, err
	}
	if userID <= 0 {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "user id must be positive")
	}
	if content == "" {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "content is required")
	}
	if meta == nil {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "metadata is required")
	}
	memType := meta.MemoryType()
	if !memType.Valid() {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput,
			fmt.Sprintf("unknown memory type %q", memType))
	}

	// 嵌入先于持久写，且不持有任何锁
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return types.MemoryEntry{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.MemoryEntry{}, err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "failed to encode metadata").
			WithCause(err)
	}
	embJSON, err := json.Marshal(vector)
	if err != nil {
		return types.MemoryEntry{}, types.NewError(types.ErrInvalidInput, "failed to encode embedding").
			WithCause(err)
	}

	record := entryRecord{
		UserID:        userID,
		Content:       content,
		MemoryType:    string(memType),
		MetadataJSON:  string(metaJSON),
		Timestamp:     s.now(),
		EmbeddingBlob: embJSON,
	}

	mu := s.lockUser(userID)
	mu.Lock()
	err = s.db.WithContext(ctx).Create(&record).Error
	mu.Unlock()
	if err != nil {
		return types.MemoryEntry{}, types.NewError(types.ErrStorage, "failed to persist memory entry").
			WithCause(err).WithRetryable(true)
	}

	s.logger.Debug("memory entry stored",
		zap.Int64("user_id", userID),
		zap.String("memory_type", string(memType)),
		zap.Int64("entry_id", record.ID),
	)

	return types.MemoryEntry{
		ID:         record.ID,
		UserID:     userID,
		Content:    content,
		MemoryType: memType,
		Metadata:   meta,
		Timestamp:  record.Timestamp,
		Embedding:  vector,
	}, nil
}

// Recall 按类型召回条目，最新在前。filter 非空时按 content 子串过滤。
func (s *EntryStore) Recall(ctx context.Context, userID int64, memType types.MemoryType, limit int, filter string) ([]types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, types.NewError(types.ErrInvalidInput, "user id must be positive")
	}

	query := s.db.WithContext(ctx).
		Where("user_id = ? AND memory_type = ?", userID, string(memType))
	if filter != "" {
		query = query.Where("content LIKE ?", "%"+filter+"%")
	}

	var records []entryRecord
	if err := query.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to recall memory entries").
			WithCause(err).WithRetryable(true)
	}

	return decodeRecords(records)
}

// AllForUser 返回用户的全部条目，相似度搜索在其上计算。
func (s *EntryStore) AllForUser(ctx context.Context, userID int64) ([]types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []entryRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to load memory entries").
			WithCause(err).WithRetryable(true)
	}

	return decodeRecords(records)
}

// DeleteAgedConversations 删除早于 cutoff 的 conversation 条目，
// 返回删除数量。episodic 与 semantic 条目不受影响。
func (s *EntryStore) DeleteAgedConversations(ctx context.Context, userID int64, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	mu := s.lockUser(userID)
	mu.Lock()
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND memory_type = ? AND timestamp < ?",
			userID, string(types.MemoryConversation), cutoff).
		Delete(&entryRecord{})
	mu.Unlock()

	if result.Error != nil {
		return 0, types.NewError(types.ErrStorage, "failed to delete aged entries").
			WithCause(result.Error).WithRetryable(true)
	}
	return result.RowsAffected, nil
}

// ActiveUsers 返回持有 conversation 条目的用户列表，供后台清理遍历。
func (s *EntryStore) ActiveUsers(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var users []int64
	if err := s.db.WithContext(ctx).
		Model(&entryRecord{}).
		Where("memory_type = ?", string(types.MemoryConversation)).
		Distinct("user_id").
		Pluck("user_id", &users).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to list active users").
			WithCause(err).WithRetryable(true)
	}
	return users, nil
}

// decodeRecords 将数据库行还原为领域条目。
func decodeRecords(records []entryRecord) ([]types.MemoryEntry, error) {
	entries := make([]types.MemoryEntry, 0, len(records))
	for _, r := range records {
		memType := types.MemoryType(r.MemoryType)

		meta, err := types.DecodeMetadata(memType, []byte(r.MetadataJSON))
		if err != nil {
			return nil, err
		}

		var vector []float64
		if len(r.EmbeddingBlob) > 0 {
			if err := json.Unmarshal(r.EmbeddingBlob, &vector); err != nil {
				return nil, types.NewError(types.ErrStorage,
					fmt.Sprintf("corrupt embedding for entry %d", r.ID)).WithCause(err)
			}
		}

		entries = append(entries, types.MemoryEntry{
			ID:         r.ID,
			UserID:     r.UserID,
			Content:    r.Content,
			MemoryType: memType,
			Metadata:   meta,
			Timestamp:  r.Timestamp,
			Embedding:  vector,
		})
	}
	return entries, nil
}
