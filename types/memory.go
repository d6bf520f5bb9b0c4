package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemoryType 定义记忆条目的类别，决定保留策略与召回过滤。
type MemoryType string

const (
	// MemoryConversation 对话记忆：用户消息与智能体回复的拼接。
	// 唯一可被保留清理删除的类别。
	MemoryConversation MemoryType = "conversation"

	// MemoryEpisodic 情节记忆：过往动作及其结果。
	MemoryEpisodic MemoryType = "episodic"

	// MemorySemantic 语义记忆：概念及其声明的关联。
	MemorySemantic MemoryType = "semantic"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryConversation, MemoryEpisodic, MemorySemantic:
		return true
	}
	return false
}

// Metadata 是按 memory_type 区分的标签化元数据变体。
// 每个变体持有一组已知字段，外加开放的扩展映射，
// 序列化后落在 memory_entries.metadata_json 列。
type Metadata interface {
	MemoryType() MemoryType
}

// ConversationMeta 对话条目的元数据。
type ConversationMeta struct {
	UserMessage string         `json:"-"`
	AIResponse  string         `json:"-"`
	ToolsUsed   []string       `json:"-"`
	Extra       map[string]any `json:"-"`
}

// MemoryType implements Metadata.
func (ConversationMeta) MemoryType() MemoryType { return MemoryConversation }

// MarshalJSON flattens known fields and Extra into one object.
func (m ConversationMeta) MarshalJSON() ([]byte, error) {
	tools := m.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	out := make(map[string]any, 3+len(m.Extra))
	for k, v := range m.Extra {
		out[k] = v
	}
	out["user_message"] = m.UserMessage
	out["ai_response"] = m.AIResponse
	out["tools_used"] = tools
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys from the open remainder.
func (m *ConversationMeta) UnmarshalJSON(data []byte) error {
	raw := make(map[string]any)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["user_message"].(string); ok {
		m.UserMessage = v
	}
	if v, ok := raw["ai_response"].(string); ok {
		m.AIResponse = v
	}
	if v, ok := raw["tools_used"].([]any); ok {
		m.ToolsUsed = make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				m.ToolsUsed = append(m.ToolsUsed, s)
			}
		}
	}
	delete(raw, "user_message")
	delete(raw, "ai_response")
	delete(raw, "tools_used")
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// EpisodicMeta 情节条目的元数据：动作结果是完全开放的映射
// （动作标签本身存放在条目 content 中）。
type EpisodicMeta struct {
	Result map[string]any `json:"-"`
}

// MemoryType implements Metadata.
func (EpisodicMeta) MemoryType() MemoryType { return MemoryEpisodic }

// MarshalJSON stores the result map as-is.
func (m EpisodicMeta) MarshalJSON() ([]byte, error) {
	if m.Result == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.Result)
}

// UnmarshalJSON loads the whole object into Result.
func (m *EpisodicMeta) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &m.Result)
}

// SemanticMeta 语义条目的元数据（概念名存放在条目 content 中）。
type SemanticMeta struct {
	RelatedConcepts []string       `json:"-"`
	Extra           map[string]any `json:"-"`
}

// MemoryType implements Metadata.
func (SemanticMeta) MemoryType() MemoryType { return MemorySemantic }

// MarshalJSON flattens known fields and Extra into one object.
func (m SemanticMeta) MarshalJSON() ([]byte, error) {
	related := m.RelatedConcepts
	if related == nil {
		related = []string{}
	}
	out := make(map[string]any, 1+len(m.Extra))
	for k, v := range m.Extra {
		out[k] = v
	}
	out["related_concepts"] = related
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys from the open remainder.
func (m *SemanticMeta) UnmarshalJSON(data []byte) error {
	raw := make(map[string]any)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["related_concepts"].([]any); ok {
		m.RelatedConcepts = make([]string, 0, len(v))
		for _, c := range v {
			if s, ok := c.(string); ok {
				m.RelatedConcepts = append(m.RelatedConcepts, s)
			}
		}
	}
	delete(raw, "related_concepts")
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// DecodeMetadata 按条目类型解码 metadata_json 列的内容。
func DecodeMetadata(t MemoryType, data []byte) (Metadata, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch t {
	case MemoryConversation:
		var m ConversationMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode conversation metadata: %w", err)
		}
		return m, nil
	case MemoryEpisodic:
		var m EpisodicMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode episodic metadata: %w", err)
		}
		return m, nil
	case MemorySemantic:
		var m SemanticMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode semantic metadata: %w", err)
		}
		return m, nil
	default:
		return nil, NewError(ErrInvalidInput, fmt.Sprintf("unknown memory type %q", t))
	}
}

// MemoryEntry 一条不可变的记忆记录及其写入时计算的嵌入向量。
// 条目一经写入归 Entry Store 独占；唯一的删除路径是保留清理，
// 且仅作用于超龄的 conversation 条目。
type MemoryEntry struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Content    string     `json:"content"`
	MemoryType MemoryType `json:"memory_type"`
	Metadata   Metadata   `json:"metadata,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Embedding  []float64  `json:"embedding,omitempty"`
}

// GraphEdge 用户作用域内的有向概念关系边。
// 同一有序节点对之间允许多条不同 relationship 的边（多重图）。
// 边是持久的，保留清理永不触碰。
type GraphEdge struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Source       string    `json:"source_node"`
	Target       string    `json:"target_node"`
	Relationship string    `json:"relationship"`
	Weight       float64   `json:"weight"`
	Timestamp    time.Time `json:"timestamp"`
}

// Neighbor 图遍历返回的出边邻居。
type Neighbor struct {
	Label        string  `json:"label"`
	Relationship string  `json:"relationship"`
	Weight       float64 `json:"weight"`
}

// GraphContext 图上下文解析结果：邻居按语义桶分类。
type GraphContext struct {
	RelatedNotes        []string            `json:"related_notes"`
	RelatedVideos       []string            `json:"related_videos"`
	ConceptDependencies map[string][]string `json:"concept_dependencies"`
}

// SearchResult 相似度搜索的单条结果。
type SearchResult struct {
	Entry      MemoryEntry `json:"entry"`
	Similarity float64     `json:"similarity"`
}

// ContextBundle 上下文融合的检索包：相似度搜索、图上下文与
// 最近情节条目彼此独立计算后合并而成。
type ContextBundle struct {
	SemanticMatches []SearchResult `json:"semantic_matches"`
	GraphContext    GraphContext   `json:"graph_context"`
	RecentActions   []MemoryEntry  `json:"recent_actions"`
	Summary         string         `json:"summary"`
}
