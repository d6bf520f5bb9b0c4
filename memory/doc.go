/*
包 memory 实现智能体的长期记忆与上下文检索引擎：
按用户持久记录交互历史，为语义召回建立向量索引，
维护每用户的概念知识图谱，并按需融合为单个上下文检索包。

# 概述

引擎由若干正交组件组成：Entry Store 是追加式的条目日志，
每条记录在持久化前同步计算嵌入（全有或全无）；GraphStore 维护
持久边日志与内存邻接镜像，镜像在进程启动时由 LoadAll 重建；
VocabMatcher 按配置的词汇表与模式规则从自由文本提取概念；
Resolver 从提取的概念出发遍历图谱并把邻居分入语义桶；
相似度搜索对用户全部条目做余弦排序；GetContextualMemory
并发聚合三类检索结果；保留清理只删除超龄的对话条目。

# 核心类型

  - Engine：引擎入口，显式构造并注入嵌入提供者与匹配器，
    构造后必须先 LoadAll 才能接受流量。
  - EntryStore / GraphStore：两张持久表各自的存取层。
  - ConceptMatcher / VocabMatcher：可插拔的概念提取策略。
  - RetentionScheduler：后台周期清理，失败只记日志下轮重试。

# 并发模型

持久存储是事实来源，图谱镜像是派生缓存。镜像由读写锁保护，
持锁期间不做任何 I/O 或嵌入计算；同一用户的条目写入串行，
不同用户的读写互不阻塞；边插入先持久写再在写锁内更新镜像，
读者不会观察到半插入的边。

# 使用方式

	engine := memory.NewEngine(db, provider, matcher,
	    memory.WithLogger(logger))
	if err := engine.LoadAll(ctx); err != nil {
	    return err
	}
	bundle, err := engine.GetContextualMemory(ctx, userID, "recursion day 5")
*/
package memory
