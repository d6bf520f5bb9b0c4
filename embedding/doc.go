/*
包 embedding 提供统一的文本嵌入（Embedding）接口与实现，
用于将记忆条目内容转换为向量表示以支持语义检索。

# 概述

不同嵌入来源在 API 格式与可用性上存在差异。本包通过 Provider
接口屏蔽这些差异，使记忆引擎可以在不修改调用代码的前提下切换
底层嵌入来源。

# 核心接口

  - Provider：统一嵌入接口，定义 Embed、Name、Model、Dimensions 方法。
  - HTTPProvider：OpenAI 兼容端点实现，内置令牌桶限流与输入截断。
  - MockProvider：基于文本摘要的确定性实现，用于测试与离线运行。
  - CachedProvider：Redis 缓存装饰器，并发请求经 singleflight 合并。

# 主要能力

  - 失败语义：提供者失败返回 EMBEDDING_UNAVAILABLE 错误码，
    可重试标记区分 429/5xx 与 4xx。
  - 输入截断：以 tiktoken 统计输入长度，超出上限截断后再发送。
  - 限流：通过 golang.org/x/time/rate 控制每秒上游请求数。
  - 缓存：相同文本的向量按提供者与模型隔离缓存。

# 使用方式

	provider := embedding.NewHTTPProvider(cfg.Embedding, logger)
	vec, err := provider.Embed(ctx, "用户输入")
*/
package embedding
