/*
包 config 提供 MemFlow 记忆引擎的统一配置加载能力。

# 概述

配置来源按优先级依次为：代码内默认值、YAML 配置文件、环境变量。
环境变量使用 MEMFLOW_ 前缀并按结构层级拼接，例如
MEMFLOW_DATABASE_DRIVER、MEMFLOW_EMBEDDING_API_KEY。

# 配置段

  - Database  持久层（sqlite/postgres/mysql）与连接池参数
  - Embedding 嵌入提供者（openai 兼容端点或 mock）
  - Cache     嵌入结果的 Redis 缓存
  - Matcher   概念匹配器的词汇表与模式规则
  - Retention 对话记忆保留策略与后台清理周期
  - Metrics   Prometheus 指标暴露
  - Log       zap 日志
  - Telemetry OpenTelemetry 导出

# 使用示例

	cfg, err := config.NewLoader().
	    WithConfigPath("memflow.yaml").
	    Load()
*/
package config
