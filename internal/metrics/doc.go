/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
记忆引擎、嵌入、检索、清理、缓存与数据库六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 记忆引擎指标：操作总数、操作耗时、当前条目数，
    按 operation/memory_type/status 分组。
  - 嵌入指标：请求总数、请求耗时、Token 用量，
    按 provider/model 分组。
  - 检索指标：每次相似度检索返回的结果数、知识图谱边写入计数。
  - 清理指标：保留期清理次数、删除条目总数与清理耗时。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram，
    按 database/operation 分组。
*/
package metrics
