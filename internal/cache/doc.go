/*
包 cache 提供基于 Redis 的嵌入向量缓存能力，支持连接池、
健康检查与 JSON 序列化。

# 概述

本包封装 go-redis 客户端，为嵌入层提供向量缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。
缓存键由提供者、模型与文本内容的 SHA-256 摘要构成，
不同模型产出的向量互不串用。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 GetVector/SetVector/Delete 等操作。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL
    与健康检查间隔等参数。

# 主要能力

  - 向量读写：以 JSON 编码存取 []float64 嵌入向量。
  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 优雅关闭：Close 方法安全释放底层 Redis 连接。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
