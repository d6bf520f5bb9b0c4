/*
包 database 提供记忆引擎持久层的连接池管理能力。

# 概述

PoolManager 封装 GORM 连接，负责连接池参数配置、周期性健康检查、
事务执行与可重试错误识别（死锁、SQLite 写锁争用、连接中断等）。
引擎的 Entry Store 与 Knowledge Graph Store 共享同一个池实例，
确保并发用户会话下的连接在任何退出路径（包括失败）上都被归还。
*/
package database
