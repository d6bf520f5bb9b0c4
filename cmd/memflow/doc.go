/*
Package main 提供 MemFlow 服务端程序入口。

# 概述

cmd/memflow 是 MemFlow 记忆引擎的可执行入口，提供记忆引擎服务、
数据库迁移和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 遥测。

# 主要能力

 1. serve: 装配数据库连接池、嵌入提供者（含可选 Redis 结果缓存）、
    概念匹配器与记忆引擎，启动保留策略调度与指标端点，
    并在收到 SIGINT/SIGTERM 时按依赖顺序优雅关闭。
 2. migrate: 基于 golang-migrate 的版本化数据库迁移，
    支持 up / down / status / version 子命令。
 3. version: 打印构建时注入的版本、构建时间与提交哈希。
*/
package main
