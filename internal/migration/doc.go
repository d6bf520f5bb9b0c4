/*
包 migration 提供记忆引擎两张持久表的 Schema 迁移管理能力，
支持 SQLite、PostgreSQL 与 MySQL 三种数据库，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各数据库方言的 SQL 迁移文件，管理
memory_entries（记忆条目，含嵌入向量）与 knowledge_graph
（用户作用域的概念关系边）两张表的版本化变更。引擎启动时
必须先执行 Up，再进行图谱镜像的 LoadAll 重建。
*/
package migration
