// Copyright (c) AgentNet Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentNet 节点程序入口。

# 概述

cmd/agentnetd 是 AgentNet 通信基座的可执行入口。节点接入 HSP 消息
总线，维护代理注册表与信任评分，将入站事实写入加密记忆存储，并在
独立端口暴露 Prometheus 指标与健康检查。程序支持 YAML 配置文件加载、
环境变量覆盖以及结构化日志（zap）。

# 核心类型

  - Server — 节点装配器，按依赖顺序构建传输层、连接器、注册表、
    信任管理器、记忆存储与指标服务，并负责优雅关停

# 主要能力

  - 子命令：serve（启动节点）、version、health
  - 记忆加密密钥从配置指定的环境变量读取（密钥供给属外部职责）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）与 /health
  - 优雅关闭：信号监听 → 关闭连接器 → 停止后台环路 → 关闭传输层
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
