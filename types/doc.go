// Copyright (c) AgentNet Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentNet 基座的全局共享类型定义。

# 概述

types 是基座最底层的公共包，不依赖任何内部包，为 hsp、registry、trust、
ham 等上层模块提供统一的类型契约。所有跨包共享的消息信封、载荷、枚举和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - Envelope                — HSP 消息信封（发送者、接收者、类型、载荷）
  - MessageType             — 密封的消息类型枚举（Fact、CapabilityAdvertisement 等）
  - FactPayload             — 事实载荷（陈述、置信度、标签）
  - CapabilityAdvertisement — 能力广告载荷
  - TaskRequest/TaskResult  — 任务请求/结果载荷
  - Acknowledgement         — 确认载荷
  - Error / ErrorCode       — 结构化错误体系，含 Retryable 标记

# 主要能力

  - 错误工具链：IsNetworkError / IsProtocolError / IsStorageError / IsCircuitOpen
  - 信封构建与类型化载荷解码：Envelope.FactPayload 等
  - 消息类型严格解析：ParseMessageType（未知类型返回 PROTOCOL_ERROR）
*/
package types
