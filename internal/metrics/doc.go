// Copyright (c) AgentNet Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
消息总线、熔断器、注册表与记忆存储四大维度。

此包为内部包，不应被外部项目导入。
*/
package metrics
