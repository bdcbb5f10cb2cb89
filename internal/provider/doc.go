// Package provider 定义托管平台（GitHub、GitLab）的发现接口和数据模型。
//
// 主要内容：
//   - Repository / Group / Page: 发现阶段产生的只读数据
//   - Discovery: 解析器依赖的最小发现能力
//   - Client: 各平台共用的 HTTP 请求与 Link 分页实现
package provider
