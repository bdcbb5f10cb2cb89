// Package discovery 将根路径解析为待同步的仓库列表。
//
// 主要功能：
//   - Resolver: 依次尝试项目、用户、组三种解析方式，组内按广度优先遍历子组
//   - Filter: 按路径前缀、归档状态、fork 状态过滤仓库
//   - AllGroups: 枚举当前令牌可见的全部顶级组
package discovery
