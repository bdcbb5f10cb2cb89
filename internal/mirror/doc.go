// Package mirror 负责把发现的仓库同步到本地镜像目录。
//
// 主要功能：
//   - Scheduler: 有界并发地克隆或更新仓库，按目录修改时间判断是否需要更新
//   - FindOrphans / HandleOrphans: 找出并报告或删除不再对应远端仓库的目录
package mirror
