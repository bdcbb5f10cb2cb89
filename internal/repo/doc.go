// Package repo 检查本地镜像目录中已同步的 Git 仓库，供 doctor 命令使用。
//
// 主要功能：
//   - ScanMirror: 扫描镜像根目录，找出其中的 Git 仓库
//   - CheckBranchReachability / CheckPermissions / CheckRemote: 单仓库健康检查
//   - CheckPerformance: 仓库体积与并发度预警
package repo
