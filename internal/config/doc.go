// Package config 提供 git-backup 的配置管理功能。
//
// 配置来源按优先级从高到低：命令行参数、GIT_BACKUP_* 环境变量、
// ~/.config/git-backup/config.yaml 配置文件、内置默认值。
// 配置文件包含 API 令牌，以 0600 权限写入。
package config
