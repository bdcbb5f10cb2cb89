// git-backup 将 GitHub 或 GitLab 上一个或多个命名空间下的全部仓库镜像到本地目录，并保持同步。
package main

import (
	"git-backup/cmd"
)

// main 是程序的入口函数，负责启动 CLI 命令执行。
func main() {
	cmd.Execute()
}
