package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// withTempHome 把 HOME 指向临时目录，并清空 GIT_BACKUP_* 环境变量。
func withTempHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"TOKEN", "PROVIDER", "DIRECTORY", "WORKERS", "BASE_URL"} {
		t.Setenv("GIT_BACKUP_"+key, "")
	}
	return home
}

// executeCommand 在完整命令树上执行 args，分别返回 stdout 和 stderr。
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	root.AddCommand(newSetCmd(), newDoctorCmd())

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func requireGitBinary(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available")
	}
}

// createRepoWithCommit 在 path 初始化仓库并提交一个文件，返回仓库路径。
func createRepoWithCommit(t *testing.T, path string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(path, 0o755))
	r, err := git.PlainInit(path, false)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("hello\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return path
}

// gitlabProject 是测试服务器返回的项目 JSON。
func gitlabProject(path, cloneURL string) string {
	return fmt.Sprintf(`{"path_with_namespace": %q, "ssh_url_to_repo": %q, "default_branch": "master"}`, path, cloneURL)
}

// newGitLabServer 模拟一个包含 org、org/sub 两级组的 GitLab 实例。
// org 下有 org/a、org/b，org/sub 下有 org/sub/c。
func newGitLabServer(t *testing.T, cloneURL func(path string) string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(newGitLabMux(cloneURL))
	t.Cleanup(srv.Close)
	return srv
}

// newGitLabMux 返回 newGitLabServer 使用的路由，测试可以在上面追加故障路径。
func newGitLabMux(cloneURL func(path string) string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/api/v4/groups/org", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id": 1, "full_path": "org"}`)
	})
	mux.HandleFunc("/api/v4/groups/1/subgroups", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id": 2, "full_path": "org/sub"}]`)
	})
	mux.HandleFunc("/api/v4/groups/2/subgroups", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/api/v4/groups/1/projects", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `[%s, %s]`, gitlabProject("org/a", cloneURL("org/a")), gitlabProject("org/b", cloneURL("org/b")))
	})
	mux.HandleFunc("/api/v4/groups/2/projects", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `[%s]`, gitlabProject("org/sub/c", cloneURL("org/sub/c")))
	})
	mux.HandleFunc("/api/v4/groups", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id": 1, "full_path": "org"}, {"id": 2, "full_path": "org/sub"}]`)
	})
	return mux
}
