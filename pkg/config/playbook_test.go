package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaybookYAML = `
plays:
  - name: deploy web
    hosts: web
    vars:
      env: prod
    vars_files:
      - "${ansible_os_family}.yml"
    tasks:
      - name: gather nothing special
        module_name: command
        module_args: "echo hi"
        notify:
          - restart nginx
    handlers:
      - name: restart nginx
        module_name: command
        module_args: "systemctl restart nginx"
`

func writeTempPlaybook(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeTempPlaybook(t, "site.yml", samplePlaybookYAML)

	pb, err := Load(path)
	require.NoError(t, err)
	require.Len(t, pb.Plays, 1)

	play := pb.Plays[0]
	assert.Equal(t, "deploy web", play.Name)
	assert.Equal(t, "web", play.Hosts)
	require.Len(t, play.Tasks, 1)
	assert.Equal(t, "command", play.Tasks[0].ModuleName)
	assert.Same(t, &pb.Plays[0], play.Tasks[0].Play)

	require.Len(t, play.Handlers, 1)
	assert.Equal(t, "restart nginx", play.Handlers[0].Name)
	assert.NotNil(t, play.Handlers[0].NotifiedBy)
	assert.Empty(t, play.Handlers[0].NotifiedBy)
}

func TestLoad_UndefinedHandlerNotifyIsFatal(t *testing.T) {
	const bad = `
plays:
  - name: broken
    hosts: all
    tasks:
      - name: t1
        module_name: command
        module_args: "true"
        notify:
          - does not exist
`
	path := writeTempPlaybook(t, "bad.yml", bad)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined handler")
}

func TestLoad_MissingModuleNameIsFatal(t *testing.T) {
	const bad = `
plays:
  - name: broken
    hosts: all
    tasks:
      - name: t1
`
	path := writeTempPlaybook(t, "bad.yml", bad)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module_name is required")
}

func TestLoad_DuplicateHandlerNameIsFatal(t *testing.T) {
	const bad = `
plays:
  - name: broken
    hosts: all
    tasks:
      - name: t1
        module_name: command
        module_args: "true"
    handlers:
      - name: dup
        module_name: command
        module_args: "true"
      - name: dup
        module_name: command
        module_args: "true"
`
	path := writeTempPlaybook(t, "bad.yml", bad)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler name")
}

func TestLoad_UnreadableFile(t *testing.T) {
	_, err := Load("/no/such/playbook.yml")
	require.Error(t, err)
}

func TestHandler_AsTask(t *testing.T) {
	path := writeTempPlaybook(t, "site.yml", samplePlaybookYAML)
	pb, err := Load(path)
	require.NoError(t, err)

	h := pb.Plays[0].Handlers[0]
	tsk := h.AsTask()
	assert.Equal(t, h.Name, tsk.Name)
	assert.Equal(t, h.ModuleName, tsk.ModuleName)
	assert.Equal(t, h.ModuleArgs, tsk.ModuleArgs)
}

func TestCopyTasks_IsIndependentOfOriginal(t *testing.T) {
	tasks := []Task{{Name: "t1", ModuleVars: map[string]any{"k": "v"}}}
	cp := CopyTasks(tasks)
	cp[0].ModuleVars["k"] = "changed"
	assert.Equal(t, "v", tasks[0].ModuleVars["k"])
}

type stubSecretsProvider map[string]string

func (s stubSecretsProvider) Get(key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", fmt.Errorf("no such secret %q", key)
	}
	return v, nil
}

func TestLoadSecrets_ResolvesIntoModuleVars(t *testing.T) {
	pb := &PlayBook{Plays: []Play{{
		Name:  "deploy",
		Hosts: "web",
		Tasks: []Task{{Name: "t1", ModuleName: "command", ModuleArgs: "echo ${api_key}", Secrets: []string{"api_key"}}},
	}}}

	require.NoError(t, pb.LoadSecrets(stubSecretsProvider{"api_key": "s3cr3t"}))
	assert.Equal(t, "s3cr3t", pb.Plays[0].Tasks[0].ModuleVars["api_key"])
	assert.Contains(t, pb.AllSecretValues(), "s3cr3t")
}

func TestLoadSecrets_MissingProviderIsFatalWhenSecretsReferenced(t *testing.T) {
	pb := &PlayBook{Plays: []Play{{
		Name:  "deploy",
		Hosts: "web",
		Tasks: []Task{{Name: "t1", ModuleName: "command", Secrets: []string{"api_key"}}},
	}}}
	require.Error(t, pb.LoadSecrets(nil))
}

func TestLoadSecrets_NoSecretsNoProviderIsFine(t *testing.T) {
	pb := &PlayBook{Plays: []Play{{Name: "deploy", Hosts: "web"}}}
	require.NoError(t, pb.LoadSecrets(nil))
}
