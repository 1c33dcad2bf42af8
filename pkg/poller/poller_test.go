package poller

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/umputun/fleetplay/pkg/executor"
	"github.com/umputun/fleetplay/pkg/runner"
)

func startTestContainer(t *testing.T) (hostAndPort string, teardown func()) {
	t.Helper()
	ctx := context.Background()
	pubKey, err := os.ReadFile("testdata/test_ssh_key.pub")
	require.NoError(t, err)

	req := testcontainers.ContainerRequest{
		AlwaysPullImage: true,
		Image:           "lscr.io/linuxserver/openssh-server:latest",
		ExposedPorts:    []string{"2222/tcp"},
		WaitingFor:      wait.NewLogStrategy("done.").WithStartupTimeout(time.Second * 60),
		Files: []testcontainers.ContainerFile{
			{HostFilePath: "testdata/test_ssh_key.pub", ContainerFilePath: "/authorized_key"},
		},
		Env: map[string]string{
			"PUBLIC_KEY": string(pubKey),
			"USER_NAME":  "test",
			"TZ":         "Etc/UTC",
		},
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "2222")
	require.NoError(t, err)

	return host + ":" + port.Port(), func() { _ = container.Terminate(ctx) }
}

func hostFromAddr(t *testing.T, name, hostAndPort string) runner.Host {
	t.Helper()
	addr, portStr, err := net.SplitHostPort(hostAndPort)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return runner.Host{Name: name, Addr: addr, Port: port, User: "test"}
}

func TestPoller_Wait_JobFinishesBeforeDeadline(t *testing.T) {
	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	logs := executor.MakeLogs(false, true, nil)
	conn, err := executor.NewConnector("testdata/test_ssh_key", time.Second*10, logs)
	require.NoError(t, err)

	r := runner.New(runner.Config{
		Hosts:      []runner.Host{hostFromAddr(t, "h1", hostAndPort)},
		ModuleName: "command",
		ModuleArgs: "sleep 1 && echo done",
		Forks:      1,
		Connector:  conn,
	})

	ctx := context.Background()
	initial, handle, err := r.RunAsync(ctx, 30)
	require.NoError(t, err)
	require.Contains(t, initial.Contacted, "h1")

	res := New(handle).Wait(ctx, 30, 1)
	require.Contains(t, res.Contacted, "h1")
	assert.False(t, res.Contacted["h1"].Failed)
	assert.Contains(t, res.Contacted["h1"].Msg, "done")
}

func TestPoller_Wait_TimesOutStillRunningJob(t *testing.T) {
	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	logs := executor.MakeLogs(false, true, nil)
	conn, err := executor.NewConnector("testdata/test_ssh_key", time.Second*10, logs)
	require.NoError(t, err)

	r := runner.New(runner.Config{
		Hosts:      []runner.Host{hostFromAddr(t, "h1", hostAndPort)},
		ModuleName: "command",
		ModuleArgs: "sleep 30 && echo done",
		Forks:      1,
		Connector:  conn,
	})

	ctx := context.Background()
	_, handle, err := r.RunAsync(ctx, 2)
	require.NoError(t, err)

	res := New(handle).Wait(ctx, 2, 1)
	require.Contains(t, res.Contacted, "h1")
	assert.True(t, res.Contacted["h1"].Failed)
	assert.Equal(t, "timed out", res.Contacted["h1"].Msg)
}

func TestPoller_HostsToPoll(t *testing.T) {
	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	logs := executor.MakeLogs(false, true, nil)
	conn, err := executor.NewConnector("testdata/test_ssh_key", time.Second*10, logs)
	require.NoError(t, err)

	r := runner.New(runner.Config{
		Hosts:      []runner.Host{hostFromAddr(t, "h1", hostAndPort)},
		ModuleName: "command",
		ModuleArgs: "echo done",
		Forks:      1,
		Connector:  conn,
	})

	ctx := context.Background()
	_, handle, err := r.RunAsync(ctx, 10)
	require.NoError(t, err)

	p := New(handle)
	assert.Equal(t, []string{"h1"}, p.HostsToPoll(map[string]runner.Result{}))
	assert.Empty(t, p.HostsToPoll(map[string]runner.Result{"h1": {}}))
}
