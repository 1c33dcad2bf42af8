package runner

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

func testConnector(t *testing.T) *executor.Connector {
	t.Helper()
	logs := executor.MakeLogs(false, true, nil)
	conn, err := executor.NewConnector("testdata/test_ssh_key", time.Second*10, logs)
	require.NoError(t, err)
	return conn
}

// hostFromAddr splits a testcontainers "host:port" string into the Addr/Port a Host needs.
func hostFromAddr(t *testing.T, name, hostAndPort string) Host {
	t.Helper()
	addr, portStr, err := net.SplitHostPort(hostAndPort)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Host{Name: name, Addr: addr, Port: port, User: "test"}
}

func TestRunner_Run_CommandModule(t *testing.T) {
	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	conn := testConnector(t)
	r := New(Config{
		Hosts:      []Host{hostFromAddr(t, "h1", hostAndPort)},
		ModuleName: "command",
		ModuleArgs: "echo hello",
		Forks:      1,
		Connector:  conn,
	})

	res := r.Run(context.Background())
	require.Empty(t, res.Dark)
	require.Contains(t, res.Contacted, "h1")
	assert.True(t, res.Contacted["h1"].Changed)
	assert.Contains(t, res.Contacted["h1"].Msg, "hello")
}

func TestRunner_Run_SetupModule(t *testing.T) {
	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	conn := testConnector(t)
	r := New(Config{
		Hosts:      []Host{hostFromAddr(t, "h1", hostAndPort)},
		ModuleName: "setup",
		Forks:      1,
		Connector:  conn,
	})

	res := r.Run(context.Background())
	require.Contains(t, res.Contacted, "h1")
	assert.NotEmpty(t, res.Contacted["h1"].Facts)
	assert.Contains(t, res.Contacted["h1"].Facts, "ansible_hostname")
}

func TestRunner_Run_UnreachableHostIsDark(t *testing.T) {
	conn := testConnector(t)
	r := New(Config{
		Hosts:      []Host{{Name: "ghost", Addr: "127.0.0.1", Port: 1, User: "test"}},
		ModuleName: "command",
		ModuleArgs: "true",
		Forks:      1,
		Connector:  conn,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
	defer cancel()
	res := r.Run(ctx)
	assert.Empty(t, res.Contacted)
	assert.Contains(t, res.Dark, "ghost")
}

func TestRunner_Run_OnlyIfFalseSkipsHost(t *testing.T) {
	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	conn := testConnector(t)
	r := New(Config{
		Hosts:      []Host{hostFromAddr(t, "h1", hostAndPort)},
		ModuleName: "command",
		ModuleArgs: "echo should-not-run",
		OnlyIf:     "false",
		Forks:      1,
		Connector:  conn,
	})

	res := r.Run(context.Background())
	require.Contains(t, res.Contacted, "h1")
	assert.False(t, res.Contacted["h1"].Changed)
	assert.True(t, res.Contacted["h1"].Skipped)
	assert.Contains(t, res.Contacted["h1"].Msg, "skipped")
}

func TestRunner_RunAsync_LaunchesJobAndReportsDarkOnConnectFailure(t *testing.T) {
	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	conn := testConnector(t)
	r := New(Config{
		Hosts: []Host{
			hostFromAddr(t, "h1", hostAndPort),
			{Name: "ghost", Addr: "127.0.0.1", Port: 1, User: "test"},
		},
		ModuleName: "command",
		ModuleArgs: "sleep 1 && echo done",
		Forks:      2,
		Connector:  conn,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	initial, handle, err := r.RunAsync(ctx, 30)
	require.NoError(t, err)
	assert.Contains(t, initial.Contacted, "h1")
	assert.Contains(t, initial.Dark, "ghost")
	assert.Equal(t, 30, handle.AsyncSeconds())
	assert.Len(t, handle.Hosts(), 1)
}

func TestRunner_Run_LocalTransportSkipsConnector(t *testing.T) {
	r := New(Config{
		Hosts:      []Host{{Name: "h1", Addr: "unreachable.invalid", Port: 22}},
		ModuleName: "command",
		ModuleArgs: "echo local-hello",
		Forks:      1,
		Transport:  "local",
		Connector:  nil, // never dialed for local transport; a nil Connector would panic if it were
	})

	res := r.Run(context.Background())
	require.Empty(t, res.Dark)
	require.Contains(t, res.Contacted, "h1")
	assert.True(t, res.Contacted["h1"].Changed)
	assert.Contains(t, res.Contacted["h1"].Msg, "local-hello")
}

func TestBuildModuleCommand_RejectsNonCommandModules(t *testing.T) {
	_, err := buildModuleCommand("copy", "src=a dst=b")
	require.Error(t, err)
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	q := shellQuote("echo 'hi'")
	assert.Equal(t, `'echo '"'"'hi'"'"''`, q)
}
