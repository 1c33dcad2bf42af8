package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/umputun/fleetplay/pkg/callback"
	"github.com/umputun/fleetplay/pkg/config"
	"github.com/umputun/fleetplay/pkg/executor"
	"github.com/umputun/fleetplay/pkg/inventory"
	"github.com/umputun/fleetplay/pkg/orchestrator"
	"github.com/umputun/fleetplay/pkg/secrets"
	"github.com/umputun/fleetplay/pkg/stats"
)

type options struct {
	PlaybookFile string   `short:"p" long:"playbook" env:"FLEETPLAY_PLAYBOOK" description:"playbook file" default:"playbook.yml"`
	Inventory    string   `short:"i" long:"inventory" env:"FLEETPLAY_INVENTORY" description:"ansible-style inventory file"`
	Plays        []string `long:"play" description:"run only this play (by name), can be repeated"`

	Forks      int           `short:"f" long:"forks" env:"FLEETPLAY_FORKS" description:"max concurrent hosts per task" default:"5"`
	SSHTimeout time.Duration `long:"timeout" env:"FLEETPLAY_TIMEOUT" description:"ssh connect timeout" default:"30s"`

	RemoteUser      string `short:"u" long:"user" description:"default ssh user, overridden by play/host"`
	RemotePort      int    `long:"port" description:"default ssh port, overridden by play/host" default:"22"`
	SSHKey          string `short:"k" long:"key" env:"FLEETPLAY_KEY" description:"ssh private key"`
	SSHAgent        bool   `long:"ssh-agent" env:"FLEETPLAY_SSH_AGENT" description:"use ssh-agent for authentication"`
	ForwardSSHAgent bool   `long:"forward-ssh-agent" env:"FLEETPLAY_FORWARD_SSH_AGENT" description:"forward ssh-agent to the remote host"`
	ProxyCommand    string `long:"proxy-command" env:"FLEETPLAY_PROXY_COMMAND" description:"ssh ProxyCommand for reaching hosts through a bastion, %h/%p/%r expanded per host"`

	Sudo     bool   `long:"sudo" description:"escalate every task with sudo"`
	SudoUser string `long:"sudo-user" description:"sudo target user, implies --sudo"`

	ExtraVars map[string]string `short:"e" long:"extra-vars" description:"extra_vars override, key=value, highest precedence"`
	VarsFile  string            `long:"vars-file" env:"FLEETPLAY_VARS_FILE" description:"yaml file of extra_vars, merged under -e overrides"`

	SecretsProvider SecretsProvider `group:"secrets" namespace:"secrets" env-namespace:"FLEETPLAY_SECRETS"`

	Version bool `short:"V" long:"version" description:"show version"`

	NoColor bool   `long:"no-color" env:"FLEETPLAY_NO_COLOR" description:"disable color output"`
	Verbose []bool `short:"v" long:"verbose" description:"verbosity level"`
	Dbg     bool   `long:"dbg" description:"debug mode"`
}

// SecretsProvider collects the CLI flags for each supported secrets backend, trimmed to the
// providers pkg/secrets carries forward.
type SecretsProvider struct {
	Provider string `long:"provider" env:"PROVIDER" description:"secret provider type" choice:"none" choice:"memory" choice:"internal" choice:"vault" choice:"aws" choice:"ansible-vault" default:"none"`

	Key  string `long:"key" env:"KEY" description:"encryption key for the internal secrets provider"`
	Conn string `long:"conn" env:"CONN" description:"connection string for the internal secrets provider" default:"fleetplay.db"`

	Vault struct {
		Token string `long:"token" env:"TOKEN" description:"vault token"`
		Path  string `long:"path" env:"PATH" description:"vault path"`
		URL   string `long:"url" env:"URL" description:"vault url"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Aws struct {
		Region    string `long:"region" env:"REGION" description:"aws region"`
		AccessKey string `long:"access-key" env:"ACCESS_KEY" description:"aws access key"`
		SecretKey string `long:"secret-key" env:"SECRET_KEY" description:"aws secret key"`
	} `group:"aws" namespace:"aws" env-namespace:"AWS"`

	AnsibleVault struct {
		VaultPath   string `long:"path" env:"PATH" description:"path to the ansible-vault file"`
		VaultSecret string `long:"secret" env:"SECRET" description:"secret string for decrypting the ansible-vault file"`
	} `group:"ansible-vault" namespace:"ansible" env-namespace:"ANSIBLE"`
}

var revision = "latest"

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if !errors.Is(err.(*flags.Error).Type, flags.ErrHelp) {
			fmt.Printf("%v", err)
			os.Exit(1)
		}
		os.Exit(0) // help printed
	}

	if opts.Version {
		fmt.Printf("fleetplay %s\n", revision)
		os.Exit(0)
	}

	setupLog(opts.Dbg) // initial log, refined once secrets are known

	if err := run(opts); err != nil {
		if opts.Dbg {
			log.Panicf("[ERROR] %v", err)
		}
		fmt.Printf("failed, %v\n", formatErrorString(err.Error()))
		os.Exit(1)
	}
}

func run(opts options) error {
	st := time.Now()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exPlaybookFile, err := expandPath(opts.PlaybookFile)
	if err != nil {
		return fmt.Errorf("can't expand playbook path %q: %w", opts.PlaybookFile, err)
	}
	pbook, err := config.Load(exPlaybookFile)
	if err != nil {
		return fmt.Errorf("can't load playbook %q: %w", exPlaybookFile, err)
	}

	secretsProvider, err := makeSecretsProvider(opts.SecretsProvider)
	if err != nil {
		return fmt.Errorf("can't make secrets provider: %w", err)
	}
	if err := pbook.LoadSecrets(secretsProvider); err != nil {
		return fmt.Errorf("can't load secrets: %w", err)
	}

	setupLog(opts.Dbg, pbook.AllSecretValues()...) // secrets are known only after the playbook loads; mask them now

	inv, err := makeInventory(opts)
	if err != nil {
		return fmt.Errorf("can't load inventory %q: %w", opts.Inventory, err)
	}

	extraVars, err := extraVars(opts.ExtraVars, opts.VarsFile)
	if err != nil {
		return fmt.Errorf("can't read extra vars: %w", err)
	}

	sshKey, err := sshKey(opts.SSHAgent, opts.SSHKey)
	if err != nil {
		return fmt.Errorf("can't get ssh key: %w", err)
	}
	logs := executor.MakeLogs(len(opts.Verbose) > 0, opts.NoColor, pbook.AllSecretValues())
	connector, err := executor.NewConnector(sshKey, opts.SSHTimeout, logs)
	if err != nil {
		return fmt.Errorf("can't create connector: %w", err)
	}
	if opts.SSHAgent {
		connector = connector.WithAgent()
	}
	if opts.ForwardSSHAgent {
		connector = connector.WithAgentForwarding()
	}

	remoteUser, err := sshUser(opts.RemoteUser)
	if err != nil {
		return fmt.Errorf("can't get ssh user: %w", err)
	}

	cb := callback.New(logs)
	orc := orchestrator.New(selectPlays(pbook, opts.Plays), inv, orchestrator.Config{
		Forks:     opts.Forks,
		Timeout:   opts.SSHTimeout,
		BaseDir:   filepath.Dir(exPlaybookFile),
		ExtraVars: extraVars,
		Connector: withProxy(connector, opts.ProxyCommand),
		Connection: orchestrator.ConnectionDefaults{
			RemoteUser: remoteUser,
			RemotePort: opts.RemotePort,
			Sudo:       opts.Sudo || opts.SudoUser != "",
			SudoUser:   opts.SudoUser,
		},
		Callbacks: cb,
		RunnerCB:  cb,
	})

	summary, err := orc.Run(ctx)
	if err != nil {
		return fmt.Errorf("playbook run failed: %w", err)
	}

	printSummary(summary)
	log.Printf("[INFO] completed in %v", time.Since(st).Truncate(100*time.Millisecond))
	return nil
}

// selectPlays narrows pbook down to the named plays, in playbook order, when --play was
// given at least once; an unknown play name is silently dropped rather than erroring.
func selectPlays(pbook *config.PlayBook, names []string) *config.PlayBook {
	if len(names) == 0 {
		return pbook
	}
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	out := &config.PlayBook{}
	for _, play := range pbook.Plays {
		if want[play.Name] {
			out.Plays = append(out.Plays, play)
		}
	}
	return out
}

func printSummary(summary map[string]stats.Summary) {
	for host, s := range summary {
		log.Printf("[INFO] %s : ok=%d changed=%d failed=%d skipped=%d dark=%d",
			host, s.OK, s.Changed, s.Failed, s.Skipped, s.Dark)
	}
}

// hostConnector is the minimal shape orchestrator.Config.Connector needs, restated
// locally so withProxy can return either an *executor.Connector or a *proxyConnector.
type hostConnector interface {
	Connect(ctx context.Context, hostAddr, hostName, user string) (*executor.Remote, error)
}

// proxyConnector wraps an executor.Connector to dial every host through an ssh
// ProxyCommand (a bastion host), the CLI-level home for Connector.ConnectWithProxy,
// which the underlying executor package exposes but never wires to anything itself.
type proxyConnector struct {
	inner   *executor.Connector
	cmdArgs []string
}

func (c *proxyConnector) Connect(ctx context.Context, hostAddr, hostName, user string) (*executor.Remote, error) {
	return c.inner.ConnectWithProxy(ctx, hostAddr, hostName, user, c.cmdArgs)
}

// withProxy returns conn unchanged when proxyCommand is empty, or a proxyConnector
// that dials every host through it otherwise. %h/%p/%r placeholders in proxyCommand
// are expanded per host by the executor package itself.
func withProxy(conn *executor.Connector, proxyCommand string) hostConnector {
	if proxyCommand == "" {
		return conn
	}
	return &proxyConnector{inner: conn, cmdArgs: strings.Fields(proxyCommand)}
}

func makeInventory(opts options) (*inventory.Inventory, error) {
	inv := inventory.New()
	if opts.Inventory == "" {
		return inv, nil
	}
	exInventory, err := expandPath(opts.Inventory)
	if err != nil {
		return nil, fmt.Errorf("can't expand inventory path %q: %w", opts.Inventory, err)
	}
	if err := inventory.LoadAnsibleINI(inv, exInventory); err != nil {
		return nil, err
	}
	return inv, nil
}

func makeSecretsProvider(sopts SecretsProvider) (config.SecretsProvider, error) {
	switch sopts.Provider {
	case "", "none":
		return &secrets.NoOpProvider{}, nil
	case "memory":
		return secrets.NewMemoryProvider(map[string]string{}), nil
	case "internal":
		return secrets.NewInternalProvider(sopts.Conn, []byte(sopts.Key))
	case "vault":
		return secrets.NewHashiVaultProvider(sopts.Vault.URL, sopts.Vault.Path, sopts.Vault.Token)
	case "aws":
		return secrets.NewAWSSecretsProvider(sopts.Aws.AccessKey, sopts.Aws.SecretKey, sopts.Aws.Region)
	case "ansible-vault":
		return secrets.NewAnsibleVaultProvider(sopts.AnsibleVault.VaultPath, sopts.AnsibleVault.VaultSecret)
	}
	log.Printf("[WARN] unknown secrets provider %q", sopts.Provider)
	return &secrets.NoOpProvider{}, nil
}

// extraVars merges a yaml vars file (lowest precedence) with cli -e entries (highest
// precedence), the -e/-E equivalent of a classic extra-vars merge.
func extraVars(cli map[string]string, varsFile string) (map[string]any, error) {
	res := map[string]any{}

	if varsFile != "" {
		data, err := os.ReadFile(varsFile) //nolint:gosec // file inclusion from cli is intentional
		if err == nil {
			var fileVars map[string]any
			if err := yaml.Unmarshal(data, &fileVars); err != nil {
				log.Printf("[WARN] can't parse vars file %q: %v", varsFile, err)
			}
			for k, v := range fileVars {
				res[k] = v
			}
		}
	}

	for k, v := range cli {
		res[k] = os.Expand(v, os.Getenv)
	}
	return res, nil
}

// sshKey returns the key path from cli, or ~/.ssh/id_rsa if none given and ssh-agent
// isn't in use.
func sshKey(sshAgent bool, sshKey string) (string, error) {
	if p, err := expandPath(sshKey); err == nil {
		sshKey = p
	}
	if sshKey == "" && !sshAgent {
		u, err := userProvider.Current()
		if err != nil {
			return "", fmt.Errorf("can't get current user: %w", err)
		}
		sshKey = filepath.Join(u.HomeDir, ".ssh", "id_rsa")
	}
	log.Printf("[INFO] ssh key: %s", sshKey)
	return sshKey, nil
}

// sshUser returns the cli-provided user, falling back to the current OS user.
func sshUser(sshUser string) (string, error) {
	if sshUser != "" {
		return sshUser, nil
	}
	u, err := userProvider.Current()
	if err != nil {
		return "", fmt.Errorf("can't get current user: %w", err)
	}
	return u.Username, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		usr, err := userProvider.Current()
		if err != nil {
			return "", err
		}
		return filepath.Join(usr.HomeDir, path[1:]), nil
	}
	return path, nil
}

func formatErrorString(input string) string {
	headerRe := regexp.MustCompile(`(.*: \d+ error\(s\) occurred:)`)
	headerMatch := headerRe.FindStringSubmatch(input)
	if len(headerMatch) == 0 {
		return input
	}

	errorsRe := regexp.MustCompile(`\[\d+] {([^}]+)}`)
	errorsMatches := errorsRe.FindAllStringSubmatch(input, -1)

	formattedErrors := make([]string, 0, len(errorsMatches))
	for _, match := range errorsMatches {
		formattedErrors = append(formattedErrors, strings.TrimSpace(match[1]))
	}

	formattedString := fmt.Sprintf("%s\n", strings.TrimSpace(headerMatch[1]))
	for i, err := range formattedErrors {
		formattedString += fmt.Sprintf("   [%d] %s\n", i, err)
	}
	return formattedString
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(os.Stdout), lgr.Err(os.Stderr)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

// userProvider is a var so it can be mocked in tests.
var userProvider userInfoProvider = &defaultUserInfoProvider{}

type userInfoProvider interface {
	Current() (*user.User, error)
}

type defaultUserInfoProvider struct{}

func (p *defaultUserInfoProvider) Current() (*user.User, error) {
	return user.Current()
}
