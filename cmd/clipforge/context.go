package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"clipforge/internal/config"
	"clipforge/internal/credits"
	"clipforge/internal/faults"
	"clipforge/internal/ipc"
	"clipforge/internal/jobs"
	"clipforge/internal/logging"
	"clipforge/internal/media/ffprobe"
	"clipforge/internal/store"
)

type commandContext struct {
	socketFlag *string
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil {
		if socket := strings.TrimSpace(*c.socketFlag); socket != "" {
			return socket
		}
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.SocketPath()
	}
	return ""
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

// localServices gives commands direct database access without the daemon.
// The manager is never started; it only serves intake, lookups, cancel, and
// delete.
type localServices struct {
	cfg     *config.Config
	store   *store.Store
	errors  *faults.Handler
	ledger  *credits.Ledger
	manager *jobs.Manager
}

func (c *commandContext) withLocal(fn func(*localServices) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer st.Close()

	logger := cliLogger()
	handler := faults.NewHandler(faults.Options{Logger: logger, Sink: st, RecentCapacity: cfg.Errors.RecentCapacity})
	ledger := credits.NewLedger(st, cfg.Credits.DefaultBalance, logger)
	manager := jobs.NewManager(jobs.Options{
		Config: cfg,
		Store:  st,
		Ledger: ledger,
		Reader: ffprobe.NewReader(cfg.Media.FFprobeBinary),
		Errors: handler,
		Logger: logger,
	})
	return fn(&localServices{cfg: cfg, store: st, errors: handler, ledger: ledger, manager: manager})
}

// fail records err with the local error handler and returns it in the
// form printed to the operator.
func (l *localServices) fail(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	handled := l.errors.Handle(cmd.Context(), err, faults.RequestInfo{Method: "cli", Path: cmd.CommandPath()})
	return fmt.Errorf("%s (error id %s)", handled.Message, handled.ID)
}

// cliLogger keeps pipeline logs off stdout so command output stays parseable.
func cliLogger() *slog.Logger {
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `clipforge daemon start`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
