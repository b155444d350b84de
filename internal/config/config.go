// Package config defines the configuration of acme-lsp: a TOML file,
// command line flags layered over it, and a store that reloads the
// file when it changes.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
)

// File represents the user configuration file of acme-lsp.
type File struct {
	// Initial set of workspace directories.
	WorkspaceDirectories []string

	// Root directory used for LSP initialization.
	RootDirectory string

	// Write the log of acme-lsp to this file instead of stderr.
	LogFile string

	// Trace level of the messages exchanged with the servers: "off",
	// "messages" or "verbose". RPCTrace is the same as "verbose".
	Trace    string
	RPCTrace bool

	// TraceFormat is "text" or "json".
	TraceFormat string

	// Lowest severity of client messages shown in acme in addition to
	// being logged: "info", "warn", "error" or "never".
	RevealOutputOn string

	// Number of crashes within three minutes after which a server is
	// no longer restarted.
	MaxRestartCount int

	// How long to wait for a server to shut down.
	StopTimeout time.Duration

	// Idle detection: "off", "on" or "activationOnly".
	SuspendMode     string
	SuspendInterval time.Duration

	// LSP servers keyed by a user provided name.
	Servers map[string]*Server

	// Servers determined by regular expression match on filename,
	// as supplied by -server and -dial flags.
	FilenameHandlers []FilenameHandler
}

// Config configures acme-lsp.
type Config struct {
	File

	// Show current configuration and exit
	ShowConfig bool

	// Print more messages to stderr
	Verbose bool
}

// Server describes a LSP server.
type Server struct {
	// Command that speaks LSP on stdin/stdout.
	// Can be empty if Address is given.
	Command []string

	// Dial address for LSP server. Ignored if Command is not empty.
	Address string

	// Write stderr of Command to this file.
	// If it's not an absolute path, it'll become relative to the cache directory.
	StderrFile string

	// Write log messages (window/logMessage notifications) sent by LSP server
	// to this file instead of stderr.
	// If it's not an absolute path, it'll become relative to the cache directory.
	LogFile string

	// Options are passed as-is to the server as initialization options.
	Options interface{}

	// Settings answer workspace/configuration requests and are sent
	// with workspace/didChangeConfiguration when they change.
	Settings map[string]interface{}

	// Globs of files whose changes are sent to the server.
	FileEvents []string
}

// FilenameHandler contains a regular expression pattern that matches a filename
// and the associated server key.
type FilenameHandler struct {
	// Pattern is a regular expression that matches filename.
	Pattern string

	// Language identifier (e.g. "go" or "python")
	// See list of languages here:
	// https://microsoft.github.io/language-server-protocol/specifications/specification-current/#textDocumentItem
	LanguageID string

	// ServerKey is the key in Config.File.Servers.
	ServerKey string
}

// Default returns the default Config.
func Default() *Config {
	rootDir := "/"
	switch runtime.GOOS {
	case "windows":
		rootDir = `C:\`
	}
	return &Config{
		File: File{
			RootDirectory:   rootDir,
			Trace:           string(protocol.TraceOff),
			TraceFormat:     string(lsp.TraceText),
			RevealOutputOn:  "error",
			MaxRestartCount: 4,
			StopTimeout:     2 * time.Second,
			SuspendMode:     "off",
			SuspendInterval: time.Minute,
		},
	}
}

// UserConfigFilename returns the location of the configuration file.
func UserConfigFilename() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "acme-lsp", "config.toml"), nil
}

// Load loads Config from file system, falling back to a default if it doesn't exist.
func Load() (*Config, error) {
	filename, err := UserConfigFilename()
	if err != nil {
		return nil, err
	}
	return LoadFile(filename)
}

// LoadFile loads Config from filename, falling back to a default if
// it doesn't exist. Relative log files of servers are placed in the
// user cache directory.
func LoadFile(filename string) (*Config, error) {
	def := Default()
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return def, nil
	}
	cfg, err := load(filename)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults(def)

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	cacheDir = filepath.Join(cacheDir, "acme-lsp")
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, err
	}
	for key, s := range cfg.Servers {
		if len(key) > 0 && key[0] == '_' {
			return nil, errors.Errorf("server key %q begins with underscore", key)
		}
		if s.StderrFile != "" && !filepath.IsAbs(s.StderrFile) {
			s.StderrFile = filepath.Join(cacheDir, s.StderrFile)
		}
		if s.LogFile != "" && !filepath.IsAbs(s.LogFile) {
			s.LogFile = filepath.Join(cacheDir, s.LogFile)
		}
	}
	return cfg, nil
}

func load(filename string) (*Config, error) {
	var f File
	if _, err := toml.DecodeFile(filename, &f); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %v", filename)
	}
	return &Config{File: f}, nil
}

func (cfg *Config) fillDefaults(def *Config) {
	if cfg.RootDirectory == "" {
		cfg.RootDirectory = def.RootDirectory
	}
	if cfg.Trace == "" {
		cfg.Trace = def.Trace
	}
	if cfg.TraceFormat == "" {
		cfg.TraceFormat = def.TraceFormat
	}
	if cfg.RevealOutputOn == "" {
		cfg.RevealOutputOn = def.RevealOutputOn
	}
	if cfg.MaxRestartCount == 0 {
		cfg.MaxRestartCount = def.MaxRestartCount
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.SuspendMode == "" {
		cfg.SuspendMode = def.SuspendMode
	}
	if cfg.SuspendInterval == 0 {
		cfg.SuspendInterval = def.SuspendInterval
	}
}

// Write writes Config to writer w.
func Write(w io.Writer, cfg *Config) error {
	filename, err := UserConfigFilename()
	if err == nil {
		fmt.Fprintf(w, "# Configuration file location: %v\n\n", filename)
	} else {
		fmt.Fprintf(w, "# Could not find configuration file location: %v\n\n", err)
	}
	return toml.NewEncoder(w).Encode(cfg.File)
}

// TraceLevel returns the configured trace level and format.
func (f *File) TraceLevel() (protocol.TraceValue, lsp.TraceFormat) {
	level := protocol.TraceValue(f.Trace)
	switch level {
	case protocol.TraceOff, protocol.TraceMessages, protocol.TraceVerbose:
	default:
		level = protocol.TraceOff
	}
	if f.RPCTrace {
		level = protocol.TraceVerbose
	}
	format := lsp.TraceText
	if lsp.TraceFormat(f.TraceFormat) == lsp.TraceJSON {
		format = lsp.TraceJSON
	}
	return level, format
}

// Reveal returns the RevealOutputOn setting.
func (f *File) Reveal() (lsp.RevealOutputOn, error) {
	switch strings.ToLower(f.RevealOutputOn) {
	case "", "error":
		return lsp.RevealError, nil
	case "info":
		return lsp.RevealInfo, nil
	case "warn":
		return lsp.RevealWarn, nil
	case "never":
		return lsp.RevealNever, nil
	}
	return 0, errors.Errorf("invalid RevealOutputOn %q", f.RevealOutputOn)
}

// Suspend returns the idle detection options.
func (f *File) Suspend() (lsp.SuspendOptions, error) {
	opts := lsp.SuspendOptions{Interval: f.SuspendInterval}
	switch f.SuspendMode {
	case "", "off":
		opts.Mode = lsp.SuspendOff
	case "on":
		opts.Mode = lsp.SuspendOn
	case "activationOnly":
		opts.Mode = lsp.SuspendActivationOnly
	default:
		return opts, errors.Errorf("invalid SuspendMode %q", f.SuspendMode)
	}
	return opts, nil
}

// ParseFlags parses command line flags and updates Config.
func (cfg *Config) ParseFlags(f *flag.FlagSet, arguments []string) error {
	var (
		workspaces  string
		userServers serverFlag
		dialServers serverFlag
	)

	f.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose output")
	f.BoolVar(&cfg.ShowConfig, "showconfig", false, "show configuration values and exit")
	f.StringVar(&cfg.RootDirectory, "rootdir", cfg.RootDirectory, "root directory used for LSP initialization")
	f.StringVar(&cfg.LogFile, "log", cfg.LogFile, "write log to this file instead of stderr")
	f.BoolVar(&cfg.RPCTrace, "rpc.trace", cfg.RPCTrace, "print the full rpc trace in lsp inspector format")
	f.StringVar(&workspaces, "workspaces", "", "colon-separated list of initial workspace directories")
	f.Var(&userServers, "server", `map filename to language server command. The format is
'handlers:cmd' where cmd is the LSP server command and handlers is
a comma separated list of 'regexp[@lang]'. The regexp matches the
filename and lang is a language identifier. (e.g. '\.go$:gopls' or
'go.mod$@go.mod,go.sum$@go.sum,\.go$@go:gopls')`)
	f.Var(&dialServers, "dial", `map filename to language server address. The format is
'handlers:host:port'. See -server flag for format of
handlers. (e.g. '\.go$:localhost:4389')`)
	if err := f.Parse(arguments); err != nil {
		return err
	}

	if len(workspaces) > 0 {
		cfg.WorkspaceDirectories = strings.Split(workspaces, ":")
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]*Server)
	}
	handlers := make([]FilenameHandler, 0)
	for i, sa := range userServers {
		key := fmt.Sprintf("_userCmdServer%v", i)
		cfg.Servers[key] = &Server{
			Command: strings.Fields(sa.args),
		}
		for _, h := range sa.handlers {
			h.ServerKey = key
			handlers = append(handlers, h)
		}
	}
	for i, sa := range dialServers {
		key := fmt.Sprintf("_userDialServer%v", i)
		cfg.Servers[key] = &Server{
			Address: sa.args,
		}
		for _, h := range sa.handlers {
			h.ServerKey = key
			handlers = append(handlers, h)
		}
	}
	// Prepend to give higher priority to command line flags.
	cfg.FilenameHandlers = append(handlers, cfg.FilenameHandlers...)
	return nil
}

type serverArgs struct {
	handlers []FilenameHandler
	args     string
}

type serverFlag []serverArgs

func (sf *serverFlag) String() string {
	return fmt.Sprintf("%v", []serverArgs(*sf))
}

func (sf *serverFlag) Set(val string) error {
	f := strings.SplitN(val, ":", 2)
	if len(f) != 2 {
		return errors.New("flag value must contain a colon")
	}
	// allow f[0] to be empty, as that's a valid regexp that matches anything
	if len(f[1]) == 0 {
		return errors.New("empty server command or address")
	}
	var handlers []FilenameHandler
	for _, pp := range strings.Split(f[0], ",") {
		pattern, lang, _ := strings.Cut(pp, "@")
		handlers = append(handlers, FilenameHandler{
			Pattern:    pattern,
			LanguageID: lang,
		})
	}
	*sf = append(*sf, serverArgs{
		handlers: handlers,
		args:     f[1],
	})
	return nil
}
