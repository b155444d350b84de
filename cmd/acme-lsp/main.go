package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fhs/lspc/internal/config"
	"github.com/fhs/lspc/internal/lsp/acmelsp"
	"github.com/pkg/errors"
)

const mainDoc = `The program acme-lsp is a client for the acme text editor that
keeps a set of Language Server Protocol servers informed about the
files open in acme.

Acme-lsp starts or connects to the LSP servers specified using the
-server or -dial flags, or in the configuration file, the first time a
file handled by the server is opened in acme. It watches for files
created (New), loaded (Get), saved (Put), or deleted (Del) in acme, and
tells the server about these changes. Diagnostics sent by the servers
are shown in the /LSP/Diagnostics window; documents the servers ask to
show are sent to the plumber.

	Usage: acme-lsp [flags]
`

func usage() {
	os.Stderr.Write([]byte(mainDoc))
	fmt.Fprintf(os.Stderr, "\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	log.SetFlags(0)
	log.SetPrefix("acme-lsp: ")

	filename, cfg, err := loadConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if cfg.ShowConfig {
		if err := config.Write(os.Stdout, cfg); err != nil {
			log.Fatal(err)
		}
		return
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("could not open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
		log.SetFlags(log.LstdFlags)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, filename, cfg, log.Default()); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the user's configuration file and applies the
// command line flags to it.
func loadConfig(f *flag.FlagSet, args []string) (string, *config.Config, error) {
	filename, err := config.UserConfigFilename()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.LoadFile(filename)
	if err != nil {
		return "", nil, err
	}
	if err := cfg.ParseFlags(f, args); err != nil {
		return "", nil, err
	}
	return filename, cfg, nil
}

func run(ctx context.Context, filename string, cfg *config.Config, logger *log.Logger) error {
	if len(cfg.FilenameHandlers) == 0 {
		return errors.New("no servers specified; specify either -server or -dial flag, or FilenameHandlers in " + filename)
	}

	store := config.NewStore(cfg, filename, logger)
	if err := store.Watch(); err != nil {
		logger.Printf("configuration changes will be ignored: %v", err)
	}
	defer store.Close()

	diags := acmelsp.NewDiagnosticsWindow(logger)
	defer diags.Close()

	ss, err := acmelsp.NewServerSet(store, &acmelsp.Env{
		Acme:        acmelsp.System,
		Diagnostics: diags,
		Shower:      acmelsp.NewPlumber(),
		Logger:      logger,
		Verbose:     cfg.Verbose,
	})
	if err != nil {
		return err
	}
	defer ss.Close()
	if cfg.Verbose {
		ss.PrintTo(os.Stderr)
	}

	fm := acmelsp.NewFileManager(ss, acmelsp.System, logger)
	if err := fm.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
