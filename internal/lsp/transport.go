package lsp

import (
	"context"
	"io"
	"log"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Transport opens the byte stream to a language server. encoding is a
// hint for transports that read text such as the server's stderr.
type Transport interface {
	Open(ctx context.Context, encoding string) (io.ReadWriteCloser, error)
}

// TransportFunc adapts a function to a Transport.
type TransportFunc func(ctx context.Context, encoding string) (io.ReadWriteCloser, error)

func (f TransportFunc) Open(ctx context.Context, encoding string) (io.ReadWriteCloser, error) {
	return f(ctx, encoding)
}

// ExecTransport runs a language server as a child process and talks to
// it over its standard input and output. Every Open starts a new
// process; when the process exits, the stream is closed so that the
// client's error policy decides whether to start another one.
type ExecTransport struct {
	Command []string
	Dir     string
	Env     []string

	// Stderr receives the server's standard error. It is discarded if nil.
	Stderr io.Writer

	// KillDelay is how long Close waits for the process to exit
	// before killing it.
	KillDelay time.Duration
	Logger    *log.Logger
}

func (t *ExecTransport) Open(ctx context.Context, encoding string) (io.ReadWriteCloser, error) {
	if len(t.Command) == 0 {
		return nil, errors.New("no language server command")
	}
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}

	p0, p1 := net.Pipe()
	cmd := exec.Command(t.Command[0], t.Command[1:]...)
	cmd.Dir = t.Dir
	cmd.Env = t.Env
	cmd.Stdin = p0
	cmd.Stdout = p0
	cmd.Stderr = t.Stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		p0.Close()
		p1.Close()
		return nil, errors.Wrapf(err, "failed to execute language server %q", t.Command)
	}

	ec := &execConn{
		Conn:      p1,
		cmd:       cmd,
		exited:    make(chan struct{}),
		killDelay: t.KillDelay,
	}
	if ec.killDelay == 0 {
		ec.killDelay = 2 * time.Second
	}
	go func() {
		err := cmd.Wait()
		logger.Printf("language server %v exited: %v", t.Command[0], err)
		close(ec.exited)
		p0.Close()
	}()
	return ec, nil
}

type execConn struct {
	net.Conn
	cmd       *exec.Cmd
	exited    chan struct{}
	killDelay time.Duration
	closeOnce sync.Once
}

func (c *execConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Conn.Close()
		go func() {
			select {
			case <-c.exited:
			case <-time.After(c.killDelay):
				c.cmd.Process.Kill()
			}
		}()
	})
	return err
}

// DialTransport connects to a language server listening on a TCP address.
type DialTransport struct {
	Address string
}

func (t *DialTransport) Open(ctx context.Context, encoding string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to language server at %v", t.Address)
	}
	return conn, nil
}
