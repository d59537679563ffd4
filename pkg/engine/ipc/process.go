package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/engine"
)

// Connector открывает соединение с новым экземпляром внешнего движка
type Connector func() (io.ReadWriteCloser, error)

// Factory создает ipc движки. Регистрируется в engine.Register под именем "ipc".
type Factory struct {
	Connect Connector
	Timeout time.Duration
}

// NewCommandFactory создает фабрику, запускающую command с args на каждую
// сессию. stderr процесса пишется в logger.
func NewCommandFactory(command string, args []string, timeout time.Duration, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		Timeout: timeout,
		Connect: func() (io.ReadWriteCloser, error) {
			return startProcess(command, args, logger)
		},
	}
}

// New реализует engine.Factory
func (f *Factory) New(cfg engine.Config) (engine.Engine, error) {
	if f.Connect == nil {
		return nil, errors.New("ipc: способ подключения к движку не задан")
	}
	conn, err := f.Connect()
	if err != nil {
		return nil, err
	}
	return NewEngine(conn, cfg, f.Timeout)
}

var _ engine.Factory = (*Factory)(nil)

// processConn соединение со stdin/stdout дочернего процесса
type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	// stderrDone закрывается, когда stderr прочитан до конца
	stderrDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

const processExitGrace = 2 * time.Second

func startProcess(command string, args []string, logger *zap.Logger) (*processConn, error) {
	if command == "" {
		return nil, errors.New("ipc: команда движка не задана")
	}

	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ipc: stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ipc: запуск %s: %w", command, err)
	}

	procLogger := logger.With(zap.String("command", command), zap.Int("pid", cmd.Process.Pid))
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			procLogger.Debug("stderr движка", zap.String("line", scanner.Text()))
		}
	}()
	procLogger.Debug("процесс движка запущен")

	return &processConn{cmd: cmd, stdin: stdin, stdout: stdout, stderrDone: stderrDone}, nil
}

func (p *processConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close закрывает stdin и ждет выхода процесса, по истечении
// processExitGrace процесс убивается.
func (p *processConn) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()

		exited := make(chan error, 1)
		go func() {
			// Wait закрывает пайпы, поэтому stderr нужно дочитать до него
			<-p.stderrDone
			exited <- p.cmd.Wait()
		}()

		select {
		case err := <-exited:
			p.closeErr = err
		case <-time.After(processExitGrace):
			_ = p.cmd.Process.Kill()
			p.closeErr = fmt.Errorf("ipc: процесс движка не завершился за %s: %w", processExitGrace, <-exited)
		}
	})
	return p.closeErr
}
