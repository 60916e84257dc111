package mcp_host

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
)

const stopGracePeriod = 5 * time.Second

// StdioTransport 通过子进程的标准输入输出交换按行分隔的 JSON-RPC 消息。
// 进程由本传输启动和回收，消息收发交给 transport.NewIO。
type StdioTransport struct {
	base
	proc *process
}

// NewStdioTransport 创建一个未连接的 stdio 传输。
func NewStdioTransport(opts ...Option) *StdioTransport {
	t := &StdioTransport{}
	t.init(models.TransportStdio, opts)
	return t
}

// Start 启动子进程并完成 initialize 握手。identifier 是可执行文件，args 是其参数。
func (t *StdioTransport) Start(ctx context.Context, command string, args []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reuse() {
		return nil
	}
	if command == "" {
		return setupError(models.TransportStdio, "stdio transport requires a command")
	}

	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), t.opts.env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return setupError(models.TransportStdio, "open stdin: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return setupError(models.TransportStdio, "open stdout: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return setupError(models.TransportStdio, "open stderr: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return setupError(models.TransportStdio, "start %s: %v", command, err)
	}

	log := t.opts.logger.With("command", command)
	s := newSession(log)
	proc := newProcess(cmd, log)
	// transport.NewIO 用默认的 bufio.Scanner 读取，单行上限是 bufio.MaxScanTokenSize
	out := &watchedReader{r: stdout, maxLine: bufio.MaxScanTokenSize, onClose: func(err error) {
		if errors.Is(err, io.EOF) {
			err = errors.New("server closed stdout")
		}
		s.markDead(err)
		proc.stdoutClosed()
	}}
	conn := transport.NewIO(out, stdin, stderr)
	s.conn = conn
	s.release = proc.stop
	go proc.reap(s)

	if err := conn.Start(context.Background()); err != nil {
		s.close()
		return setupError(models.TransportStdio, "start io: %v", err)
	}
	go forwardStderr(conn.Stderr(), log)

	hsCtx, cancel := context.WithTimeout(ctx, t.opts.timeout)
	defer cancel()
	if err := s.handshake(hsCtx, t.opts, true); err != nil {
		s.close()
		return setupError(models.TransportStdio, "%v", err)
	}
	t.cur = s
	t.proc = proc
	log.Info("stdio 会话已建立")
	return nil
}

// Stop 终止子进程并重置会话，可重复调用。
func (t *StdioTransport) Stop() error {
	err := t.base.Stop()
	t.mu.Lock()
	t.proc = nil
	t.mu.Unlock()
	return err
}

// process 负责子进程的终止与回收。
type process struct {
	cmd      *exec.Cmd
	log      *logger.Logger
	eof      chan struct{}
	eofOnce  sync.Once
	stopping chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

func newProcess(cmd *exec.Cmd, log *logger.Logger) *process {
	return &process{
		cmd:      cmd,
		log:      log,
		eof:      make(chan struct{}),
		stopping: make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// stdoutClosed 在标准输出不可再读时调用：进程已无用，立即终止。
func (p *process) stdoutClosed() {
	p.eofOnce.Do(func() { close(p.eof) })
	_ = p.cmd.Process.Kill()
}

// reap 在标准输出读完（或开始停止）之后回收进程，并让会话失效。
func (p *process) reap(s *session) {
	select {
	case <-p.eof:
	case <-p.stopping:
	}
	waitErr := p.cmd.Wait()
	s.markDead(fmt.Errorf("process exited: %v", waitErr))
	close(p.exited)
}

func (p *process) stop() {
	p.stopOnce.Do(func() { close(p.stopping) })
	_ = p.cmd.Process.Kill()
	select {
	case <-p.exited:
	case <-time.After(stopGracePeriod):
		p.log.Warn("等待子进程退出超时")
	}
}

// forwardStderr 把子进程的标准错误输出逐行转发到调试日志。
func forwardStderr(r io.Reader, log *logger.Logger) {
	if r == nil {
		return
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			log.Debug(line)
		}
	}
}
