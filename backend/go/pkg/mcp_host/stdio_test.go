package mcp_host

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/tools/localtime"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess 不是真正的测试，它在子进程中扮演 MCP 服务。
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "localtime":
		_ = server.ServeStdio(localtime.NewServer(nil))
	case "noisy":
		serveNoisy()
	case "silent":
		serveSilent()
	case "closeout":
		serveCloseStdout()
	case "bigline":
		serveBigLine()
	}
	os.Exit(0)
}

type helperRequest struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func writeLine(w *bufio.Writer, v interface{}) {
	data, _ := json.Marshal(v)
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

// serveNoisy 在回复之间穿插通知与非 JSON 输出，并把成对的 tools/call 逆序回复。
func serveNoisy() {
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	var held []helperRequest
	for in.Scan() {
		var req helperRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		switch req.Method {
		case "initialize":
			fmt.Fprintln(out, "starting noisy server...")
			writeLine(out, map[string]interface{}{"jsonrpc": "2.0", "method": "notifications/message", "params": map[string]interface{}{"level": "info"}})
			writeLine(out, map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]interface{}{"protocolVersion": "2025-03-26"}})
		case "tools/list":
			writeLine(out, map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]interface{}{"tools": []map[string]string{{"name": "echo"}}}})
		case "tools/call":
			held = append(held, req)
			if len(held) < 2 {
				continue
			}
			writeLine(out, map[string]interface{}{"jsonrpc": "2.0", "method": "notifications/progress", "params": map[string]interface{}{}})
			for i := len(held) - 1; i >= 0; i-- {
				var params struct {
					Arguments map[string]interface{} `json:"arguments"`
				}
				_ = json.Unmarshal(held[i].Params, &params)
				text, _ := json.Marshal(params.Arguments)
				writeLine(out, map[string]interface{}{
					"jsonrpc": "2.0",
					"id":      *held[i].ID,
					"result":  map[string]interface{}{"content": []map[string]string{{"type": "text", "text": string(text)}}},
				})
			}
			held = nil
		}
	}
}

// serveSilent 完成握手后不再回复任何请求。
func serveSilent() {
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for in.Scan() {
		var req helperRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		if req.Method == "initialize" {
			writeLine(out, map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]interface{}{}})
		}
	}
}

// serveCloseStdout 完成握手后在第一次 tools/call 时关闭标准输出，但进程继续运行。
func serveCloseStdout() {
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for in.Scan() {
		var req helperRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		switch req.Method {
		case "initialize":
			writeLine(out, map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]interface{}{}})
		case "tools/call":
			_ = os.Stdout.Close()
			time.Sleep(time.Minute)
			return
		}
	}
}

// serveBigLine 对 tools/call 回复一行超过 64 KiB 的结果。
func serveBigLine() {
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for in.Scan() {
		var req helperRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		switch req.Method {
		case "initialize":
			writeLine(out, map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]interface{}{}})
		case "tools/call":
			text := strings.Repeat("x", 80*1024)
			writeLine(out, map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      *req.ID,
				"result":  map[string]interface{}{"content": []map[string]string{{"type": "text", "text": text}}},
			})
		}
	}
}

func startHelper(t *testing.T, mode string, opts ...Option) *StdioTransport {
	t.Helper()
	opts = append([]Option{WithEnv([]string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode})}, opts...)
	tr := NewStdioTransport(opts...)
	err := tr.Start(context.Background(), os.Args[0], []string{"-test.run=TestHelperProcess"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Stop() })
	return tr
}

func TestStdioTransport_LocaltimeServer(t *testing.T) {
	tr := startHelper(t, "localtime")
	require.True(t, tr.IsAlive())

	require.ElementsMatch(t, []string{"get_current_time", "convert_time"}, tr.ListTools(context.Background()))

	res := tr.ExecuteTool(context.Background(), "get_current_time", map[string]interface{}{"timezone": "UTC"})
	require.True(t, res.Success, res.Error)
	require.Equal(t, "UTC", res.Result.(map[string]interface{})["timezone"])

	res = tr.ExecuteTool(context.Background(), "get_current_time", map[string]interface{}{"timezone": "Nowhere/Land"})
	require.False(t, res.Success)
	require.Contains(t, res.Error, "invalid timezone")
}

func TestStdioTransport_DiscardsNoiseAndCorrelatesOutOfOrder(t *testing.T) {
	tr := startHelper(t, "noisy")
	require.Equal(t, []string{"echo"}, tr.ListTools(context.Background()))

	var wg sync.WaitGroup
	results := make([]models.ToolResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tr.ExecuteTool(context.Background(), "echo", map[string]interface{}{"caller": float64(i)})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.Success, res.Error)
		require.Equal(t, map[string]interface{}{"caller": float64(i)}, res.Result)
	}
	// initialize=1, tools/list=2, 两次 tools/call
	require.Equal(t, int64(4), tr.LastRequestID())
}

func TestStdioTransport_CallTimeout(t *testing.T) {
	tr := startHelper(t, "silent", WithTimeout(200*time.Millisecond))

	start := time.Now()
	res := tr.ExecuteTool(context.Background(), "anything", nil)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "timed out")
	require.Less(t, time.Since(start), 5*time.Second)
	require.True(t, tr.IsAlive())
}

func TestStdioTransport_StopResetsState(t *testing.T) {
	tr := startHelper(t, "localtime")
	require.NoError(t, tr.Stop())
	require.False(t, tr.IsAlive())
	require.Empty(t, tr.ListTools(context.Background()))

	res := tr.ExecuteTool(context.Background(), "get_current_time", map[string]interface{}{"timezone": "UTC"})
	require.False(t, res.Success)
	require.Contains(t, res.Error, "not connected")

	// 重新启动后请求ID从 1 重新开始
	err := tr.Start(context.Background(), os.Args[0], []string{"-test.run=TestHelperProcess"})
	require.NoError(t, err)
	require.Equal(t, int64(1), tr.LastRequestID())
}

func TestStdioTransport_StartFailure(t *testing.T) {
	tr := NewStdioTransport()
	err := tr.Start(context.Background(), "/definitely/not/a/binary", nil)
	var setupErr *models.SetupError
	require.True(t, errors.As(err, &setupErr))
	require.Equal(t, "stdio", setupErr.Transport)
	require.False(t, tr.IsAlive())

	err = tr.Start(context.Background(), "", nil)
	require.True(t, errors.As(err, &setupErr))
}

func TestStdioTransport_ProcessExitFailsPendingCalls(t *testing.T) {
	tr := startHelper(t, "silent")
	done := make(chan models.ToolResult, 1)
	go func() {
		done <- tr.ExecuteTool(context.Background(), "anything", nil)
	}()

	// 等待请求发出后杀掉子进程：initialize=1, tools/call=2
	require.Eventually(t, func() bool { return tr.LastRequestID() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, tr.proc.cmd.Process.Kill())

	select {
	case res := <-done:
		require.False(t, res.Success)
	case <-time.After(10 * time.Second):
		t.Fatal("pending call was not released after process exit")
	}
	require.Eventually(t, func() bool { return !tr.IsAlive() }, 5*time.Second, 10*time.Millisecond)
}

func TestNew_UnsupportedKind(t *testing.T) {
	_, err := New("websocket")
	require.EqualError(t, err, "unsupported transport type: websocket")

	_, err = New("STDIO")
	require.Error(t, err)

	for _, kind := range []models.TransportKind{models.TransportStdio, models.TransportSSE, models.TransportHTTPStream} {
		tr, err := New(kind)
		require.NoError(t, err)
		require.False(t, tr.IsAlive())
	}
}

func TestStdioTransport_StdoutClosedFailsPendingCalls(t *testing.T) {
	// 默认超时是 30 秒，调用必须远早于超时失败
	tr := startHelper(t, "closeout")

	start := time.Now()
	res := tr.ExecuteTool(context.Background(), "anything", nil)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "closed stdout")
	require.Less(t, time.Since(start), 10*time.Second)
	require.False(t, tr.IsAlive())

	// 进程随后被终止并回收
	select {
	case <-tr.proc.exited:
	case <-time.After(10 * time.Second):
		t.Fatal("helper process was not reaped")
	}
}

func TestStdioTransport_OversizedReplyFailsFast(t *testing.T) {
	tr := startHelper(t, "bigline")

	start := time.Now()
	res := tr.ExecuteTool(context.Background(), "anything", nil)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "reply line too long")
	require.Less(t, time.Since(start), 10*time.Second)
	require.False(t, tr.IsAlive())
}
