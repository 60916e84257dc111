// Package workspace 提供一个限定在若干根目录内的文件工具服务。
// 执行计划可以用它读写中间产物、列目录或按名称搜索文件。
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/djherbis/times"
	"github.com/gobwas/glob"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName 是该工具服务对外声明的名称。
const ServerName = "workspace"

const (
	maxReadSize      = 5 * 1024 * 1024
	maxSearchResults = 1000
)

type entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

type fileInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created,omitempty"`
	Modified    time.Time `json:"modified"`
	Accessed    time.Time `json:"accessed"`
	IsDir       bool      `json:"is_dir"`
	Permissions string    `json:"permissions"`
	MimeType    string    `json:"mime_type"`
}

type handler struct {
	box *sandbox
}

// NewServer 创建注册了全部文件工具的 MCP 服务，roots 为允许访问的目录。
func NewServer(roots []string) (*server.MCPServer, error) {
	box, err := newSandbox(roots)
	if err != nil {
		return nil, err
	}
	h := &handler{box: box}

	s := server.NewMCPServer(
		ServerName,
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the complete contents of a text file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file to read")),
	), h.readFile)
	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create a new file or overwrite an existing file with new content."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path where to write the file")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to write to the file")),
	), h.writeFile)
	s.AddTool(mcp.NewTool("list_directory",
		mcp.WithDescription("List the files and directories in a path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the directory to list")),
	), h.listDirectory)
	s.AddTool(mcp.NewTool("search_files",
		mcp.WithDescription("Recursively search for files whose name matches a glob pattern."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Starting directory for the search")),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern, e.g. '*.go' or '{a,b}.txt'")),
	), h.searchFiles)
	s.AddTool(mcp.NewTool("get_file_info",
		mcp.WithDescription("Retrieve metadata about a file or directory."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file or directory")),
	), h.getFileInfo)
	return s, nil
}

func (h *handler) readFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := h.box.resolve(request.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if info.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("%s is a directory, use list_directory instead", path)), nil
	}
	if info.Size() > maxReadSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), maxReadSize)), nil
	}
	if mt := detectMimeType(path); !isTextMime(mt) {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read non-text file of type %s", mt)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *handler) writeFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := h.box.resolve(request.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("%s is a directory", path)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry{Name: filepath.Base(path), Path: path, Size: int64(len(content))})
}

func (h *handler) listDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := h.box.resolve(request.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := entry{Name: de.Name(), Path: filepath.Join(path, de.Name()), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil && !de.IsDir() {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	return jsonResult(out)
}

func (h *handler) searchFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := request.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid pattern %q: %v", pattern, err)), nil
	}
	root, err := h.box.resolve(request.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	matches := []string{}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != root && g.Match(d.Name()) {
			matches = append(matches, path)
			if len(matches) >= maxSearchResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sort.Strings(matches)
	return jsonResult(matches)
}

func (h *handler) getFileInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := h.box.resolve(request.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ts, err := times.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get file times: %v", err)), nil
	}

	out := fileInfo{
		Path:        path,
		Size:        info.Size(),
		Modified:    ts.ModTime(),
		Accessed:    ts.AccessTime(),
		IsDir:       info.IsDir(),
		Permissions: fmt.Sprintf("%o", info.Mode().Perm()),
		MimeType:    "directory",
	}
	if ts.HasBirthTime() {
		out.Created = ts.BirthTime()
	}
	if !info.IsDir() {
		out.MimeType = detectMimeType(path)
	}
	return jsonResult(out)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
