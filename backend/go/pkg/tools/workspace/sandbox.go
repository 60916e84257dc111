package workspace

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sandbox 把所有路径限制在允许的根目录之内。
type sandbox struct {
	roots []string // 以分隔符结尾，避免 /tmp/foo 匹配 /tmp/foobar
}

func newSandbox(roots []string) (*sandbox, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root directory is required")
	}
	normalized := make([]string, 0, len(roots))
	for _, dir := range roots {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", dir, err)
		}
		// 根目录本身可能是符号链接（例如 macOS 的 /tmp）
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to access directory %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("path is not a directory: %s", abs)
		}
		normalized = append(normalized, filepath.Clean(abs)+string(filepath.Separator))
	}
	return &sandbox{roots: normalized}, nil
}

func (s *sandbox) contains(abs string) bool {
	withSep := filepath.Clean(abs) + string(filepath.Separator)
	for _, root := range s.roots {
		if strings.HasPrefix(withSep, root) {
			return true
		}
	}
	return false
}

// resolve 返回请求路径的真实绝对路径。相对路径以第一个根目录为基准。
// 不存在的路径只校验其父目录，以便写入新文件。
func (s *sandbox) resolve(requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(s.roots[0], requested)
	}
	abs := filepath.Clean(requested)
	if !s.contains(abs) {
		return "", fmt.Errorf("access denied - path outside allowed directories: %s", abs)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			return "", fmt.Errorf("parent directory does not exist: %s", filepath.Dir(abs))
		}
		if !s.contains(parent) {
			return "", fmt.Errorf("access denied - parent directory outside allowed directories")
		}
		return filepath.Join(parent, filepath.Base(abs)), nil
	}
	if !s.contains(real) {
		return "", fmt.Errorf("access denied - symlink target outside allowed directories")
	}
	return real, nil
}

// detectMimeType 优先按内容识别，读取失败时按扩展名猜测。
func detectMimeType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err == nil {
		return mtype.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

var textApplicationTypes = []string{
	"application/json",
	"application/xml",
	"application/javascript",
	"application/x-yaml",
	"application/yaml",
	"application/toml",
	"application/x-sh",
}

func isTextMime(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(base, "text/"):
		return true
	case slices.Contains(textApplicationTypes, base):
		return true
	case strings.HasSuffix(base, "+xml"), strings.HasSuffix(base, "+json"), strings.HasSuffix(base, "+yaml"):
		return true
	}
	return false
}
