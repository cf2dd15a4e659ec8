package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
)

// SanitizeFilePath validates a sandbox-relative file path. Absolute paths and
// any path containing a ".." segment are rejected; accepted paths are
// returned cleaned.
func SanitizeFilePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path not allowed: %s", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path traversal not allowed: %s", p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return cleaned, nil
}

// shellQuote single-quotes s for POSIX shells, neutralizing every
// metacharacter including embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (s *Surface) writeFilesTool() Tool {
	return Tool{
		Name:        "write_files",
		Description: "Write one or more files into the sandbox working tree",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"files": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"path":    map[string]any{"type": "string"},
							"content": map[string]any{"type": "string"},
						},
						"required": []string{"path", "content"},
					},
				},
			},
			"required": []string{"files"},
		},
		Handler: func(ctx context.Context, agent string, input map[string]any, state *RunState) (string, error) {
			files, _ := input["files"].([]any)
			if len(files) == 0 {
				return "no files provided", nil
			}

			var results []string
			for _, raw := range files {
				entry, _ := raw.(map[string]any)
				p, _ := entry["path"].(string)
				content, _ := entry["content"].(string)

				clean, err := SanitizeFilePath(p)
				if err != nil {
					results = append(results, fmt.Sprintf("%s: rejected (%v)", p, err))
					continue
				}

				if err := s.writeOne(ctx, clean, content); err != nil {
					results = append(results, fmt.Sprintf("%s: error (%v)", clean, err))
					continue
				}
				state.recordFile(clean)
				results = append(results, clean+": written")
			}
			return strings.Join(results, "\n"), nil
		},
	}
}

// writeOne ships content as a base64 payload decoded inside the session, so
// file contents never pass through shell interpolation.
func (s *Surface) writeOne(ctx context.Context, cleanPath, content string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	cmd := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s",
		shellQuote(parentDir(cleanPath)), shellQuote(encoded), shellQuote(cleanPath))

	res, err := s.session.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("write failed: %s", res.Stderr)
	}
	return nil
}

func parentDir(p string) string {
	dir := path.Dir(p)
	if dir == "" {
		return "."
	}
	return dir
}

func (s *Surface) readFilesTool() Tool {
	return Tool{
		Name:        "read_files",
		Description: "Read one or more files from the sandbox working tree",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"paths": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"paths"},
		},
		Handler: func(ctx context.Context, agent string, input map[string]any, state *RunState) (string, error) {
			paths, _ := input["paths"].([]any)
			if len(paths) == 0 {
				return "no paths provided", nil
			}

			var out strings.Builder
			for _, raw := range paths {
				p, _ := raw.(string)
				clean, err := SanitizeFilePath(p)
				if err != nil {
					fmt.Fprintf(&out, "=== %s\n<rejected: %v>\n", p, err)
					continue
				}
				content, err := s.session.ReadFile(ctx, clean)
				if err != nil {
					// Unreadable paths yield an error note, never abort the call
					fmt.Fprintf(&out, "=== %s\n<unreadable: %v>\n", clean, err)
					continue
				}
				fmt.Fprintf(&out, "=== %s\n%s\n", clean, content)
			}
			return out.String(), nil
		},
	}
}
