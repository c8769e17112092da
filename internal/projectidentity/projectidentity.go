// Package projectidentity is the ProjectIdentity component (SPEC_FULL.md
// §4.C): resolves a working directory to a stable project identifier via
// its git remote, falling back to the directory basename.
package projectidentity

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// DefaultRemoteOrder is the preferred-remote order spec.md §4.C names.
var DefaultRemoteOrder = []string{"origin", "upstream"}

// AliasRegistrar is the narrow slice of Store that ProjectIdentity needs:
// registering a (basename, identifier) alias on session start.
type AliasRegistrar interface {
	RegisterAlias(ctx context.Context, oldProject, newProject string, nowEpoch int64) error
}

// Resolve implements spec.md §4.C's four-step algorithm: find the git
// remote, normalize it to host/path form, else fall back to the
// directory basename, else "unknown-project".
func Resolve(ctx context.Context, dir string, remoteOrder []string) string {
	if remoteOrder == nil {
		remoteOrder = DefaultRemoteOrder
	}
	if id, ok := resolveFromGitRemote(ctx, dir, remoteOrder); ok {
		return id
	}
	return basenameFallback(dir)
}

func resolveFromGitRemote(ctx context.Context, dir string, remoteOrder []string) (string, bool) {
	if !inGitWorkTree(ctx, dir) {
		return "", false
	}
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "remote", "-v")
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	remotes := parseRemotes(string(out))
	if len(remotes) == 0 {
		return "", false
	}
	for _, name := range remoteOrder {
		if url, ok := remotes[name]; ok {
			return normalizeRemote(url), true
		}
	}
	for _, url := range remotes {
		return normalizeRemote(url), true
	}
	return "", false
}

func inGitWorkTree(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--is-inside-work-tree")
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

var remoteLinePattern = regexp.MustCompile(`^(\S+)\s+(\S+)\s+\(fetch\)$`)

// parseRemotes parses `git remote -v` output, keeping fetch URLs.
func parseRemotes(output string) map[string]string {
	remotes := map[string]string{}
	for _, line := range strings.Split(output, "\n") {
		m := remoteLinePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		remotes[m[1]] = m[2]
	}
	return remotes
}

var scpLikePattern = regexp.MustCompile(`^(?:[\w.-]+@)?([\w.-]+):(.+)$`)

// normalizeRemote strips scheme, userinfo, port, and the ".git" suffix,
// translating `git@host:path` to `host/path` (spec.md §4.C step 3).
func normalizeRemote(raw string) string {
	raw = strings.TrimSpace(raw)

	if m := scpLikePattern.FindStringSubmatch(raw); m != nil && !strings.Contains(raw, "://") {
		host := m[1]
		path := strings.TrimSuffix(m[2], ".git")
		return fmt.Sprintf("%s/%s", host, strings.TrimPrefix(path, "/"))
	}

	s := raw
	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}
	if idx := strings.Index(s, "@"); idx != -1 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, "/")

	// Strip a port from the host segment only.
	if slash := strings.Index(s, "/"); slash != -1 {
		host := s[:slash]
		rest := s[slash:]
		if colon := strings.Index(host, ":"); colon != -1 {
			host = host[:colon]
		}
		s = host + rest
	}
	return strings.TrimPrefix(s, "/")
}

// basenameFallback returns the directory's basename, or "unknown-project"
// when empty, or "drive-<letter>" on a Windows drive root.
func basenameFallback(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	base := filepath.Base(abs)
	if base == "." || base == string(filepath.Separator) || base == "" {
		if runtime.GOOS == "windows" {
			vol := filepath.VolumeName(abs)
			if len(vol) > 0 {
				return fmt.Sprintf("drive-%s", strings.ToLower(strings.TrimSuffix(vol, ":")))
			}
		}
		return "unknown-project"
	}
	return base
}

// RegisterBasenameAlias implements spec.md §4.C's session-start step: if
// identifier contains "/" and differs from the directory basename,
// register an alias (basename, identifier). Failure to register MUST
// NOT abort the session, so errors are returned for logging only, never
// treated as fatal by the caller.
func RegisterBasenameAlias(ctx context.Context, store AliasRegistrar, dir, identifier string, nowEpoch int64) error {
	if !strings.Contains(identifier, "/") {
		return nil
	}
	base := basenameFallback(dir)
	if base == identifier {
		return nil
	}
	if err := store.RegisterAlias(ctx, base, identifier, nowEpoch); err != nil {
		return fmt.Errorf("projectidentity: register alias %q -> %q: %w", base, identifier, err)
	}
	return nil
}

// workdirExists is used by callers constructing a ProjectIdentity before
// any filesystem walk to fail fast with a clear error rather than a
// confusing git-command failure.
func workdirExists(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("projectidentity: stat %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("projectidentity: %q is not a directory", dir)
	}
	return nil
}
