// Package gitx acquires source trees for pipeline runs: shallow
// single-branch clones through the git binary and commit provenance
// through go-git.
package gitx

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	git "github.com/go-git/go-git/v5"
)

// CloneError carries the combined git output of a failed clone, already
// scrubbed of the credential.
type CloneError struct {
	Output string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("git clone failed: %s", e.Output)
}

// AuthenticatedURL injects the clone token into an https repository URL.
// Only https URLs are accepted; the token is used as the userinfo so git
// never prompts.
func AuthenticatedURL(repoURL, token string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repository url: %w", err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("unsupported repository url scheme %q", u.Scheme)
	}
	if token != "" {
		u.User = url.UserPassword("x-access-token", token)
	}
	return u.String(), nil
}

// Clone performs a depth-1 single-branch clone of the given branch into
// dest. The token never appears in returned errors or logs.
func Clone(ctx context.Context, repoURL, branch, token, dest string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	authURL, err := AuthenticatedURL(repoURL, token)
	if err != nil {
		return err
	}
	args := []string{"clone", "--depth", "1", "--single-branch"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, authURL, ".")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dest
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CloneError{Output: Scrub(string(output)+" "+err.Error(), token)}
	}
	return nil
}

// HeadCommit returns the sha and message of HEAD in a cloned working
// tree. Used to record provenance for manually triggered deployments.
func HeadCommit(dir string) (sha, message string, err error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", "", fmt.Errorf("open repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", "", fmt.Errorf("read HEAD commit: %w", err)
	}
	message = strings.TrimSpace(commit.Message)
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	return ref.Hash().String(), message, nil
}

// Scrub replaces every occurrence of the token in s with a placeholder.
func Scrub(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}
