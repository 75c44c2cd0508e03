// Package gitexport pushes a generated file tree to a GitHub repository
// as a single commit.
package gitexport

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/devroom-ai/devroom/filetree"
)

// Client wraps the GitHub API for project exports.
type Client struct {
	gh *gogh.Client
}

// NewClient creates a GitHub client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// ExportOptions configures a project export.
type ExportOptions struct {
	Repo    string // "owner/repo"
	Branch  string // target branch (default: repository default branch)
	Message string // commit message
}

// Export commits the given path-to-contents mapping to the target branch
// as a full snapshot (files absent from the mapping are removed). It
// returns the HTML URL of the created commit. If the target branch does
// not exist it is created from the repository's default branch.
func (c *Client) Export(ctx context.Context, opts ExportOptions, files map[string]string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("nothing to export")
	}
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return "", err
	}

	branch := opts.Branch
	if branch == "" {
		r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return "", fmt.Errorf("getting repository: %w", err)
		}
		branch = r.GetDefaultBranch()
	}

	ref, err := c.ensureBranch(ctx, owner, repo, branch)
	if err != nil {
		return "", err
	}
	parentSHA := ref.GetObject().GetSHA()

	// Create blobs in a stable order so repeated exports of the same
	// tree produce identical request sequences.
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	entries := make([]*gogh.TreeEntry, 0, len(paths))
	for _, path := range paths {
		blob, _, err := c.gh.Git.CreateBlob(ctx, owner, repo, &gogh.Blob{
			Content:  gogh.Ptr(files[path]),
			Encoding: gogh.Ptr("utf-8"),
		})
		if err != nil {
			return "", fmt.Errorf("creating blob for %q: %w", path, err)
		}
		entries = append(entries, &gogh.TreeEntry{
			Path: gogh.Ptr(path),
			Mode: gogh.Ptr("100644"),
			Type: gogh.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	// An empty base tree makes the commit a full snapshot rather than an
	// overlay on the parent tree.
	tree, _, err := c.gh.Git.CreateTree(ctx, owner, repo, "", entries)
	if err != nil {
		return "", fmt.Errorf("creating tree: %w", err)
	}

	message := opts.Message
	if message == "" {
		message = "Update generated project"
	}
	commit, _, err := c.gh.Git.CreateCommit(ctx, owner, repo, &gogh.Commit{
		Message: gogh.Ptr(message),
		Tree:    tree,
		Parents: []*gogh.Commit{{SHA: gogh.Ptr(parentSHA)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("creating commit: %w", err)
	}

	ref.Object = &gogh.GitObject{SHA: commit.SHA}
	if _, _, err := c.gh.Git.UpdateRef(ctx, owner, repo, ref, false); err != nil {
		return "", fmt.Errorf("updating ref: %w", err)
	}

	return commit.GetHTMLURL(), nil
}

// ExportTree flattens a file tree and exports it. See Export.
func (c *Client) ExportTree(ctx context.Context, opts ExportOptions, root *filetree.Node) (string, error) {
	return c.Export(ctx, opts, filetree.Flatten(root))
}

// ensureBranch returns the ref for the branch, creating it from the
// default branch when absent.
func (c *Client) ensureBranch(ctx context.Context, owner, repo, branch string) (*gogh.Reference, error) {
	ref, resp, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err == nil {
		return ref, nil
	}
	if resp == nil || resp.StatusCode != 404 {
		return nil, fmt.Errorf("getting ref for %q: %w", branch, err)
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("getting repository: %w", err)
	}
	base, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+r.GetDefaultBranch())
	if err != nil {
		return nil, fmt.Errorf("getting default branch ref: %w", err)
	}
	created, _, err := c.gh.Git.CreateRef(ctx, owner, repo, &gogh.Reference{
		Ref:    gogh.Ptr("refs/heads/" + branch),
		Object: &gogh.GitObject{SHA: base.GetObject().SHA},
	})
	if err != nil {
		return nil, fmt.Errorf("creating branch %q: %w", branch, err)
	}
	return created, nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], parts[1], nil
}
