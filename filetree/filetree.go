// Package filetree converts a flat list of artifacts into a hierarchical
// directory structure.
//
// Build is a pure function: identical artifact sequences always yield an
// identical tree regardless of call order, so callers can re-derive the
// whole tree on every update instead of patching it incrementally.
package filetree

import (
	"sort"
	"strings"

	"github.com/devroom-ai/devroom/model"
)

// Kind distinguishes the two node variants.
type Kind string

const (
	KindDir  Kind = "dir"
	KindFile Kind = "file"
)

// Node is one entry in the file tree: a directory with children or a file
// owning an artifact.
type Node struct {
	Kind     Kind
	Name     string
	FullPath string           // files only
	Artifact *model.Artifact  // files only
	Children map[string]*Node // directories only
}

// Build constructs the tree for a sequence of normalized artifacts.
// Directories auto-merge: artifacts sharing a path prefix share the same
// directory node. A later artifact with the same path replaces the earlier
// file node.
func Build(artifacts []model.Artifact) *Node {
	root := newDir("/")

	for i := range artifacts {
		a := artifacts[i].Normalize()
		parts := splitPath(a.Filename)
		if len(parts) == 0 {
			continue
		}

		cursor := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := cursor.Children[part]
			if !ok || child.Kind != KindDir {
				child = newDir(part)
				cursor.Children[part] = child
			}
			cursor = child
		}

		name := parts[len(parts)-1]
		cursor.Children[name] = &Node{
			Kind:     KindFile,
			Name:     name,
			FullPath: strings.Join(parts, "/"),
			Artifact: &a,
		}
	}

	return root
}

// SortedChildren returns a directory's children in rendering order:
// directories before files, then lexical order within each kind.
func (n *Node) SortedChildren() []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Kind != children[j].Kind {
			return children[i].Kind == KindDir
		}
		return children[i].Name < children[j].Name
	})
	return children
}

// Flatten walks the tree and returns a path-to-contents mapping suitable
// for mounting into a sandbox.
func Flatten(root *Node) map[string]string {
	files := make(map[string]string)
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == KindFile {
			files[n.FullPath] = n.Artifact.Code
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return files
}

// Walk visits every node depth-first in rendering order, calling fn with
// the node and its depth (root is depth 0 and is not visited).
func Walk(root *Node, fn func(n *Node, depth int)) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		for _, c := range n.SortedChildren() {
			fn(c, depth)
			if c.Kind == KindDir {
				visit(c, depth+1)
			}
		}
	}
	visit(root, 0)
}

func newDir(name string) *Node {
	return &Node{Kind: KindDir, Name: name, Children: make(map[string]*Node)}
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
