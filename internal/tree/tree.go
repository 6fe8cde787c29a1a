// Package tree synthesizes a folder hierarchy from a flat object listing.
package tree

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"ossgate/internal/storage"
	"ossgate/pkg/pathutil"
)

// Kind distinguishes folders from files.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// FileDescriptor holds the attributes shared by every node.
type FileDescriptor struct {
	Name         string    `json:"name"`
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified,omitzero"`
	Extension    string    `json:"extension,omitempty"`
}

// Node is one folder or file in the tree. Files never have children.
type Node struct {
	FileDescriptor
	Kind     Kind    `json:"kind"`
	Children []*Node `json:"children,omitempty"`
}

// IsFolder reports whether n is a folder.
func (n *Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// Build arranges objects below rootPrefix into a tree. Only keys under
// rootPrefix + "/" are placed (every key when rootPrefix is empty); zero-byte
// folder markers contribute folders but never empty-named files. url maps a
// key to its display URL and may be nil.
func Build(rootPrefix string, objects []storage.Object, url func(key string) string) *Node {
	if url == nil {
		url = func(key string) string { return key }
	}

	root := pathutil.TrimSlash(strings.TrimPrefix(rootPrefix, "/"))
	b := builder{url: url}
	rootNode := b.folder(root)

	for _, obj := range objects {
		switch {
		case root == "":
			b.add(rootNode, obj.Key, obj)
		case strings.HasPrefix(obj.Key, root+"/"):
			b.add(rootNode, obj.Key[len(root)+1:], obj)
		}
	}
	return rootNode
}

type builder struct {
	url func(key string) string
}

func (b builder) folder(key string) *Node {
	return &Node{
		FileDescriptor: FileDescriptor{
			Name: pathutil.Base(key),
			Key:  key,
			URL:  b.url(key),
		},
		Kind: KindFolder,
	}
}

func (b builder) add(parent *Node, remaining string, obj storage.Object) {
	for remaining != "" {
		name, rest, isFolder := strings.Cut(remaining, "/")
		if !isFolder {
			ext, _ := pathutil.Extension(name)
			parent.Children = append(parent.Children, &Node{
				FileDescriptor: FileDescriptor{
					Name:         name,
					Key:          obj.Key,
					URL:          b.url(obj.Key),
					Size:         obj.Size,
					LastModified: obj.LastModified,
					Extension:    ext,
				},
				Kind: KindFile,
			})
			return
		}

		if name != "" {
			parent = b.childFolder(parent, name)
		}
		remaining = rest
	}
}

// childFolder returns the folder called name under parent, creating it when
// needed.
func (b builder) childFolder(parent *Node, name string) *Node {
	for _, c := range parent.Children {
		if c.IsFolder() && c.Name == name {
			return c
		}
	}

	key := name
	if parent.Key != "" {
		key = parent.Key + "/" + name
	}

	f := b.folder(key)
	parent.Children = append(parent.Children, f)
	return f
}

// SortChildren orders every level of the tree with folders first, then by
// name. The sort is stable so equal names keep their insertion order.
func SortChildren(n *Node) {
	slices.SortStableFunc(n.Children, func(a, b *Node) int {
		if a.IsFolder() != b.IsFolder() {
			if a.IsFolder() {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})

	for _, c := range n.Children {
		if c.IsFolder() {
			SortChildren(c)
		}
	}
}

// Walk visits n and all its descendants depth first. Returning false from fn
// skips the children of the visited node.
func Walk(n *Node, fn func(n *Node, depth int) bool) {
	walk(n, 0, fn)
}

func walk(n *Node, depth int, fn func(n *Node, depth int) bool) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		walk(c, depth+1, fn)
	}
}

// Count returns the number of folders and files below n, excluding n.
func Count(n *Node) (folders int, files int) {
	Walk(n, func(c *Node, depth int) bool {
		if depth == 0 {
			return true
		}
		if c.IsFolder() {
			folders++
		} else {
			files++
		}
		return true
	})
	return folders, files
}
