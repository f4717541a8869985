// Package proctree snapshots the system process table as a parent/child graph.
//
// The snapshot comes from `ps -e -o pid= -o ppid= -o args=` and is rebuilt on
// every call; PIDs are recycled by the kernel, so a snapshot is never cached.
// Traversal works on the parsed graph alone and can be exercised with
// synthetic trees.
package proctree

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/sysexec"
)

// Node is one process table row.
type Node struct {
	PID     int
	PPID    int
	Command string
}

// Tree is an immutable process table snapshot.
type Tree struct {
	children map[int][]int
	nodes    map[int]Node
}

// NewTree indexes nodes. Later duplicates of a PID replace earlier ones.
func NewTree(nodes []Node) *Tree {
	t := &Tree{
		children: make(map[int][]int),
		nodes:    make(map[int]Node, len(nodes)),
	}
	for _, n := range nodes {
		t.nodes[n.PID] = n
	}
	for _, n := range t.nodes {
		t.children[n.PPID] = append(t.children[n.PPID], n.PID)
	}
	for ppid := range t.children {
		sort.Ints(t.children[ppid])
	}
	return t
}

// Parse builds a Tree from ps output. Rows that do not start with two
// integer columns are skipped.
func Parse(output string) *Tree {
	var nodes []Node
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		nodes = append(nodes, Node{PID: pid, PPID: ppid, Command: argsColumn(line)})
	}
	return NewTree(nodes)
}

// argsColumn returns everything after the second whitespace-separated field,
// preserving the spacing inside the command line.
func argsColumn(line string) string {
	rest := strings.TrimLeft(line, " \t")
	for i := 0; i < 2; i++ {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeft(rest[idx:], " \t")
	}
	return strings.TrimRight(rest, " \t\r")
}

// Len returns the number of processes in the snapshot.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Children returns pid's direct children in ascending order.
func (t *Tree) Children(pid int) []int {
	return t.children[pid]
}

// Command returns pid's command line.
func (t *Tree) Command(pid int) (string, bool) {
	n, ok := t.nodes[pid]
	return n.Command, ok
}

// Parent returns pid's parent PID.
func (t *Tree) Parent(pid int) (int, bool) {
	n, ok := t.nodes[pid]
	return n.PPID, ok
}

// DescendantsWithDepth walks the tree breadth-first from root and returns
// every reachable descendant with its distance from root. Root itself is not
// included; its children have depth 1. Each PID is visited once, so
// malformed input containing cycles still terminates.
func (t *Tree) DescendantsWithDepth(root int) map[int]int {
	depths := make(map[int]int)
	seen := map[int]bool{root: true}
	queue := []int{root}
	level := map[int]int{root: 0}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range t.children[pid] {
			if seen[child] {
				continue
			}
			seen[child] = true
			level[child] = level[pid] + 1
			depths[child] = level[child]
			queue = append(queue, child)
		}
	}
	return depths
}

// Ancestors returns pid's parent chain, nearest first, stopping at PID 0 or
// at the first PID missing from the snapshot.
func (t *Tree) Ancestors(pid int) []int {
	var out []int
	seen := map[int]bool{pid: true}
	for {
		n, ok := t.nodes[pid]
		if !ok || n.PPID <= 0 || seen[n.PPID] {
			return out
		}
		out = append(out, n.PPID)
		seen[n.PPID] = true
		pid = n.PPID
	}
}

// Match returns the PIDs whose command line contains substr, ascending.
func (t *Tree) Match(substr string) []int {
	var out []int
	for pid, n := range t.nodes {
		if strings.Contains(n.Command, substr) {
			out = append(out, pid)
		}
	}
	sort.Ints(out)
	return out
}

// Indexer takes process table snapshots.
type Indexer struct {
	runner sysexec.Runner
	logger *logging.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(runner sysexec.Runner, logger *logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Indexer{runner: runner, logger: logger}
}

// Build snapshots the live process table. When ps is missing or fails the
// returned Tree is empty, which callers treat as "no descendants".
func (x *Indexer) Build(ctx context.Context) *Tree {
	res, err := x.runner.Run(ctx, "ps", "-e", "-o", "pid=", "-o", "ppid=", "-o", "args=")
	if err != nil {
		if errors.Is(err, errors.ErrToolUnavailable) {
			x.logger.Warn("ps is not installed", "error", err)
		} else {
			x.logger.Warn("process table query failed", "error", err)
		}
		return NewTree(nil)
	}
	tree := Parse(res.Stdout)
	x.logger.Debug("process table snapshot", "processes", tree.Len())
	return tree
}
