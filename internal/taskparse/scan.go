package taskparse

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

// maxConcurrentFileReads bounds the fan-out reading markdown files out of
// the vault, per spec.md §5's "concurrency-limited fan-out, e.g., 16 in
// flight" note.
const maxConcurrentFileReads = 16

// ScanVault walks root for *.md files and parses every task line in each,
// skipping fenced code regions, with bounded concurrency across files.
// Indent is each line's leading whitespace width (a tab counts as 4);
// ParentID points at the nearest preceding task line in the same file with
// a smaller Indent, feeding the [DOMAIN] subtask support.
func ScanVault(ctx context.Context, root string) ([]model.Task, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("taskparse: walking vault: %w", err)
	}

	var (
		all []model.Task
		mu  sync.Mutex
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFileReads)

	for _, path := range files {
		path := path
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			tasks, err := parseFile(path, root)
			if err != nil {
				return fmt.Errorf("taskparse: reading %s: %w", path, err)
			}
			mu.Lock()
			all = append(all, tasks...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func parseFile(path, root string) ([]model.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	var tasks []model.Task
	var parentStack []struct {
		indent int
		id     string
	}

	inFence := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		task, ok := Parse(line, rel, lineNo)
		if !ok {
			continue
		}

		task.Indent = leadingIndent(line)
		for len(parentStack) > 0 && parentStack[len(parentStack)-1].indent >= task.Indent {
			parentStack = parentStack[:len(parentStack)-1]
		}
		if len(parentStack) > 0 {
			parentID := parentStack[len(parentStack)-1].id
			task.ParentID = &parentID
		}
		parentStack = append(parentStack, struct {
			indent int
			id     string
		}{task.Indent, task.ID})

		tasks = append(tasks, task)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return tasks, nil
}

func leadingIndent(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}
