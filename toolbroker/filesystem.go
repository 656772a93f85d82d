package toolbroker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sidecar/domain"
)

// OpenFileTool reads a file's content (or a line range of it), grounded on
// the teacher's dev/read_file.go ReadFileActivity.
type OpenFileTool struct {
	BaseDir string
}

func (OpenFileTool) Name() domain.ToolName { return domain.ToolOpenFile }

func (t OpenFileTool) Call(_ domain.MessageProperties, input domain.ToolInput) (any, error) {
	params := input.OpenFile
	absPath := filepath.Join(t.BaseDir, params.FilePath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open_file %s: %w", params.FilePath, err)
	}
	if params.StartLine == 0 && params.EndLine == 0 {
		return domain.OpenFileOutput{Content: string(content)}, nil
	}

	lines := strings.Split(string(content), "\n")
	start := max(params.StartLine-1, 0)
	end := len(lines)
	if params.EndLine > 0 && params.EndLine < end {
		end = params.EndLine
	}
	if start > end {
		return nil, fmt.Errorf("open_file %s: startLine %d is past end of file", params.FilePath, params.StartLine)
	}
	return domain.OpenFileOutput{Content: strings.Join(lines[start:end], "\n")}, nil
}

// ListFilesTool lists a directory's entries, optionally recursively.
type ListFilesTool struct {
	BaseDir string
}

func (ListFilesTool) Name() domain.ToolName { return domain.ToolListFiles }

func (t ListFilesTool) Call(_ domain.MessageProperties, input domain.ToolInput) (any, error) {
	params := input.ListFiles
	root := filepath.Join(t.BaseDir, params.DirectoryPath)

	var paths []string
	if !params.Recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("list_files %s: %w", params.DirectoryPath, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			paths = append(paths, filepath.Join(params.DirectoryPath, name))
		}
		return domain.ListFilesOutput{Paths: paths}, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if isIgnoredDir(d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(t.BaseDir, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			rel += "/"
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list_files %s: %w", params.DirectoryPath, err)
	}
	return domain.ListFilesOutput{Paths: paths}, nil
}

func isIgnoredDir(d fs.DirEntry) bool {
	if !d.IsDir() {
		return false
	}
	switch d.Name() {
	case ".git", "node_modules", "vendor":
		return true
	default:
		return false
	}
}

// maxSearchHits and maxSearchMatchedLines enforce spec.md §4.B's bound on
// SearchFileContentWithRegex: 1000 matched lines total (250 hits, each
// costing up to 4 lines of context), truncated with a marker rather than
// erroring once exceeded.
const (
	maxSearchHits         = 250
	contextLinesPerHit    = 4
	maxSearchMatchedLines = maxSearchHits * contextLinesPerHit
)

// SearchFileContentTool greps for a regular expression across files under a
// directory, generalizing the teacher's dev/search_repository.go (which
// shells out to ripgrep) into an in-process regexp scan so the tool has no
// external-binary dependency.
type SearchFileContentTool struct {
	BaseDir string
}

func (SearchFileContentTool) Name() domain.ToolName { return domain.ToolSearchFileContent }

func (t SearchFileContentTool) Call(_ domain.MessageProperties, input domain.ToolInput) (any, error) {
	params := input.SearchFileContent
	pattern, err := regexp.Compile(params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("search_file_content: invalid pattern: %w", err)
	}
	root := filepath.Join(t.BaseDir, params.DirectoryPath)

	var matches []domain.SearchMatch
	matchedLines := 0
	truncated := false

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if truncated {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if isIgnoredDir(d) {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if params.FileGlob != "" {
			if ok, _ := filepath.Match(params.FileGlob, d.Name()); !ok {
				return nil
			}
		}

		rel, relErr := filepath.Rel(t.BaseDir, path)
		if relErr != nil {
			rel = path
		}

		lines, readErr := readLines(path)
		if readErr != nil {
			return nil // unreadable file (permissions, broken symlink, binary): skip, don't fail the whole search
		}

		for i, line := range lines {
			if !pattern.MatchString(line) {
				continue
			}
			if len(matches) >= maxSearchHits || matchedLines+contextLinesPerHit > maxSearchMatchedLines {
				truncated = true
				break
			}
			matches = append(matches, domain.SearchMatch{
				FilePath: rel,
				Line:     i + 1,
				Text:     line,
				Context:  contextAround(lines, i),
			})
			matchedLines += contextLinesPerHit
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search_file_content %s: %w", params.DirectoryPath, err)
	}
	return domain.SearchFileContentOutput{Matches: matches, Truncated: truncated}, nil
}

// readLines slurps a file into lines for context-window extraction; search
// targets are source files, small enough that this is simpler than streaming
// a sliding window through a bufio.Scanner.
func readLines(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(content), "\n"), nil
}

// contextAround returns up to one line before and two lines after the match
// at index i, the match itself included, capped at contextLinesPerHit lines.
func contextAround(lines []string, i int) []string {
	start := max(i-1, 0)
	end := min(i+3, len(lines))
	return lines[start:end]
}
