// Package editor implements spec.md's Streaming Search-and-Replace Editor:
// an incremental parser that consumes LLM output chunk-by-chunk as it
// streams in and turns fenced code blocks containing
// <<<<<<</=======/>>>>>>> markers into EditBlock values, plus an applier
// that splices those blocks into file contents.
//
// This is a from-scratch streaming generalization of the teacher's
// dev.ExtractEditBlocks (dev/edit_block.go), which parses a complete string
// after the LLM has finished responding. spec.md requires true incremental
// parsing so the UI Event Channel can emit per-line deltas while the model
// is still generating, hence the explicit state machine below rather than a
// post-hoc bufio.Scanner pass.
package editor

import (
	"strconv"
	"strings"
)

// State names the streaming parser's position within a single edit block,
// matching spec.md §4.C's required state names.
type State int

const (
	StateIdle State = iota
	StateSawFenceOpen
	StateInSearch
	StateInReplace
	StateApplied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSawFenceOpen:
		return "saw_fence_open"
	case StateInSearch:
		return "in_search"
	case StateInReplace:
		return "in_replace"
	case StateApplied:
		return "applied"
	default:
		return "unknown"
	}
}

// EditType mirrors the teacher's EditType string, typed as an enum here.
type EditType string

const (
	EditTypeUpdate EditType = "update"
	EditTypeCreate EditType = "create"
	EditTypeAppend EditType = "append"
	EditTypeDelete EditType = "delete"
)

// Block is one Search-and-Replace edit, the streaming counterpart of the
// teacher's dev.EditBlock.
type Block struct {
	FilePath       string
	EditType       EditType
	OldLines       []string
	NewLines       []string
	SequenceNumber int
}

// LineDelta is emitted for every complete line the parser consumes while a
// block is open, so the UI Event Channel can show the edit forming in real
// time rather than waiting for the whole block to close.
type LineDelta struct {
	State    State
	FilePath string
	Line     string
}

// StreamParser ingests arbitrarily-chunked text and emits Blocks as their
// closing >>>>>>> marker is seen. Feed may be called many times with partial
// lines; a line is only processed once a trailing '\n' completes it.
type StreamParser struct {
	state State

	buf strings.Builder // partial (not yet newline-terminated) line

	inCodeBlock       bool
	lastFilePath      string
	maybeNextFilePath string
	sequenceNumber    int

	current *Block
	blocks  []Block

	onLineDelta func(LineDelta)
}

func NewStreamParser(onLineDelta func(LineDelta)) *StreamParser {
	if onLineDelta == nil {
		onLineDelta = func(LineDelta) {}
	}
	return &StreamParser{onLineDelta: onLineDelta}
}

// Feed appends a chunk of streamed text and processes every complete line it
// contains. Call Flush after the stream ends to process a final line that
// never received a trailing newline.
func (p *StreamParser) Feed(chunk string) {
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx < 0 {
			p.buf.WriteString(chunk)
			return
		}
		p.buf.WriteString(chunk[:idx])
		line := p.buf.String()
		p.buf.Reset()
		p.processLine(strings.TrimSuffix(line, "\r"))
		chunk = chunk[idx+1:]
	}
}

// Flush processes any buffered partial line (treating it as complete) and
// returns every Block parsed so far, in stream order.
func (p *StreamParser) Flush() []Block {
	if p.buf.Len() > 0 {
		line := p.buf.String()
		p.buf.Reset()
		p.processLine(line)
	}
	return p.blocks
}

func (p *StreamParser) processLine(line string) {
	if strings.HasPrefix(line, "```") {
		p.inCodeBlock = !p.inCodeBlock
		if p.inCodeBlock {
			p.lastFilePath = ""
			p.maybeNextFilePath = ""
		}
		return
	}
	if !p.inCodeBlock {
		return
	}

	switch {
	case strings.HasPrefix(line, "<<<<<<<"):
		editType := EditTypeUpdate
		switch {
		case strings.Contains(line, "CREATE_FILE"):
			editType = EditTypeCreate
		case strings.Contains(line, "APPEND_TO_FILE"):
			editType = EditTypeAppend
		case strings.Contains(line, "DELETE_FILE"):
			editType = EditTypeDelete
		}
		filePath := p.maybeNextFilePath
		if filePath == "" {
			filePath = p.lastFilePath
		} else {
			p.lastFilePath = p.maybeNextFilePath
		}
		p.current = &Block{FilePath: filePath, EditType: editType, SequenceNumber: p.sequenceNumber}
		p.sequenceNumber = 0
		p.state = StateSawFenceOpen
		p.emit(line)

	case strings.HasPrefix(line, "======="):
		if p.current != nil {
			p.state = StateInReplace
		}
		p.emit(line)

	case strings.HasPrefix(line, ">>>>>>>"):
		if p.current != nil {
			if (p.current.EditType == EditTypeAppend || p.current.EditType == EditTypeCreate) &&
				len(p.current.NewLines) == 0 && len(p.current.OldLines) > 0 {
				// missing divider: the LLM omitted the "=======" line for a
				// pure-addition block, so treat everything as new content.
				p.current.NewLines = p.current.OldLines
				p.current.OldLines = nil
			}
			p.blocks = append(p.blocks, *p.current)
			p.state = StateApplied
			p.current = nil
		}
		p.emit(line)

	default:
		if p.state != StateInSearch && p.state != StateInReplace {
			if strings.HasPrefix(line, "edit_block:") {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
						p.sequenceNumber = n
					}
				}
				return
			}
			p.maybeNextFilePath = line
			return
		}
		if p.current == nil {
			return
		}
		if p.state == StateSawFenceOpen {
			p.state = StateInSearch
		}
		if p.state == StateInSearch {
			p.current.OldLines = append(p.current.OldLines, line)
		} else if p.state == StateInReplace {
			p.current.NewLines = append(p.current.NewLines, line)
		}
		p.emit(line)
	}
}

func (p *StreamParser) emit(line string) {
	filePath := ""
	if p.current != nil {
		filePath = p.current.FilePath
	}
	p.onLineDelta(LineDelta{State: p.state, FilePath: filePath, Line: line})
}
