// Package parser extracts flashcards from markdown notes written as
// "Q:", "A:" and "C:" blocks separated by blank text or "---".
package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// Entry is one card as written in a note.
type Entry struct {
	Front   string
	Back    string
	Context string
}

type state int

const (
	seeking state = iota
	readingFront
	readingBack
	readingContext
)

var prefixes = map[string]state{
	"Q:": readingFront,
	"A:": readingBack,
	"C:": readingContext,
}

// ParseFile reads the note at path on fs.
func ParseFile(fs afero.Fs, path string) ([]Entry, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse extracts every entry with a non-empty front from r.
func Parse(r io.Reader) ([]Entry, error) {
	p := &parse{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	p.finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p.entries, nil
}

type parse struct {
	entries []Entry
	current Entry
	block   []string
	state   state
}

func (p *parse) line(line string) {
	if line == "---" {
		p.finish()
		return
	}
	next, rest, ok := prefixed(line)
	if !ok {
		if p.state != seeking {
			p.block = append(p.block, line)
		}
		return
	}

	p.flush()
	// A new question always starts a new card.
	if next == readingFront && p.state != seeking {
		p.finish()
	}
	p.state = next
	p.block = append(p.block, rest)
}

func prefixed(line string) (state, string, bool) {
	for prefix, s := range prefixes {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return s, strings.TrimPrefix(rest, " "), true
		}
	}
	return seeking, "", false
}

// flush stores the block read so far in the field of the current state.
func (p *parse) flush() {
	if len(p.block) == 0 {
		return
	}
	content := strings.TrimRight(strings.Join(p.block, "\n"), "\n")
	switch p.state {
	case readingFront:
		p.current.Front = content
	case readingBack:
		p.current.Back = content
	case readingContext:
		p.current.Context = content
	}
	p.block = nil
}

func (p *parse) finish() {
	p.flush()
	if p.current.Front != "" {
		p.entries = append(p.entries, p.current)
	}
	p.current = Entry{}
	p.state = seeking
}
