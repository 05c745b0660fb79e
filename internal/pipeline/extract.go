package pipeline

import (
	"regexp"
	"strings"
)

var (
	sectionMark  = regexp.MustCompile(`(?m)^#{2,3}\s*FILE:\s*(.+?)\s*$`)
	markdownTags = []string{"markdown", "md"}
)

// block is one fenced region of generated text.
type block struct {
	tag  string
	body string
}

// fenceLine reports whether line is a backtick fence and returns the fence
// length and the first word of its info string.
func fenceLine(line string) (n int, tag string, ok bool) {
	line = strings.TrimSpace(line)
	for n < len(line) && line[n] == '`' {
		n++
	}
	if n < 3 {
		return 0, "", false
	}
	info := strings.TrimSpace(line[n:])
	if strings.Contains(info, "`") {
		return 0, "", false
	}
	if i := strings.IndexAny(info, " \t{"); i >= 0 {
		info = info[:i]
	}
	return n, info, true
}

// fencedBlocks scans text line by line. Inside a block, a fence with an info
// string opens a nested block and a bare fence at least as long as its opener
// closes the innermost one, so a README fenced as markdown keeps the code
// blocks it contains. An unterminated block runs to the end of text.
func fencedBlocks(text string) []block {
	var (
		out    []block
		cur    *block
		body   []string
		widths []int
	)
	for _, line := range strings.Split(text, "\n") {
		n, tag, isFence := fenceLine(line)
		if cur == nil {
			if isFence {
				cur = &block{tag: tag}
				widths = []int{n}
				body = body[:0]
			}
			continue
		}
		if isFence {
			switch {
			case tag != "":
				widths = append(widths, n)
			case n >= widths[len(widths)-1]:
				widths = widths[:len(widths)-1]
			}
			if len(widths) == 0 {
				cur.body = strings.Join(body, "\n")
				out = append(out, *cur)
				cur = nil
				continue
			}
		}
		body = append(body, line)
	}
	if cur != nil {
		cur.body = strings.Join(body, "\n")
		out = append(out, *cur)
	}
	return out
}

// ExtractCode pulls code out of generated text. A fenced block tagged with
// one of tags wins, then the first fenced block of any kind, then the whole
// text with surrounding whitespace trimmed. An unterminated fence, as left by
// truncated output, yields whatever follows its opening line.
func ExtractCode(text string, tags ...string) string {
	blocks := fencedBlocks(text)
	for _, b := range blocks {
		for _, t := range tags {
			if strings.EqualFold(b.tag, t) {
				return strings.TrimSpace(b.body)
			}
		}
	}
	if len(blocks) > 0 {
		return strings.TrimSpace(blocks[0].body)
	}
	return strings.TrimSpace(text)
}

// ExtractMarkdown returns the body of a block fenced as markdown, or the raw
// text. Code blocks inside a plain README are kept as they are.
func ExtractMarkdown(text string) string {
	for _, b := range fencedBlocks(text) {
		for _, t := range markdownTags {
			if strings.EqualFold(b.tag, t) {
				return strings.TrimSpace(b.body)
			}
		}
	}
	return strings.TrimSpace(text)
}

// Section is one "### FILE: name" part of a monolithic response.
type Section struct {
	Name string
	Body string
}

// SplitSections cuts text at "### FILE: <name>" marker lines. Text before the
// first marker is dropped.
func SplitSections(text string) []Section {
	locs := sectionMark.FindAllStringSubmatchIndex(text, -1)
	out := make([]Section, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, Section{
			Name: strings.TrimSpace(text[loc[2]:loc[3]]),
			Body: text[loc[1]:end],
		})
	}
	return out
}
