package langservice

import "strings"

// Block is a run of consecutive non-blank lines, zero-based and inclusive.
type Block struct {
	StartLine int
	EndLine   int
}

// QueryBlocks splits text into blank-line separated query blocks. Only
// blocks spanning more than one line are foldable and returned.
func QueryBlocks(text string) []Block {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var blocks []Block
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			blocks = append(blocks, Block{StartLine: start, EndLine: end})
		}
		start = -1
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i - 1)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(lines) - 1)
	return blocks
}
