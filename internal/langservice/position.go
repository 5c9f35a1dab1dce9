package langservice

// lineOffsets returns the byte offset of each line start.
func lineOffsets(content string) []int {
	offsets := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// Offset converts a zero-based line/character position to a byte offset,
// clamped to the content.
func Offset(content string, line, character int) int {
	lines := lineOffsets(content)
	if line < 0 {
		return 0
	}
	if line >= len(lines) {
		return len(content)
	}
	offset := lines[line] + character
	if offset > len(content) {
		return len(content)
	}
	return offset
}

// WordBefore returns the identifier characters immediately preceding offset.
func WordBefore(content string, offset int) string {
	if offset > len(content) {
		offset = len(content)
	}
	start := offset
	for start > 0 && isIdentChar(content[start-1]) {
		start--
	}
	return content[start:offset]
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
