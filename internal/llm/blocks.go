package llm

import "regexp"

var fenceRe = regexp.MustCompile("(?si)```([a-z]*)\n?(.*?)```")

// FencedBlocks returns the contents of all fenced code blocks in a model
// response whose info string matches lang. An empty lang matches any fence.
// Model output is untrusted; callers must still validate the extracted text.
func FencedBlocks(content, lang string) []string {
	var blocks []string
	for _, m := range fenceRe.FindAllStringSubmatch(content, -1) {
		if lang != "" && m[1] != lang {
			continue
		}
		blocks = append(blocks, m[2])
	}
	return blocks
}

// FirstFencedBlock returns the first matching fenced block, or "" when the
// response carried none.
func FirstFencedBlock(content, lang string) string {
	blocks := FencedBlocks(content, lang)
	if len(blocks) == 0 {
		return ""
	}
	return blocks[0]
}
