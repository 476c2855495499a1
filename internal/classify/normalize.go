package classify

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// New-style panic header: `thread 'rustc' panicked at path.rs:12:34:`
	// with the message on the following line(s).
	panicHeaderRe = regexp.MustCompile(`thread '[^']*' panicked at ([^\s:]+\.rs):\d+:\d+:?`)
	// Old-style header: `thread 'rustc' panicked at 'message', path.rs:12:34`.
	panicOldRe = regexp.MustCompile(`thread '[^']*' panicked at '(.*?)', ([^\s:]+\.rs):\d+:\d+`)
	iceLineRe  = regexp.MustCompile(`(?i)(?:^|\n)[^\n]*internal compiler error:\s*([^\n]+)`)

	locRe    = regexp.MustCompile(`[\w./\\+-]+\.rs:\d+(:\d+)?`)
	pathRe   = regexp.MustCompile(`(?:/[\w.+-]+){2,}`)
	addrRe   = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	defIDRe  = regexp.MustCompile(`DefId\([^)]*\)`)
	numRe    = regexp.MustCompile(`\b\d+\b`)
	frameRe  = regexp.MustCompile(`(?m)^\s*\d+:\s+(?:0x[0-9a-f]+ - )?([\w:<>,&'\[\]().$ ]+)`)
	hashSufRe = regexp.MustCompile(`::h[0-9a-f]{16}`)
)

// Normalize reduces raw crash output to a stable signature: the panic message
// template with paths, line/column numbers, addresses and ids stripped, plus
// the top non-panicking backtrace frame. Two captures that differ only in
// such incidentals normalize to the same key.
func Normalize(output string) *Signature {
	sig := &Signature{}

	if m := panicOldRe.FindStringSubmatch(output); m != nil {
		sig.PanicMessage = scrub(m[1])
		sig.PanicLocation = m[2]
	} else if m := panicHeaderRe.FindStringSubmatch(output); m != nil {
		sig.PanicLocation = m[1]
		sig.PanicMessage = scrub(messageAfterHeader(output, m[0]))
	}

	if sig.PanicMessage == "" {
		if m := iceLineRe.FindStringSubmatch(output); m != nil {
			sig.PanicMessage = scrub(strings.TrimSpace(m[1]))
		}
	}
	if sig.PanicMessage == "" {
		sig.PanicMessage = scrub(lastNonEmptyLine(output))
	}

	sig.TopFrame = topFrame(output)
	sig.Key = fingerprint(sig.PanicMessage + "|" + sig.TopFrame)
	return sig
}

// messageAfterHeader returns the first non-empty line following the panic
// header, which in the current panic format carries the message.
func messageAfterHeader(output, header string) string {
	idx := strings.Index(output, header)
	if idx < 0 {
		return ""
	}
	rest := output[idx+len(header):]
	for _, line := range strings.Split(rest, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "stack backtrace") || strings.HasPrefix(trimmed, "note:") {
			break
		}
		return trimmed
	}
	return ""
}

// topFrame extracts the first backtrace frame that is not panic plumbing.
func topFrame(output string) string {
	idx := strings.Index(output, "stack backtrace:")
	if idx < 0 {
		return ""
	}
	for _, m := range frameRe.FindAllStringSubmatch(output[idx:], -1) {
		frame := strings.TrimSpace(hashSufRe.ReplaceAllString(m[1], ""))
		if frame == "" {
			continue
		}
		if strings.Contains(frame, "panicking") || strings.HasPrefix(frame, "std::panic") ||
			strings.HasPrefix(frame, "rust_begin_unwind") || strings.HasPrefix(frame, "core::panic") {
			continue
		}
		return frame
	}
	return ""
}

// scrub removes candidate-specific incidentals from a message line.
func scrub(s string) string {
	s = locRe.ReplaceAllString(s, "$$LOC")
	s = pathRe.ReplaceAllString(s, "$$PATH")
	s = addrRe.ReplaceAllString(s, "$$ADDR")
	s = defIDRe.ReplaceAllString(s, "DefId($$ID)")
	s = numRe.ReplaceAllString(s, "$$N")
	return strings.TrimSpace(s)
}

// fingerprint is an FNV-1a hash over the normalized input, rendered the same
// way case fingerprints are elsewhere in the stores.
func fingerprint(input string) string {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(input); i++ {
		h ^= uint64(input[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}
