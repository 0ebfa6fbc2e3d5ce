package pipeline

import (
	"regexp"
	"strings"

	"appforge/internal/types"
)

// Generated output delimits files with marker lines. A file body runs from
// its FILE marker to the next FILE marker, or to an explicit END FILE
// marker. The marker contract is guaranteed by the generation prompts, not
// by this engine.
var fileMarkerPattern = regexp.MustCompile(`(?m)^### FILE:[ \t]*(.+?)[ \t]*$`)

const endFileMarker = "### END FILE"

// Extractor incrementally extracts completed files from a live token
// stream. It accumulates every fragment into a single buffer and rescans
// the whole buffer after each feed. Intentionally simple and correct:
// since fragments are small and one generation's output is bounded.
//
// Each path is surfaced at most once across Feed calls and the Finalize
// pass. Not safe for concurrent use; one extractor serves one attempt.
type Extractor struct {
	buf     strings.Builder
	emitted map[string]bool
	ordinal int
}

// NewExtractor creates an empty extractor.
func NewExtractor() *Extractor {
	return &Extractor{emitted: make(map[string]bool)}
}

// MarkEmitted records paths already surfaced to the consumer (e.g. by a
// previous fallback attempt) so they are not emitted again.
func (e *Extractor) MarkEmitted(paths ...string) {
	for _, p := range paths {
		e.emitted[p] = true
	}
}

// EmittedPaths returns the paths surfaced so far.
func (e *Extractor) EmittedPaths() []string {
	out := make([]string, 0, len(e.emitted))
	for p := range e.emitted {
		out = append(out, p)
	}
	return out
}

// Buffer returns the accumulated stream content.
func (e *Extractor) Buffer() string {
	return e.buf.String()
}

// Feed appends a fragment and returns files whose terminating boundary is
// now present in the buffer and that have not been returned before. The
// still-open file at the tail of the stream is never returned here.
func (e *Extractor) Feed(fragment string) []types.File {
	e.buf.WriteString(fragment)
	return e.scan(false)
}

// Finalize runs the authoritative final pass over the complete buffer and
// returns any files not already emitted incrementally, including the one
// whose terminating boundary only arrives at end of stream.
func (e *Extractor) Finalize() []types.File {
	return e.scan(true)
}

func (e *Extractor) scan(final bool) []types.File {
	s := e.buf.String()
	marks := fileMarkerPattern.FindAllStringSubmatchIndex(s, -1)

	var out []types.File
	for i, m := range marks {
		path := strings.TrimSpace(s[m[2]:m[3]])

		var body string
		if i < len(marks)-1 {
			body = s[m[1]:marks[i+1][0]]
		} else {
			// Last file in the buffer: complete only when explicitly
			// terminated, or at the final pass.
			tail := s[m[1]:]
			if !final && !strings.Contains(tail, endFileMarker) {
				continue
			}
			body = tail
		}

		if idx := strings.Index(body, endFileMarker); idx >= 0 {
			body = body[:idx]
		}

		if path == "" || e.emitted[path] {
			continue
		}
		e.emitted[path] = true
		out = append(out, types.File{
			Path:     path,
			Content:  cleanContent(body),
			Role:     InferRole(path),
			Language: InferLanguage(path),
			Ordinal:  e.ordinal,
		})
		e.ordinal++
	}
	return out
}

// cleanContent trims boundary whitespace and strips a wrapping markdown
// code fence if the model added one despite the prompt contract.
func cleanContent(s string) string {
	s = strings.Trim(s, "\n")
	if strings.HasPrefix(s, "```") {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return ""
		}
		s = s[nl+1:]
		s = strings.TrimRight(s, "\n \t")
		s = strings.TrimSuffix(s, "```")
		s = strings.Trim(s, "\n")
	}
	return s
}
