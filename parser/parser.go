// Package parser turns raw assistant text into typed code artifacts.
//
// Assistant replies arrive in one of several shapes: a JSON object with a
// fileTree mapping, a JSON object with a single code field, or free text
// containing fenced code blocks. The parser applies a strict cascade,
// stopping at the first strategy that yields artifacts, and classifies the
// reply with a Form tag. Malformed structured input is never an error; it
// silently degrades to the next strategy.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/devroom-ai/devroom/model"
)

// Form classifies the shape of an assistant reply.
type Form string

const (
	// FormFileTree means the reply was a JSON object with a fileTree mapping.
	FormFileTree Form = "filetree"
	// FormSingleCode means the reply was a JSON object with a code field.
	FormSingleCode Form = "code"
	// FormPlainText covers fenced-block replies and pure prose.
	FormPlainText Form = "text"
)

// Result is the outcome of parsing one assistant reply. Artifacts may be
// empty when the reply was pure prose; that is not an error.
type Result struct {
	Form      Form
	Artifacts []model.Artifact
}

var (
	// wrapperRe matches a reply that is one single fenced block.
	wrapperRe = regexp.MustCompile("(?s)\\A```(?:\\w+)?\\n(.*)```\\s*\\z")
	// fenceRe matches every fenced block in a reply, capturing the
	// optional language tag and the body.
	fenceRe = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```")
)

// fileTreeReply is the structured fileTree shape:
// {"fileTree": {"path": {"file": {"contents": "..."}}}}.
type fileTreeReply struct {
	FileTree map[string]struct {
		File struct {
			Contents string `json:"contents"`
		} `json:"file"`
	} `json:"fileTree"`
}

// singleCodeReply is the structured single-code shape.
type singleCodeReply struct {
	Code        string `json:"code"`
	Filename    string `json:"filename"`
	Language    string `json:"language"`
	Explanation string `json:"explanation"`
}

// Parse applies the cascade to raw assistant text. Every returned artifact
// is normalized: non-empty filename and language.
func Parse(raw string) Result {
	text := strings.TrimSpace(raw)

	// A stray wrapper fence must not block structured detection.
	if m := wrapperRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	if res, ok := parseFileTree(text); ok {
		return res
	}
	if res, ok := parseSingleCode(text); ok {
		return res
	}
	if res, ok := parseFencedBlocks(raw); ok {
		return res
	}

	// Pure prose.
	return Result{Form: FormPlainText}
}

func parseFileTree(text string) (Result, bool) {
	var reply fileTreeReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil || len(reply.FileTree) == 0 {
		return Result{}, false
	}

	// Map iteration order is random; sort paths so the emitted sequence
	// is deterministic for a given reply.
	paths := make([]string, 0, len(reply.FileTree))
	for p := range reply.FileTree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	artifacts := make([]model.Artifact, 0, len(paths))
	for i, filename := range paths {
		node := reply.FileTree[filename]
		if node.File.Contents == "" {
			continue
		}
		a := model.Artifact{
			ID:       fmt.Sprintf("ft-%d", i+1),
			Filename: filename,
			Language: model.LanguageForPath(filename),
			Code:     unescapeWhitespace(node.File.Contents),
		}
		artifacts = append(artifacts, a.Normalize())
	}
	if len(artifacts) == 0 {
		return Result{}, false
	}
	return Result{Form: FormFileTree, Artifacts: artifacts}, true
}

func parseSingleCode(text string) (Result, bool) {
	var reply singleCodeReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil || reply.Code == "" {
		return Result{}, false
	}

	a := model.Artifact{
		ID:          "code-1",
		Filename:    reply.Filename,
		Language:    reply.Language,
		Code:        reply.Code,
		Explanation: reply.Explanation,
	}

	// The code field itself may carry a fenced block; prefer its language
	// tag and body over the sibling fields.
	if m := fenceRe.FindStringSubmatch(reply.Code); m != nil {
		if m[1] != "" {
			a.Language = m[1]
		}
		a.Code = strings.TrimSpace(m[2])
	}

	return Result{Form: FormSingleCode, Artifacts: []model.Artifact{a.Normalize()}}, true
}

func parseFencedBlocks(raw string) (Result, bool) {
	matches := fenceRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return Result{}, false
	}

	artifacts := make([]model.Artifact, 0, len(matches))
	for i, m := range matches {
		a := model.Artifact{
			ID:       fmt.Sprintf("block-%d", i+1),
			Language: m[1],
			Code:     strings.TrimSpace(m[2]),
		}
		artifacts = append(artifacts, a.Normalize())
	}
	return Result{Form: FormPlainText, Artifacts: artifacts}, true
}

// unescapeWhitespace turns escaped newline/tab sequences in fileTree
// contents into literal whitespace.
func unescapeWhitespace(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, `\t`, "\t")
}

// Prose strips fenced blocks, inline code ticks, and markdown link syntax
// from a reply, leaving the human-readable remainder for chat display.
func Prose(raw string) string {
	s := fenceRe.ReplaceAllString(raw, "")
	s = regexp.MustCompile("`([^`]+)`").ReplaceAllString(s, "$1")
	s = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`).ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
