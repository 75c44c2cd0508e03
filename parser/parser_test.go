package parser

import (
	"testing"
)

func TestParseFileTreeRoundTrip(t *testing.T) {
	raw := `{"fileTree":{"a/b.js":{"file":{"contents":"x"}}}}`
	res := Parse(raw)
	if res.Form != FormFileTree {
		t.Fatalf("expected filetree form, got %q", res.Form)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(res.Artifacts))
	}
	a := res.Artifacts[0]
	if a.Filename != "a/b.js" || a.Language != "javascript" || a.Code != "x" {
		t.Fatalf("unexpected artifact: %+v", a)
	}
}

func TestParseFileTreeUnescapesWhitespace(t *testing.T) {
	raw := `{"fileTree":{"app.js":{"file":{"contents":"line1\\nline2\\tend"}}}}`
	res := Parse(raw)
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(res.Artifacts))
	}
	if res.Artifacts[0].Code != "line1\nline2\tend" {
		t.Fatalf("whitespace not unescaped: %q", res.Artifacts[0].Code)
	}
}

func TestParseFileTreeLanguageInference(t *testing.T) {
	raw := `{"fileTree":{"README":{"file":{"contents":"hi"}},"main.py":{"file":{"contents":"print(1)"}}}}`
	res := Parse(raw)
	if len(res.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(res.Artifacts))
	}
	// Paths are sorted, so README comes first.
	if res.Artifacts[0].Language != "text" {
		t.Fatalf("expected 'text' for README, got %q", res.Artifacts[0].Language)
	}
	if res.Artifacts[1].Language != "py" {
		t.Fatalf("expected 'py' for main.py, got %q", res.Artifacts[1].Language)
	}
}

func TestParseWrapperFenceUnwrapped(t *testing.T) {
	raw := "```json\n{\"fileTree\":{\"index.js\":{\"file\":{\"contents\":\"x\"}}}}```"
	res := Parse(raw)
	if res.Form != FormFileTree {
		t.Fatalf("wrapper fence blocked filetree detection, got form %q", res.Form)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Filename != "index.js" {
		t.Fatalf("unexpected artifacts: %+v", res.Artifacts)
	}
}

func TestParseSingleCodeWithInnerFence(t *testing.T) {
	raw := `{"code":"` + "```go\\nfunc main() {}\\n```" + `","filename":"main.go","explanation":"entry point"}`
	res := Parse(raw)
	if res.Form != FormSingleCode {
		t.Fatalf("expected code form, got %q", res.Form)
	}
	a := res.Artifacts[0]
	if a.Language != "go" {
		t.Fatalf("expected inner fence language 'go', got %q", a.Language)
	}
	if a.Code != "func main() {}" {
		t.Fatalf("unexpected code: %q", a.Code)
	}
	if a.Filename != "main.go" || a.Explanation != "entry point" {
		t.Fatalf("sibling fields lost: %+v", a)
	}
}

func TestParseSingleCodeRawString(t *testing.T) {
	raw := `{"code":"puts 1","language":"ruby","filename":"one.rb"}`
	res := Parse(raw)
	if res.Form != FormSingleCode {
		t.Fatalf("expected code form, got %q", res.Form)
	}
	a := res.Artifacts[0]
	if a.Code != "puts 1" || a.Language != "ruby" || a.Filename != "one.rb" {
		t.Fatalf("unexpected artifact: %+v", a)
	}
}

func TestParseFencedBlocksInOrder(t *testing.T) {
	raw := "Here are two snippets:\n```python\nprint(1)\n```\nand\n```text\nplain\n```\ndone"
	res := Parse(raw)
	if res.Form != FormPlainText {
		t.Fatalf("expected text form, got %q", res.Form)
	}
	if len(res.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(res.Artifacts))
	}
	if res.Artifacts[0].Language != "python" || res.Artifacts[1].Language != "text" {
		t.Fatalf("languages out of order: %q, %q", res.Artifacts[0].Language, res.Artifacts[1].Language)
	}
	for _, a := range res.Artifacts {
		if a.Filename == "" {
			t.Fatalf("artifact missing placeholder filename: %+v", a)
		}
	}
}

func TestParseFencedBlockDefaultLanguage(t *testing.T) {
	raw := "```\nno tag here\n```"
	res := Parse(raw)
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(res.Artifacts))
	}
	if res.Artifacts[0].Language != "plaintext" {
		t.Fatalf("expected 'plaintext', got %q", res.Artifacts[0].Language)
	}
}

func TestParsePureProse(t *testing.T) {
	res := Parse("Sure! Here is how recursion works: a function calls itself.")
	if res.Form != FormPlainText {
		t.Fatalf("expected text form, got %q", res.Form)
	}
	if len(res.Artifacts) != 0 {
		t.Fatalf("expected no artifacts, got %d", len(res.Artifacts))
	}
}

func TestParseMalformedJSONDegradesToFences(t *testing.T) {
	raw := `{"fileTree": broken json` + "\n```js\nconsole.log(1)\n```"
	res := Parse(raw)
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected fallback to fence scan, got %d artifacts", len(res.Artifacts))
	}
	if res.Artifacts[0].Language != "js" {
		t.Fatalf("expected 'js', got %q", res.Artifacts[0].Language)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	raw := `{"fileTree":{"b.js":{"file":{"contents":"b"}},"a.js":{"file":{"contents":"a"}},"c/d.js":{"file":{"contents":"d"}}}}`
	first := Parse(raw)
	second := Parse(raw)
	if len(first.Artifacts) != len(second.Artifacts) {
		t.Fatalf("artifact counts differ: %d vs %d", len(first.Artifacts), len(second.Artifacts))
	}
	for i := range first.Artifacts {
		if first.Artifacts[i] != second.Artifacts[i] {
			t.Fatalf("artifact %d differs: %+v vs %+v", i, first.Artifacts[i], second.Artifacts[i])
		}
	}
}

func TestProseStripsCodeAndLinks(t *testing.T) {
	raw := "Use `npm start` to run.\n```js\nx\n```\nSee [docs](https://example.com) for more."
	got := Prose(raw)
	if got != "Use npm start to run.\n\nSee docs for more." {
		t.Fatalf("unexpected prose: %q", got)
	}
}
