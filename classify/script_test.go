package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const cardScript = `
function classify(text) {
	var out = [];
	var re = /\d[\d ]{11,21}\d/g;
	var m;
	while ((m = re.exec(text)) !== null) {
		if (luhn(m[0])) {
			out.push({label: "CREDIT_CARD", score: 0.99, start: m.index, end: m.index + m[0].length});
		}
	}
	if (text.indexOf("Project Falcon") >= 0) {
		out.push({label: "CODENAME", text: "Project Falcon"});
	}
	return out;
}
`

func TestScriptClassifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.js")
	if err := os.WriteFile(path, []byte(cardScript), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadScript(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	anns, err := c.Classify(context.Background(), "Project Falcon card 4111 1111 1111 1111, bad 4111 1111 1111 1112")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(anns) != 2 {
		t.Fatalf("got %+v", anns)
	}
	if anns[0].Label != "CODENAME" || anns[0].Score != 1 || anns[0].Text != "Project Falcon" {
		t.Fatalf("first %+v", anns[0])
	}
	if anns[1].Label != "CREDIT_CARD" || anns[1].Text != "4111 1111 1111 1111" || anns[1].Start != 20 {
		t.Fatalf("second %+v", anns[1])
	}
}

func TestScriptClassifierErrors(t *testing.T) {
	if _, err := NewScriptClassifier("empty.js", "var x = 1;"); !errors.Is(err, ErrNoClassifyFunc) {
		t.Fatalf("got %v", err)
	}
	if _, err := NewScriptClassifier("syntax.js", "function classify( {"); err == nil {
		t.Fatalf("expected compile error")
	}
	c, err := NewScriptClassifier("bad.js", `function classify(t) { return [{score: 1}]; }`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Classify(context.Background(), "x"); err == nil {
		t.Fatalf("expected missing label error")
	}
	c, err = NewScriptClassifier("throws.js", `function classify(t) { throw new Error("nope"); }`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Classify(context.Background(), "x"); err == nil {
		t.Fatalf("expected script error")
	}
}

func TestScriptClassifierInterrupt(t *testing.T) {
	c, err := NewScriptClassifier("spin.js", `function classify(t) { if (t === "spin") { while (true) {} } return null; }`)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Classify(ctx, "spin"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
	// usable again once the interrupt is cleared
	if anns, err := c.Classify(context.Background(), "x"); err != nil || anns != nil {
		t.Fatalf("got %+v, %v", anns, err)
	}
}
