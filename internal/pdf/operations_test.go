package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/yourusername/pdf-perfect/internal/pdf/pdftest"
)

func apply(t *testing.T, doc *Document, name string, in Input) error {
	t.Helper()
	op, err := DefaultRegistry().Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return op.Apply(context.Background(), doc, in)
}

func saveAndCount(t *testing.T, doc *Document) int {
	t.Helper()
	out, err := doc.Save()
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	reloaded, err := Load(out)
	if err != nil {
		t.Fatalf("reloading output failed: %v", err)
	}
	return reloaded.PageCount()
}

func TestOptimizeKeepsPages(t *testing.T) {
	for _, name := range []string{"noop", "process-pdf", "compress"} {
		doc := mustLoad(t, 3)
		if err := apply(t, doc, name, Input{Params: map[string]any{}}); err != nil {
			t.Fatalf("%s returned error: %v", name, err)
		}
		if got := saveAndCount(t, doc); got != 3 {
			t.Fatalf("%s: unexpected page count %d", name, got)
		}
	}
}

func TestCompressRejectsUnknownLevel(t *testing.T) {
	err := apply(t, mustLoad(t, 1), "compress", Input{Params: map[string]any{"level": "maximum-overdrive"}})
	assertCode(t, err, CodeInvalidParams)
}

func TestExtractPages(t *testing.T) {
	doc := mustLoad(t, 3)
	if err := apply(t, doc, "extract-pages", Input{Params: map[string]any{"pages": "1,3"}}); err != nil {
		t.Fatalf("extract-pages returned error: %v", err)
	}
	if doc.PageCount() != 2 {
		t.Fatalf("unexpected page count: %d", doc.PageCount())
	}
	if got := saveAndCount(t, doc); got != 2 {
		t.Fatalf("unexpected saved page count: %d", got)
	}
}

func TestExtractPagesValidation(t *testing.T) {
	err := apply(t, mustLoad(t, 2), "extract-pages", Input{Params: map[string]any{}})
	assertCode(t, err, CodeInvalidParams)

	err = apply(t, mustLoad(t, 2), "extract-pages", Input{Params: map[string]any{"pages": "5"}})
	assertCode(t, err, CodeInvalidParams)
}

func TestRemovePages(t *testing.T) {
	doc := mustLoad(t, 3)
	if err := apply(t, doc, "remove-pages", Input{Params: map[string]any{"pages": []any{float64(2)}}}); err != nil {
		t.Fatalf("remove-pages returned error: %v", err)
	}
	if got := saveAndCount(t, doc); got != 2 {
		t.Fatalf("unexpected page count: %d", got)
	}

	err := apply(t, mustLoad(t, 2), "remove-pages", Input{Params: map[string]any{"pages": "1,2"}})
	assertCode(t, err, CodeInvalidParams)
}

func TestRotate(t *testing.T) {
	doc := mustLoad(t, 2)
	if err := apply(t, doc, "rotate", Input{Params: map[string]any{"degrees": float64(180)}}); err != nil {
		t.Fatalf("rotate returned error: %v", err)
	}
	if got := saveAndCount(t, doc); got != 2 {
		t.Fatalf("unexpected page count: %d", got)
	}

	err := apply(t, mustLoad(t, 1), "rotate", Input{Params: map[string]any{"degrees": float64(45)}})
	assertCode(t, err, CodeInvalidParams)
}

func TestTextWatermark(t *testing.T) {
	doc := mustLoad(t, 2)
	params := map[string]any{
		"type":     "text",
		"text":     "DRAFT",
		"fontSize": float64(36),
		"opacity":  0.5,
		"rotation": float64(30),
		"position": "top-left",
		"color":    "#336699",
		"tiled":    true,
	}
	if err := apply(t, doc, "watermark", Input{Params: params}); err != nil {
		t.Fatalf("watermark returned error: %v", err)
	}
	if got := saveAndCount(t, doc); got != 2 {
		t.Fatalf("unexpected page count: %d", got)
	}
}

func TestWatermarkValidation(t *testing.T) {
	cases := []map[string]any{
		{"opacity": 2.0},
		{"position": "somewhere"},
		{"color": "red"},
		{"type": "image"},
		{"type": "video"},
	}
	for _, params := range cases {
		err := apply(t, mustLoad(t, 1), "watermark", Input{Params: params})
		assertCode(t, err, CodeInvalidParams)
	}
}

func TestImageWatermarkAndSign(t *testing.T) {
	doc := mustLoad(t, 2)
	if err := apply(t, doc, "watermark", Input{Params: map[string]any{"type": "image"}, Image: pdftest.PNG}); err != nil {
		t.Fatalf("image watermark returned error: %v", err)
	}
	if err := apply(t, doc, "sign", Input{Params: map[string]any{"position": "bottom-right"}, Image: pdftest.PNG}); err != nil {
		t.Fatalf("sign returned error: %v", err)
	}
	if got := saveAndCount(t, doc); got != 2 {
		t.Fatalf("unexpected page count: %d", got)
	}

	err := apply(t, mustLoad(t, 1), "sign", Input{Params: map[string]any{}})
	assertCode(t, err, CodeInvalidParams)
}

func TestPageNumbers(t *testing.T) {
	doc := mustLoad(t, 3)
	if err := apply(t, doc, "page-numbers", Input{Params: map[string]any{"format": "Page {n} of {total}"}}); err != nil {
		t.Fatalf("page-numbers returned error: %v", err)
	}
	if got := saveAndCount(t, doc); got != 3 {
		t.Fatalf("unexpected page count: %d", got)
	}
}

func TestProtect(t *testing.T) {
	err := apply(t, mustLoad(t, 1), "protect", Input{Params: map[string]any{}})
	assertCode(t, err, CodeInvalidParams)

	doc := mustLoad(t, 1)
	if err := apply(t, doc, "protect", Input{Params: map[string]any{"password": "s3cret"}}); err != nil {
		t.Fatalf("protect returned error: %v", err)
	}
	out, err := doc.Save()
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !bytes.Contains(out, []byte("/Encrypt")) {
		t.Fatal("expected encrypted output to reference an /Encrypt dictionary")
	}
}
