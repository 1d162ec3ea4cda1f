package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// 角に置く場合のページ端からの距離（pt）
const edgeMargin = 50

// watermark はテキストまたは画像の透かしを本文の背面に入れます。
// tiled は受け付けますが、敷き詰めには対応していません。
func watermark(_ context.Context, doc *Document, in Input) error {
	kind := strings.ToLower(paramString(in.Params, "type", "text"))
	if kind != "text" && kind != "image" {
		return invalidParams("type must be text or image")
	}

	opacity, err := paramFloat(in.Params, "opacity", 0.3)
	if err != nil {
		return err
	}
	if opacity < 0 || opacity > 1 {
		return invalidParams("opacity must be between 0 and 1")
	}
	rotation, err := paramFloat(in.Params, "rotation", 45)
	if err != nil {
		return err
	}
	pos, err := positionCode(paramString(in.Params, "position", ""), "c")
	if err != nil {
		return err
	}
	pages, err := selectPages(doc, in.Params, "pages", false)
	if err != nil {
		return err
	}

	var wm *model.Watermark
	if kind == "image" {
		if len(in.Image) == 0 {
			return invalidParams("image watermark requires an uploaded image")
		}
		desc := describe(
			"scalefactor:0.5 rel",
			fmt.Sprintf("opacity:%g", opacity),
			fmt.Sprintf("rotation:%g", rotation),
			"position:"+pos,
			offsetFor(pos),
		)
		wm, err = pdfapi.ImageWatermarkForReader(bytes.NewReader(in.Image), desc, false, false, types.POINTS)
	} else {
		text := paramString(in.Params, "text", "CONFIDENTIAL")
		fontSize, ferr := paramInt(in.Params, "fontSize", 48)
		if ferr != nil {
			return ferr
		}
		if fontSize <= 0 {
			return invalidParams("fontSize must be positive")
		}
		color, cerr := paramColor(in.Params, "color", "#FF0000")
		if cerr != nil {
			return cerr
		}
		desc := describe(
			"fontname:Helvetica",
			fmt.Sprintf("points:%d", fontSize),
			"scalefactor:1 abs",
			"fillcolor:"+color,
			fmt.Sprintf("opacity:%g", opacity),
			fmt.Sprintf("rotation:%g", rotation),
			"position:"+pos,
			offsetFor(pos),
		)
		wm, err = pdfapi.TextWatermark(text, desc, false, false, types.POINTS)
	}
	if err != nil {
		return newError(CodeInvalidParams, "invalid watermark settings", err)
	}

	return doc.transform("watermark", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.AddWatermarks(rs, w, pages, wm, newConfig())
	})
}

// sign は署名画像を本文の前面に押します。pages を省略した場合は最終ページです。
func sign(_ context.Context, doc *Document, in Input) error {
	if len(in.Image) == 0 {
		return invalidParams("sign requires an uploaded signature image")
	}
	pos, err := positionCode(paramString(in.Params, "position", ""), "br")
	if err != nil {
		return err
	}
	scale, err := paramFloat(in.Params, "scale", 0.25)
	if err != nil {
		return err
	}
	if scale <= 0 || scale > 1 {
		return invalidParams("scale must be in (0, 1]")
	}
	pages, err := selectPages(doc, in.Params, "pages", false)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		pages = []string{"l"}
	}

	desc := describe(
		fmt.Sprintf("scalefactor:%g rel", scale),
		"rotation:0",
		"position:"+pos,
		offsetFor(pos),
	)
	wm, err := pdfapi.ImageWatermarkForReader(bytes.NewReader(in.Image), desc, true, false, types.POINTS)
	if err != nil {
		return newError(CodeInvalidParams, "invalid signature image", err)
	}
	return doc.transform("sign", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.AddWatermarks(rs, w, pages, wm, newConfig())
	})
}

// pageNumbers は各ページにページ番号を入れます。format の {n} と {total} が置き換わります。
func pageNumbers(_ context.Context, doc *Document, in Input) error {
	format := paramString(in.Params, "format", "{n} / {total}")
	text := strings.NewReplacer("{n}", "%p", "{total}", "%P").Replace(format)

	pos, err := positionCode(paramString(in.Params, "position", ""), "bc")
	if err != nil {
		return err
	}
	fontSize, err := paramInt(in.Params, "fontSize", 12)
	if err != nil {
		return err
	}
	if fontSize <= 0 {
		return invalidParams("fontSize must be positive")
	}

	desc := describe(
		"fontname:Helvetica",
		fmt.Sprintf("points:%d", fontSize),
		"scalefactor:1 abs",
		"fillcolor:#000000",
		"rotation:0",
		"position:"+pos,
		fmt.Sprintf("offset:0 %d", verticalMargin(pos)),
	)
	wm, err := pdfapi.TextWatermark(text, desc, true, false, types.POINTS)
	if err != nil {
		return newError(CodeInvalidParams, "invalid page number settings", err)
	}
	return doc.transform("page numbers", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.AddWatermarks(rs, w, nil, wm, newConfig())
	})
}

func describe(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// offsetFor は角・辺に置く場合にページ端から内側へずらすオフセットを返します。
func offsetFor(pos string) string {
	dx, dy := 0, 0
	if strings.Contains(pos, "l") {
		dx = edgeMargin
	}
	if strings.Contains(pos, "r") {
		dx = -edgeMargin
	}
	dy = verticalMargin(pos)
	if dx == 0 && dy == 0 {
		return ""
	}
	return fmt.Sprintf("offset:%d %d", dx, dy)
}

func verticalMargin(pos string) int {
	switch {
	case strings.HasPrefix(pos, "t"):
		return -edgeMargin / 2
	case strings.HasPrefix(pos, "b"):
		return edgeMargin / 2
	default:
		return 0
	}
}
