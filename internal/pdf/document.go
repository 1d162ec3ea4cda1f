// Package pdf は pdfcpu をラップし、ジョブで実行する PDF 操作を提供します。
package pdf

import (
	"bytes"
	"fmt"
	"io"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// ユーザーディレクトリに pdfcpu の設定ファイルを作らせない
	pdfapi.DisableConfigDir()
}

// Document は読み込み済みの PDF です。
// 操作はバイト列に対して pdfcpu を適用し、結果で内容を置き換えます。
type Document struct {
	data  []byte
	ctx   *model.Context
	pages int
}

// Info は PDF の基本情報です。
type Info struct {
	Pages int
	Size  int
}

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Load はバイト列を PDF として読み込み、検証します。
// 読み込めない場合は UNSUPPORTED_PDF のエラーを返します。
func Load(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, newError(CodeUnsupportedPDF, "document is empty", nil)
	}
	ctx, err := pdfapi.ReadContext(bytes.NewReader(data), newConfig())
	if err != nil {
		return nil, newError(CodeUnsupportedPDF, "failed to read document", err)
	}
	if err := pdfapi.ValidateContext(ctx); err != nil {
		return nil, newError(CodeUnsupportedPDF, "document failed validation", err)
	}
	return &Document{
		data:  data,
		ctx:   ctx,
		pages: ctx.PageCount,
	}, nil
}

// PageCount はページ数を返します。
func (d *Document) PageCount() int {
	return d.pages
}

// Info は現在の内容の基本情報を返します。
func (d *Document) Info() Info {
	return Info{Pages: d.pages, Size: len(d.data)}
}

// Save は PDF をシリアライズします。
// 読み込み後に操作していない場合は pdfcpu で書き直し、操作済みなら最後の出力をそのまま返します。
func (d *Document) Save() ([]byte, error) {
	if d.ctx == nil {
		return append([]byte(nil), d.data...), nil
	}
	if err := pdfapi.OptimizeContext(d.ctx); err != nil {
		return nil, newError(CodeUnsupportedPDF, "failed to prepare document for writing", err)
	}
	var buf bytes.Buffer
	if err := pdfapi.WriteContext(d.ctx, &buf); err != nil {
		return nil, newError(CodeUnsupportedPDF, "failed to write document", err)
	}
	return buf.Bytes(), nil
}

// transform は pdfcpu の reader/writer API を現在の内容に適用します。
func (d *Document) transform(action string, fn func(rs io.ReadSeeker, w io.Writer) error) error {
	var out bytes.Buffer
	if err := fn(bytes.NewReader(d.data), &out); err != nil {
		return newError(CodeUnsupportedPDF, fmt.Sprintf("%s failed", action), err)
	}
	d.data = out.Bytes()
	d.ctx = nil

	// 暗号化後などページ数を数えられない場合は直前の値を残す
	if n, err := pdfapi.PageCount(bytes.NewReader(d.data), newConfig()); err == nil {
		d.pages = n
	}
	return nil
}
