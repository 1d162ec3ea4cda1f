package pdf

import (
	"context"
	"io"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// noop は読み込みと書き出しだけを行います。
func noop(context.Context, *Document, Input) error {
	return nil
}

// optimize は重複オブジェクトの除去などで PDF を最適化します。
func optimize(_ context.Context, doc *Document, _ Input) error {
	return doc.transform("optimize", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.Optimize(rs, w, newConfig())
	})
}

// compress は optimize と同じ処理です。level は受け付けるだけで処理には影響しません。
func compress(ctx context.Context, doc *Document, in Input) error {
	switch level := paramString(in.Params, "level", "medium"); level {
	case "low", "medium", "high", "recommended", "extreme":
	default:
		return invalidParams("unsupported compression level %q", level)
	}
	return optimize(ctx, doc, in)
}

func rotate(_ context.Context, doc *Document, in Input) error {
	degrees, err := paramInt(in.Params, "degrees", 90)
	if err != nil {
		return err
	}
	if degrees%90 != 0 {
		return invalidParams("degrees must be a multiple of 90")
	}
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 {
		return nil
	}
	pages, err := selectPages(doc, in.Params, "pages", false)
	if err != nil {
		return err
	}
	return doc.transform("rotate", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.Rotate(rs, w, degrees, pages, newConfig())
	})
}

// extractPages は指定したページだけを指定順に残します。
func extractPages(_ context.Context, doc *Document, in Input) error {
	pages, err := selectPages(doc, in.Params, "pages", true)
	if err != nil {
		return err
	}
	return doc.transform("extract pages", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.Collect(rs, w, pages, newConfig())
	})
}

func removePages(_ context.Context, doc *Document, in Input) error {
	pages, err := selectPages(doc, in.Params, "pages", true)
	if err != nil {
		return err
	}
	if allNumeric(pages) && len(distinct(pages)) >= doc.PageCount() {
		return invalidParams("cannot remove every page")
	}
	return doc.transform("remove pages", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.RemovePages(rs, w, pages, newConfig())
	})
}

// protect は AES-256 で暗号化します。ownerPassword を省略した場合は password を使います。
func protect(_ context.Context, doc *Document, in Input) error {
	user := paramString(in.Params, "password", "")
	if user == "" {
		return invalidParams("password is required")
	}
	owner := paramString(in.Params, "ownerPassword", user)

	conf := model.NewAESConfiguration(user, owner, 256)
	conf.ValidationMode = model.ValidationRelaxed
	return doc.transform("encrypt", func(rs io.ReadSeeker, w io.Writer) error {
		return pdfapi.Encrypt(rs, w, conf)
	})
}

// selectPages はページ指定を検証し、ページ数を超える番号を拒否します。
func selectPages(doc *Document, params map[string]any, key string, required bool) ([]string, error) {
	pages, err := paramPages(params, key)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		if required {
			return nil, invalidParams("%s is required", key)
		}
		return nil, nil
	}
	for _, tok := range pages {
		for _, part := range strings.Split(tok, "-") {
			n, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			if n > doc.PageCount() {
				return nil, invalidParams("page %d is out of range (document has %d pages)", n, doc.PageCount())
			}
		}
	}
	return pages, nil
}

func allNumeric(tokens []string) bool {
	for _, tok := range tokens {
		if _, err := strconv.Atoi(tok); err != nil {
			return false
		}
	}
	return true
}

func distinct(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
