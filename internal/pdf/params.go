package pdf

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var pageTokenPattern = regexp.MustCompile(`^(\d+|\d+-\d+|\d+-|-\d+|l|\d+-l|odd|even)$`)

func paramString(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s
		}
		return def
	default:
		return fmt.Sprint(t)
	}
}

func paramFloat(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		if strings.TrimSpace(t) == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, invalidParams("%s must be a number", key)
		}
		return f, nil
	default:
		return 0, invalidParams("%s must be a number", key)
	}
}

func paramInt(params map[string]any, key string, def int) (int, error) {
	f, err := paramFloat(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, invalidParams("%s must be an integer", key)
	}
	return int(f), nil
}

// paramPages はページ指定を pdfcpu のページ選択に変換します。
// "1-3,5" のような文字列と、[1, 2, 3] のような配列を受け付けます。1 始まりです。
func paramPages(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}

	var tokens []string
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tokens = append(tokens, part)
			}
		}
	case []any:
		for _, item := range t {
			switch n := item.(type) {
			case float64:
				if n < 1 || n != float64(int(n)) {
					return nil, invalidParams("%s must contain positive page numbers", key)
				}
				tokens = append(tokens, strconv.Itoa(int(n)))
			case string:
				tokens = append(tokens, strings.TrimSpace(n))
			default:
				return nil, invalidParams("%s must contain page numbers", key)
			}
		}
	case float64:
		if t < 1 || t != float64(int(t)) {
			return nil, invalidParams("%s must be a positive page number", key)
		}
		tokens = append(tokens, strconv.Itoa(int(t)))
	default:
		return nil, invalidParams("%s must be a page list such as \"1-3,5\"", key)
	}

	for _, tok := range tokens {
		if !pageTokenPattern.MatchString(tok) || tok == "0" {
			return nil, invalidParams("invalid page selection %q", tok)
		}
	}
	return tokens, nil
}

// positionCode は位置の指定を pdfcpu の anchor に変換します。
func positionCode(raw, def string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return def, nil
	case "center", "c", "middle", "custom":
		return "c", nil
	case "top", "top-center", "tc":
		return "tc", nil
	case "bottom", "bottom-center", "bc":
		return "bc", nil
	case "top-left", "tl":
		return "tl", nil
	case "top-right", "tr":
		return "tr", nil
	case "bottom-left", "bl":
		return "bl", nil
	case "bottom-right", "br":
		return "br", nil
	case "left", "l":
		return "l", nil
	case "right", "r":
		return "r", nil
	default:
		return "", invalidParams("unsupported position %q", raw)
	}
}

var hexColorPattern = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

func paramColor(params map[string]any, key, def string) (string, error) {
	c := paramString(params, key, def)
	if !hexColorPattern.MatchString(c) {
		return "", invalidParams("%s must be a hex color such as #808080", key)
	}
	if !strings.HasPrefix(c, "#") {
		c = "#" + c
	}
	return c, nil
}
