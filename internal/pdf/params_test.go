package pdf

import (
	"reflect"
	"testing"
)

func TestParamPages(t *testing.T) {
	cases := []struct {
		name    string
		value   any
		want    []string
		wantErr bool
	}{
		{name: "missing", value: nil, want: nil},
		{name: "ranges", value: "1-3, 5", want: []string{"1-3", "5"}},
		{name: "numbers", value: []any{float64(2), float64(4)}, want: []string{"2", "4"}},
		{name: "single", value: float64(3), want: []string{"3"}},
		{name: "keywords", value: "odd,l", want: []string{"odd", "l"}},
		{name: "zero", value: "0", wantErr: true},
		{name: "garbage", value: "abc", wantErr: true},
		{name: "fraction", value: []any{1.5}, wantErr: true},
		{name: "object", value: map[string]any{"a": 1}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := map[string]any{}
			if tc.value != nil {
				params["pages"] = tc.value
			}
			got, err := paramPages(params, "pages")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v want %#v", got, tc.want)
			}
		})
	}
}

func TestParamFloatAndInt(t *testing.T) {
	params := map[string]any{"a": "0.25", "b": float64(12), "c": "x", "d": 1.5}

	if v, err := paramFloat(params, "a", 0); err != nil || v != 0.25 {
		t.Fatalf("paramFloat(a) = %v, %v", v, err)
	}
	if v, err := paramInt(params, "b", 0); err != nil || v != 12 {
		t.Fatalf("paramInt(b) = %v, %v", v, err)
	}
	if v, err := paramInt(params, "missing", 7); err != nil || v != 7 {
		t.Fatalf("paramInt(missing) = %v, %v", v, err)
	}
	if _, err := paramFloat(params, "c", 0); err == nil {
		t.Fatal("expected error for non-numeric string")
	}
	if _, err := paramInt(params, "d", 0); err == nil {
		t.Fatal("expected error for fractional integer")
	}
}

func TestPositionCode(t *testing.T) {
	if got, _ := positionCode("", "br"); got != "br" {
		t.Fatalf("default position = %s", got)
	}
	if got, _ := positionCode("Top-Left", "c"); got != "tl" {
		t.Fatalf("top-left = %s", got)
	}
	if _, err := positionCode("custom-ish", "c"); err == nil {
		t.Fatal("expected error for unknown position")
	}
	if got := offsetFor("br"); got != "offset:-50 25" {
		t.Fatalf("offsetFor(br) = %s", got)
	}
	if got := offsetFor("c"); got != "" {
		t.Fatalf("offsetFor(c) = %s", got)
	}
}
