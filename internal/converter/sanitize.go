package converter

import (
	"regexp"
	"strconv"
)

var (
	onloadAttr     = regexp.MustCompile(`onload="[^"]*"`)
	percentOpacity = regexp.MustCompile(`opacity:\s*(\d+)%`)
	pxWidth        = regexp.MustCompile(`width="([\d.]+)px"`)
	pxHeight       = regexp.MustCompile(`height="([\d.]+)px"`)
)

// Sanitize исправляет конструкции SVG, на которых спотыкаются рендереры:
//   - удаляет атрибуты onload="…";
//   - opacity: N% → opacity: N/100;
//   - width/height="Npx" → без единиц.
func Sanitize(svg []byte) []byte {
	out := onloadAttr.ReplaceAll(svg, nil)
	out = percentOpacity.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := percentOpacity.FindSubmatch(m)
		n, err := strconv.Atoi(string(sub[1]))
		if err != nil {
			return m
		}
		return []byte("opacity: " + strconv.FormatFloat(float64(n)/100, 'f', -1, 64))
	})
	out = pxWidth.ReplaceAll(out, []byte(`width="$1"`))
	out = pxHeight.ReplaceAll(out, []byte(`height="$1"`))
	return out
}
