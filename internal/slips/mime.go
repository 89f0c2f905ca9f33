package slips

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var allowedSlipTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

var allowedSlipDescription = buildDescription()

func buildDescription() string {
	names := make([]string, 0, len(allowedSlipTypes))
	for mt := range allowedSlipTypes {
		names = append(names, strings.ToUpper(strings.TrimPrefix(allowedSlipTypes[mt], ".")))
	}
	sort.Strings(names)
	return humanReadableList(names)
}

func humanReadableList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return fmt.Sprintf("%s or %s", items[0], items[1])
	default:
		return fmt.Sprintf("%s, or %s", strings.Join(items[:len(items)-1], ", "), items[len(items)-1])
	}
}

// sniff detects the content type from the bytes themselves; the client
// supplied header is ignored.
func sniff(data []byte) (contentType, ext string, ok bool) {
	detected := mimetype.Detect(data)
	for mt, extension := range allowedSlipTypes {
		if detected.Is(mt) {
			return mt, extension, true
		}
	}
	return detected.String(), detected.Extension(), false
}
