package scene

import (
	"encoding/base64"
	"strings"
)

// extractor pulls an image locator out of one known response shape.
type extractor struct {
	shape string
	fn    func(composeResponse) (ImageRef, bool)
}

// extractors are tried in order; the first match wins.
var extractors = []extractor{
	{shape: "data", fn: fromResultList},
	{shape: "images", fn: fromImages},
	{shape: "url", fn: fromTopLevelURL},
}

func extractImage(resp composeResponse) (ImageRef, string, bool) {
	for _, ex := range extractors {
		if ref, ok := ex.fn(resp); ok {
			return ref, ex.shape, true
		}
	}
	return ImageRef{}, "", false
}

func fromResultList(resp composeResponse) (ImageRef, bool) {
	for _, item := range resp.Data {
		if u := strings.TrimSpace(item.URL); u != "" {
			return ImageRef{URL: u, MIME: item.MimeType}, true
		}
		if b64 := strings.TrimSpace(item.B64JSON); b64 != "" {
			data, err := base64.StdEncoding.DecodeString(b64)
			if err != nil || len(data) == 0 {
				continue
			}
			mime := item.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return ImageRef{Data: data, MIME: mime}, true
		}
	}
	return ImageRef{}, false
}

func fromImages(resp composeResponse) (ImageRef, bool) {
	for _, item := range resp.Images {
		if u := strings.TrimSpace(item.URL); u != "" {
			return ImageRef{URL: u, MIME: item.MimeType}, true
		}
	}
	return ImageRef{}, false
}

func fromTopLevelURL(resp composeResponse) (ImageRef, bool) {
	if u := strings.TrimSpace(resp.URL); u != "" {
		return ImageRef{URL: u}, true
	}
	return ImageRef{}, false
}

func creditsOf(resp composeResponse) int64 {
	if resp.Usage == nil || resp.Usage.Credits < 0 {
		return 0
	}
	return resp.Usage.Credits
}
