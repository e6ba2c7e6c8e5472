package scene

import (
	"encoding/base64"
	"strings"
)

// Portrait is one reference photo. Either Data (with MIME) or URL is set.
type Portrait struct {
	Data     []byte
	MIME     string
	Filename string
	URL      string
}

// ImageRef locates a generated image: a remote URL or inline bytes.
type ImageRef struct {
	URL  string
	Data []byte
	MIME string
}

// Locator returns the URL, or a data URI for inline images.
func (r ImageRef) Locator() string {
	if u := strings.TrimSpace(r.URL); u != "" {
		return u
	}
	if len(r.Data) == 0 {
		return ""
	}
	return DataURI(r.MIME, r.Data)
}

// Inline reports whether the image only exists as bytes.
func (r ImageRef) Inline() bool {
	return strings.TrimSpace(r.URL) == "" && len(r.Data) > 0
}

// Request is the input to ComposeScene.
type Request struct {
	PortraitA Portrait
	PortraitB Portrait
	Scenario  string
	RequestID string
}

// Result is the outcome of a successful composition.
type Result struct {
	Image    ImageRef
	Credits  int64
	Attempts int
	Shape    string
}

// DataURI encodes data as an RFC 2397 data URI.
func DataURI(mime string, data []byte) string {
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

type composeRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	ImageInput  []string `json:"image_input"`
	AspectRatio string   `json:"aspect_ratio"`
	Resolution  string   `json:"resolution"`
	NumImages   int      `json:"num_images"`
}

type resultItem struct {
	URL      string `json:"url"`
	B64JSON  string `json:"b64_json"`
	MimeType string `json:"mime_type"`
}

type usage struct {
	Credits int64 `json:"credits"`
}

type composeResponse struct {
	Data   []resultItem `json:"data"`
	Images []resultItem `json:"images"`
	URL    string       `json:"url"`
	Usage  *usage       `json:"usage"`
}
