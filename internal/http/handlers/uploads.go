package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"scenecast/internal/domain"
	"scenecast/internal/providers/scene"
)

var errUploadTooLarge = errors.New("upload exceeds size limit")

var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// parseForm bounds the whole body to files uploads plus form overhead.
func (a *App) parseForm(w http.ResponseWriter, r *http.Request, files int) error {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes*int64(files)+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body over %d bytes", errUploadTooLarge, tooLarge.Limit)
		}
		return domain.InvalidInput("multipart form expected: %v", err)
	}
	return nil
}

// readImage loads one uploaded image, checking presence, size and type by
// content. A missing optional field returns a zero Portrait and no error.
func (a *App) readImage(r *http.Request, field string, required bool) (scene.Portrait, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		if required {
			return scene.Portrait{}, domain.InvalidInput("%s is required", field)
		}
		return scene.Portrait{}, nil
	}
	if err != nil {
		return scene.Portrait{}, domain.InvalidInput("%s: %v", field, err)
	}
	defer file.Close()
	return a.readPart(field, file, header)
}

func (a *App) readPart(field string, file multipart.File, header *multipart.FileHeader) (scene.Portrait, error) {
	if header.Size > a.MaxUploadBytes {
		return scene.Portrait{}, fmt.Errorf("%w: %s is %d bytes, limit %d", errUploadTooLarge, field, header.Size, a.MaxUploadBytes)
	}
	data, err := io.ReadAll(io.LimitReader(file, a.MaxUploadBytes+1))
	if err != nil {
		return scene.Portrait{}, domain.InvalidInput("%s: read upload: %v", field, err)
	}
	if int64(len(data)) > a.MaxUploadBytes {
		return scene.Portrait{}, fmt.Errorf("%w: %s exceeds %d bytes", errUploadTooLarge, field, a.MaxUploadBytes)
	}
	if len(data) == 0 {
		return scene.Portrait{}, domain.InvalidInput("%s is empty", field)
	}
	mime := scene.SniffMIME(data, header.Header.Get("Content-Type"))
	if !allowedUploadTypes[mime] {
		return scene.Portrait{}, domain.InvalidInput("%s must be a JPEG, PNG or WebP image, got %s", field, mime)
	}
	return scene.Portrait{Data: data, MIME: mime, Filename: header.Filename}, nil
}

func formDuration(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.FormValue("duration"))
	if raw == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(strings.TrimSuffix(raw, "s"))
	if err != nil {
		return 0, domain.InvalidInput("duration %q is not a number of seconds", raw)
	}
	return seconds, nil
}
