// handlers_upload.go - Model upload handlers
package api

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/print-slicer/backend/internal/storage"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	blobs     storage.BlobStore
	supported func(ext string) bool
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(blobs storage.BlobStore, supported func(ext string) bool) UploadHandler {
	return &UploadHandlerImpl{
		blobs:     blobs,
		supported: supported,
	}
}

// HandleUploadModel stores a multipart "file" under the prefix so a later
// batch request can slice it
func (h *UploadHandlerImpl) HandleUploadModel(c echo.Context) error {
	prefix, err := cleanPrefix(c.Param("prefix"))
	if err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	name := filepath.Base(file.Filename)
	if name == "." || name == "/" || name == "" {
		return NewValidationError("file")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if h.supported != nil && !h.supported(ext) {
		return NewBadRequestError("unsupported file type "+ext, nil)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	key := path.Join(prefix, name)
	if err := h.blobs.Put(c.Request().Context(), key, src); err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"key":  key,
		"name": name,
		"size": file.Size,
	})
}

// HandleListModels lists the stored keys under the prefix
func (h *UploadHandlerImpl) HandleListModels(c echo.Context) error {
	prefix, err := cleanPrefix(c.Param("prefix"))
	if err != nil {
		return err
	}
	keys, err := h.blobs.List(c.Request().Context(), prefix)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"prefix": prefix,
		"keys":   keys,
	})
}

func cleanPrefix(raw string) (string, error) {
	p := strings.Trim(raw, "/")
	if p == "" || strings.Contains(p, "..") {
		return "", NewValidationError("prefix")
	}
	return p, nil
}
