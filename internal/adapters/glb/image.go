package glb

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/AzyAli/map3d/internal/core/domain"
)

// LoadImage reads a PNG or JPEG texture from disk. glTF core only embeds
// those two formats.
func LoadImage(path string) (*domain.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read texture: %w", err)
	}
	mime := http.DetectContentType(data)
	switch mime {
	case "image/png", "image/jpeg":
	default:
		return nil, fmt.Errorf("texture %s: unsupported type %s", path, mime)
	}
	return &domain.Image{
		Name:     filepath.Base(path),
		MimeType: mime,
		Data:     data,
	}, nil
}
