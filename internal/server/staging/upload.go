package staging

import (
	"fmt"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/validation"
)

// ContentFromFilename строит метаданные content по имени загруженного файла
func ContentFromFilename(filename string) (*models.Content, error) {
	info, err := validation.ParseDistFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("invalid distribution filename: %w", err)
	}

	return &models.Content{
		Filename:    filename,
		Name:        info.Name,
		Version:     info.Version,
		PackageType: info.PackageType,
		Platform:    info.Platform,
	}, nil
}
