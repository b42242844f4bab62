package storage

import (
	"bytes"
	"fmt"
	"text/template"
)

// PathTemplateData holds the data for path template execution
type PathTemplateData struct {
	AlbumArtist string
	Album       string
	Disc        string
	Track       string
	Title       string
	Year        int
}

// BuildPath executes the template and returns the relative path (without extension)
func BuildPath(templateStr string, data *PathTemplateData) (string, error) {
	tmpl, err := template.New("subdir").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// ValidateTemplate parses a path template and renders it against sample data,
// so a bad pattern is rejected before any download starts.
func ValidateTemplate(templateStr string) error {
	sample := &PathTemplateData{
		AlbumArtist: "Artist",
		Album:       "Album",
		Disc:        "01",
		Track:       "01",
		Title:       "Title",
		Year:        2000,
	}
	_, err := BuildPath(templateStr, sample)
	return err
}

// BuildPathTemplateData creates PathTemplateData from track metadata
func BuildPathTemplateData(albumArtist string, year int, album string, discNum, trackNum int, title string) *PathTemplateData {
	return &PathTemplateData{
		AlbumArtist: Sanitize(albumArtist),
		Year:        year,
		Album:       Sanitize(album),
		Disc:        fmt.Sprintf("%02d", discNum),
		Track:       fmt.Sprintf("%02d", trackNum),
		Title:       Sanitize(title),
	}
}
