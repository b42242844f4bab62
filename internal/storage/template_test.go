package storage

import (
	"strings"
	"testing"
)

func TestBuildPath(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		data       *PathTemplateData
		want       string
		wantErr    bool
		errContain string
	}{
		{
			name:     "default layout",
			template: "{{.AlbumArtist}}/{{.Album}}/{{.Disc}}-{{.Track}} {{.Title}}",
			data: &PathTemplateData{
				AlbumArtist: "Pink Floyd",
				Album:       "The Dark Side of the Moon",
				Disc:        "01",
				Track:       "01",
				Title:       "Speak to Me",
				Year:        1973,
			},
			want: "Pink Floyd/The Dark Side of the Moon/01-01 Speak to Me",
		},
		{
			name:     "with year",
			template: "{{.AlbumArtist}}/{{.Year}} - {{.Album}}/{{.Track}}. {{.Title}}",
			data: &PathTemplateData{
				AlbumArtist: "The Beatles",
				Album:       "Abbey Road",
				Disc:        "01",
				Track:       "05",
				Title:       "Something",
				Year:        1969,
			},
			want: "The Beatles/1969 - Abbey Road/05. Something",
		},
		{
			name:     "flat filename only",
			template: "{{.Track}} - {{.Title}}",
			data: &PathTemplateData{
				Track: "10",
				Title: "Song Title",
			},
			want: "10 - Song Title",
		},
		{
			name:       "invalid template syntax",
			template:   "{{.AlbumArtist",
			data:       &PathTemplateData{AlbumArtist: "Test"},
			wantErr:    true,
			errContain: "failed to parse template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPath(tt.template, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("BuildPath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errContain) {
					t.Errorf("BuildPath() error = %v, should contain %v", err, tt.errContain)
				}
				return
			}
			if got != tt.want {
				t.Errorf("BuildPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateTemplate(t *testing.T) {
	if err := ValidateTemplate("{{.AlbumArtist}}/{{.Title}}"); err != nil {
		t.Errorf("ValidateTemplate() valid template error = %v", err)
	}
	if err := ValidateTemplate("{{.Album"); err == nil {
		t.Error("ValidateTemplate() should reject unparsable template")
	}
	if err := ValidateTemplate("{{.NoSuchField}}"); err == nil {
		t.Error("ValidateTemplate() should reject unknown field")
	}
}

func TestBuildPathTemplateData(t *testing.T) {
	data := BuildPathTemplateData("Pink Floyd", 1973, "The Dark Side of the Moon", 1, 5, "Money")

	if data.AlbumArtist != "Pink Floyd" {
		t.Errorf("AlbumArtist = %v, want Pink Floyd", data.AlbumArtist)
	}
	if data.Year != 1973 {
		t.Errorf("Year = %v, want 1973", data.Year)
	}
	if data.Disc != "01" {
		t.Errorf("Disc = %v, want 01", data.Disc)
	}
	if data.Track != "05" {
		t.Errorf("Track = %v, want 05", data.Track)
	}
	if data.Title != "Money" {
		t.Errorf("Title = %v, want Money", data.Title)
	}
}

func TestBuildPathTemplateData_Sanitization(t *testing.T) {
	data := BuildPathTemplateData("AC/DC", 1980, "Back In Black<>:\"/\\|?*", 1, 1, "Hells Bells.. ")

	if data.AlbumArtist != "ACDC" {
		t.Errorf("AlbumArtist sanitization failed, got %v", data.AlbumArtist)
	}
	if data.Album != "Back In Black" {
		t.Errorf("Album sanitization failed, got %v", data.Album)
	}
	if data.Title != "Hells Bells" {
		t.Errorf("Title sanitization failed, got %v", data.Title)
	}
}
