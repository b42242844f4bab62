// Package tagging writes metadata, embedded artwork, and lyrics into
// downloaded audio files.
package tagging

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/Forest904/beathub/internal/constants"
	"github.com/Forest904/beathub/internal/domain"
)

// TagFile writes metadata tags to the audio file at filePath. Artwork and
// lyrics are optional.
func TagFile(filePath string, track domain.Track, artwork []byte, lyrics string) error {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case constants.ExtFLAC:
		return tagFLAC(filePath, track, artwork, lyrics)
	case constants.ExtMP3:
		return tagMP3(filePath, track, artwork, lyrics)
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(filePath))
	}
}

// tagFLAC replaces the file's Vorbis comment and picture blocks with freshly
// built ones; other metadata blocks are preserved.
func tagFLAC(filePath string, track domain.Track, artwork []byte, lyrics string) error {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	comment, err := BuildVorbisComment(track, lyrics)
	if err != nil {
		return err
	}
	commentBlock := comment.Marshal()

	var kept []*flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment || block.Type == flac.Picture {
			continue
		}
		kept = append(kept, block)
	}
	kept = append(kept, &commentBlock)

	if len(artwork) > 0 {
		picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front cover", artwork, constants.MimeTypeJPEG)
		if err != nil {
			return fmt.Errorf("failed to build picture block: %w", err)
		}
		pictureBlock := picture.Marshal()
		kept = append(kept, &pictureBlock)
	}

	f.Meta = kept
	if err := f.Save(filePath); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

// BuildVorbisComment assembles the Vorbis comment block for a track.
func BuildVorbisComment(track domain.Track, lyrics string) (*flacvorbis.MetaDataBlockVorbisComment, error) {
	comment := flacvorbis.New()

	fields := []struct {
		key, value string
	}{
		{flacvorbis.FIELD_TITLE, track.Title},
		{flacvorbis.FIELD_ARTIST, track.Artist},
		{flacvorbis.FIELD_ALBUM, track.Album},
		{"ALBUMARTIST", track.AlbumArtist},
		{flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(track.TrackNumber)},
		{"DISCNUMBER", strconv.Itoa(track.DiscNumber)},
		{"LYRICS", lyrics},
	}
	if track.Year > 0 {
		fields = append(fields, struct{ key, value string }{flacvorbis.FIELD_DATE, strconv.Itoa(track.Year)})
	}

	for _, f := range fields {
		if f.value == "" || f.value == "0" {
			continue
		}
		if err := comment.Add(f.key, f.value); err != nil {
			return nil, fmt.Errorf("failed to add %s comment: %w", f.key, err)
		}
	}
	return comment, nil
}

func tagMP3(filePath string, track domain.Track, artwork []byte, lyrics string) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(track.Title)
	tag.SetArtist(track.Artist)
	tag.SetAlbum(track.Album)
	if track.Year > 0 {
		tag.SetYear(strconv.Itoa(track.Year))
	}
	tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, strconv.Itoa(track.TrackNumber))
	tag.AddTextFrame(tag.CommonID("Part of a set"), id3v2.EncodingUTF8, strconv.Itoa(track.DiscNumber))
	if track.AlbumArtist != "" {
		tag.AddTextFrame(tag.CommonID("Band/Orchestra/Accompaniment"), id3v2.EncodingUTF8, track.AlbumArtist)
	}

	if len(artwork) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    constants.MimeTypeJPEG,
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     artwork,
		})
	}

	if lyrics != "" {
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          "eng",
			ContentDescriptor: "",
			Lyrics:            lyrics,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 tags: %w", err)
	}
	return nil
}
