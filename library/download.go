package library

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"cryogon/music-genie/api"

	"github.com/bogem/id3v2"
)

// Download saves the generation's audio as generation_<id>.<ext> inside dir.
func (l *Library) Download(ctx context.Context, id, dir string) (string, error) {
	dl, err := l.backend.Download(ctx, id)
	if err != nil {
		return "", err
	}
	if len(dl.Data) == 0 {
		return "", fmt.Errorf("download %s: empty payload", id)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("download %s: %w", id, err)
	}

	mp3 := isMP3(dl.ContentType, dl.Data)
	path := filepath.Join(dir, fmt.Sprintf("generation_%s.%s", id, extension(dl, mp3)))
	if err := os.WriteFile(path, dl.Data, 0o644); err != nil {
		return "", fmt.Errorf("download %s: %w", id, err)
	}

	if mp3 {
		if g, ok := l.Get(id); ok {
			if err := tagMP3(path, g.Title(), g.Prompt, g.ModelVersion); err != nil {
				// the audio is already on disk, a missing tag is not fatal
				l.logger.Warn().Err(err).Str("path", path).Msg("id3 tagging failed")
			}
		}
	}

	l.recordDownload(id)
	l.logger.Info().Str("generation_id", id).Str("path", path).Int("bytes", len(dl.Data)).Msg("download saved")
	return path, nil
}

func tagMP3(path, title, prompt, model string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(title)
	tag.SetArtist("Music Genie")
	if model != "" {
		tag.SetAlbum(model)
	}
	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding:    id3v2.EncodingUTF8,
		Language:    "eng",
		Description: "prompt",
		Text:        prompt,
	})
	return tag.Save()
}

func isMP3(contentType string, data []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && (mt == "audio/mpeg" || mt == "audio/mp3") {
		return true
	}
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	// bare MPEG frame sync
	return len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func extension(dl api.Download, mp3 bool) string {
	if mp3 {
		return "mp3"
	}
	if ext := strings.TrimPrefix(filepath.Ext(dl.Filename), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return "wav"
}
