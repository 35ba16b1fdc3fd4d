package ingest

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/fpt/nexus-guard/internal/store"
)

var kindByExt = map[string]store.Kind{
	".mp3":  store.KindAudio,
	".wav":  store.KindAudio,
	".flac": store.KindAudio,
	".ogg":  store.KindAudio,
	".oga":  store.KindAudio,
	".m4a":  store.KindAudio,
	".jpg":  store.KindPhoto,
	".jpeg": store.KindPhoto,
	".png":  store.KindPhoto,
	".gif":  store.KindPhoto,
	".bmp":  store.KindPhoto,
	".webp": store.KindPhoto,
	".mp4":  store.KindVideo,
	".mov":  store.KindVideo,
	".avi":  store.KindVideo,
	".mkv":  store.KindVideo,
	".wmv":  store.KindVideo,
	".flv":  store.KindVideo,
	".webm": store.KindVideo,
}

// DetectKind picks a media kind from the file extension, falling back to the
// content type when the extension is unknown. ok is false for anything that
// is not audio, image or video.
func DetectKind(filename, contentType string) (kind store.Kind, ok bool) {
	if k, found := kindByExt[strings.ToLower(filepath.Ext(filename))]; found {
		return k, true
	}

	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return store.KindAudio, true
	case strings.HasPrefix(mediaType, "image/"):
		return store.KindPhoto, true
	case strings.HasPrefix(mediaType, "video/"):
		return store.KindVideo, true
	}
	return 0, false
}

// Caption is the human-readable summary stored as Content for media messages.
func Caption(kind store.Kind, filename, sender string) string {
	switch kind {
	case store.KindAudio:
		return fmt.Sprintf("%s ⮜ The provided audio file may be fraudulent or contain suspicious content.", filename)
	case store.KindPhoto:
		return fmt.Sprintf("Recent image from %s may be fraudulent or contain suspicious content.", sender)
	case store.KindVideo:
		return fmt.Sprintf("Recent video from %s may be fraudulent or contain suspicious content.", sender)
	default:
		return fmt.Sprintf("[Attachment: %s]", filename)
	}
}

// SenderName returns the first non-blank candidate, or "Unknown".
func SenderName(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return "Unknown"
}
