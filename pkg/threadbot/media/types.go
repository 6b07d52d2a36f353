package media

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// Kind is how an inbound document is handled.
type Kind string

const (
	// KindAudio documents are transcribed and sent as text.
	KindAudio Kind = "audio"

	// KindDocument documents are uploaded and attached for file search.
	KindDocument Kind = "document"
)

// audioExtensions are the formats the transcription endpoint accepts, plus
// Telegram's voice-note container (.oga), which is Ogg audio.
var audioExtensions = map[string]string{
	".flac": "audio/flac",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpga": "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".webm": "video/webm",
}

// transcribeExtension renames containers the transcription endpoint does not
// recognise by name.
var transcribeExtension = map[string]string{
	".oga":  ".ogg",
	".opus": ".ogg",
}

// documentExtensions maps known document formats to MIME types.
var documentExtensions = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rtf":  "application/rtf",
	".tex":  "application/x-tex",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".zip":  "application/zip",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".js":   "text/javascript",
	".ts":   "application/typescript",
	".java": "text/x-java",
	".c":    "text/x-c",
	".cpp":  "text/x-c++",
	".cs":   "text/x-csharp",
	".rb":   "text/x-ruby",
	".php":  "text/x-php",
	".sh":   "application/x-sh",
	".css":  "text/css",
}

// Classify derives the media type of a file name or URL from its extension.
// It returns ErrUnknownExtension when the extension maps to no known type.
func Classify(name string) (Kind, string, error) {
	ext := Extension(name)
	if ext == "" {
		return "", "", ErrUnknownExtension
	}
	if mt, ok := audioExtensions[ext]; ok {
		return KindAudio, mt, nil
	}
	if mt, ok := documentExtensions[ext]; ok {
		return KindDocument, mt, nil
	}
	// Unlisted audio formats are not transcribable, so they are uploaded.
	if mt := mime.TypeByExtension(ext); mt != "" {
		return KindDocument, mt, nil
	}
	return "", "", ErrUnknownExtension
}

// Extension returns the lowercased extension of a file name or of the path
// component of a URL.
func Extension(name string) string {
	p := name
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}
