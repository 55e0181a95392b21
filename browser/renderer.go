package browser

import (
	"fmt"
	"net/url"
	"strings"
)

// Envelope is a retrieved resource: a body tagged with a media type.
type Envelope struct {
	Body []byte
	MIME string
}

// RendererKind identifies the renderer an envelope routes to.
type RendererKind int

const (
	RenderGemtext RendererKind = iota
	RenderGophermap
	RenderPlain
	RenderHTML
	RenderMarkdown
	RenderImage
	RenderMedia
	RenderUnsupported
)

func (k RendererKind) String() string {
	switch k {
	case RenderGemtext:
		return "gemtext"
	case RenderGophermap:
		return "gophermap"
	case RenderPlain:
		return "plain"
	case RenderHTML:
		return "html"
	case RenderMarkdown:
		return "markdown"
	case RenderImage:
		return "image"
	case RenderMedia:
		return "media"
	}
	return "unsupported"
}

// ResolveRenderer routes a media type to a renderer. The routing is
// total: anything unrecognized is RenderUnsupported. When plainOnly is
// set every text/* type collapses to the plaintext renderer.
func ResolveRenderer(mime string, plainOnly bool) RendererKind {
	if plainOnly && strings.HasPrefix(mime, "text/") {
		return RenderPlain
	}
	switch {
	case strings.HasPrefix(mime, "text/gemini"):
		return RenderGemtext
	case strings.HasPrefix(mime, "text/gophermap"):
		return RenderGophermap
	case strings.HasPrefix(mime, "text/finger"):
		return RenderPlain
	case strings.HasPrefix(mime, "text/html"):
		return RenderHTML
	case strings.HasPrefix(mime, "text/markdown"):
		return RenderMarkdown
	case strings.HasPrefix(mime, "text/"):
		return RenderPlain
	case strings.HasPrefix(mime, "image/"):
		return RenderImage
	case strings.HasPrefix(mime, "audio/"), strings.HasPrefix(mime, "video/"):
		return RenderMedia
	}
	return RenderUnsupported
}

// Renderer displays an envelope body. Implementations live in the
// shell; the core only routes to them.
type Renderer interface {
	Render(body []byte, base *url.URL) error
}

// SizeHuman formats a byte count for people.
func SizeHuman(size int) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	value := float64(size)
	for _, unit := range []string{"KiB", "MiB", "GiB", "TiB"} {
		value /= 1024
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
	}
	return fmt.Sprintf("%.1f PiB", float64(size)/(1024*1024*1024*1024*1024))
}

// UnsupportedPage builds the synthetic page shown for media types with
// no renderer.
func UnsupportedPage(mime string, size int) []byte {
	return []byte(fmt.Sprintf(`You accessed an unsupported media type!

This media type cannot be displayed here. Navigate somewhere else.

Info:
MIME Type: %s
File Size: %s
`, mime, SizeHuman(size)))
}
