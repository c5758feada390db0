package ensemble

import "ensemblegateway/internal/normalize"

// normContentPart adapts ContentPart to normalize.ContentPart so message
// normalization can reuse the shared rich-content law (internal/normalize)
// instead of re-implementing merge/collapse here.
type normContentPart struct {
	part ContentPart
}

func normalizeParts(in []normContentPart) (out []normContentPart, collapsedText string, collapse bool) {
	generic := make([]normalize.ContentPart, 0, len(in))
	for _, p := range in {
		generic = append(generic, toGeneric(p.part))
	}
	merged, text, did := normalize.RichContent(generic)
	result := make([]normContentPart, 0, len(merged))
	for _, g := range merged {
		result = append(result, normContentPart{part: fromGeneric(g)})
	}
	return result, text, did
}

func toGeneric(p ContentPart) normalize.ContentPart {
	switch p.Type {
	case "text":
		return normalize.ContentPart{Kind: "text", Text: p.Text, Opaque: p}
	case "image_url":
		empty := p.ImageURL == nil || p.ImageURL.URL == ""
		return normalize.ContentPart{Kind: "image", Opaque: p, Empty: empty}
	case "file":
		empty := p.File == nil || (p.File.Filename == "" && p.File.FileData == "")
		return normalize.ContentPart{Kind: "file", Opaque: p, Empty: empty}
	case "input_audio":
		empty := p.Audio == nil || (p.Audio.Data == "" && p.Audio.Format == "")
		return normalize.ContentPart{Kind: "audio", Opaque: p, Empty: empty}
	default:
		return normalize.ContentPart{Kind: p.Type, Opaque: p}
	}
}

func fromGeneric(g normalize.ContentPart) ContentPart {
	if g.Kind == "text" {
		return ContentPart{Type: "text", Text: g.Text}
	}
	if p, ok := g.Opaque.(ContentPart); ok {
		return p
	}
	return ContentPart{Type: g.Kind, Text: g.Text}
}
