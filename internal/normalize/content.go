package normalize

// ContentPart is the normalizer's view of one rich-content part. Callers
// translate their own part union (text/image/file/audio) into this shape,
// normalize it, and translate back — keeping the merge/collapse law in one
// place instead of duplicated per message type.
type ContentPart struct {
	Kind string // "text", "image", "file", "audio"
	Text string // only meaningful when Kind == "text"

	// Opaque holds the part verbatim for non-text kinds so RichContent can
	// round-trip them unchanged; normalization only inspects Kind/Text/Empty.
	Opaque any

	// Empty lets a caller flag a part (e.g. an image with an empty URL,
	// a file with empty fields) as empty without the normalizer needing to
	// understand every part's internal shape.
	Empty bool
}

// RichContent applies the spec's §3.6/§4.12 content-normalization laws:
// drop empty parts, concatenate adjacent text parts, and report whether the
// result collapses to a single plain-text part.
//
// Returns the normalized parts and, when collapse is true, the plain text
// the caller should substitute for the whole rich-content value.
func RichContent(parts []ContentPart) (normalized []ContentPart, collapsedText string, collapse bool) {
	merged := make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Empty || (p.Kind == "text" && p.Text == "") {
			continue
		}
		if p.Kind == "text" && len(merged) > 0 && merged[len(merged)-1].Kind == "text" {
			merged[len(merged)-1].Text += p.Text
			continue
		}
		merged = append(merged, p)
	}
	if len(merged) == 1 && merged[0].Kind == "text" {
		return merged, merged[0].Text, true
	}
	return merged, "", false
}
