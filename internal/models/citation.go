package models

// CitationSource names the grounding origin a link was taken from.
type CitationSource string

const (
	CitationSourceMaps CitationSource = "maps"
	CitationSourceWeb  CitationSource = "web"
)

const unknownSourceTitle = "Unknown Source"

// CitationRef is one origin's view of a grounding source.
type CitationRef struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Citation is a grounding chunk as returned by the provider. Either origin
// may be absent; an absent origin is nil, never an empty CitationRef.
type Citation struct {
	Maps *CitationRef `json:"maps,omitempty"`
	Web  *CitationRef `json:"web,omitempty"`
}

// CitationLink is the renderable form of a Citation.
type CitationLink struct {
	Title  string         `json:"title"`
	URI    string         `json:"uri"`
	Source CitationSource `json:"source"`
}

// Link resolves a citation to a single link. The maps origin wins over the
// web origin for both title and URI. ok is false when neither origin has a
// URI; such citations are never rendered.
func (c Citation) Link() (CitationLink, bool) {
	var link CitationLink

	switch {
	case c.Maps != nil && c.Maps.Title != "":
		link.Title = c.Maps.Title
	case c.Web != nil && c.Web.Title != "":
		link.Title = c.Web.Title
	default:
		link.Title = unknownSourceTitle
	}

	switch {
	case c.Maps != nil && c.Maps.URI != "":
		link.URI = c.Maps.URI
		link.Source = CitationSourceMaps
	case c.Web != nil && c.Web.URI != "":
		link.URI = c.Web.URI
		link.Source = CitationSourceWeb
	default:
		return CitationLink{}, false
	}

	return link, true
}

// RenderableLinks resolves citations to links, dropping the ones without a
// URI. Provider order is kept.
func RenderableLinks(citations []Citation) []CitationLink {
	links := make([]CitationLink, 0, len(citations))
	for _, c := range citations {
		if link, ok := c.Link(); ok {
			links = append(links, link)
		}
	}
	return links
}
