package server

import (
	"github.com/Sternrassler/artic-gallery/pkg/artwork"
	"github.com/Sternrassler/artic-gallery/pkg/gallery"
	"github.com/Sternrassler/artic-gallery/pkg/pagination"
	"github.com/samber/lo"
)

// NoImageText replaces the image of artworks that have none.
const NoImageText = "No Image Available"

// CardView is one artwork card on a gallery page.
type CardView struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	ArtistDisplay string `json:"artist_display"`
	DateDisplay   string `json:"date_display,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	AltText       string `json:"alt_text,omitempty"`
	Placeholder   string `json:"placeholder,omitempty"`
	Link          string `json:"link"`
}

// WindowLink is one control of the page window. Ellipses carry no route.
type WindowLink struct {
	Label   string `json:"label"`
	Page    int    `json:"page,omitempty"`
	Current bool   `json:"current,omitempty"`
	Route   string `json:"route,omitempty"`
}

// Links are the navigation targets of a gallery page. Prev and Next are
// empty on the first and last page.
type Links struct {
	Self  string `json:"self"`
	First string `json:"first"`
	Last  string `json:"last"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
}

// GalleryView is the body of GET /gallery.
type GalleryView struct {
	Page       int          `json:"page"`
	TotalPages int          `json:"total_pages"`
	Total      int          `json:"total"`
	PageSize   int          `json:"page_size"`
	Artworks   []CardView   `json:"artworks"`
	Window     []WindowLink `json:"window"`
	Links      Links        `json:"links"`
}

// DetailView is the body of GET /artwork/:id.
type DetailView struct {
	artwork.Detail

	ImageURL        string `json:"image_url,omitempty"`
	Placeholder     string `json:"placeholder,omitempty"`
	DescriptionText string `json:"description_text,omitempty"`
	BackLink        string `json:"back_link"`
}

// ErrorView is the body of every error response.
type ErrorView struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func newCardView(imageBase string, a artwork.Artwork) CardView {
	card := CardView{
		ID:            a.ID,
		Title:         a.Title,
		ArtistDisplay: a.ArtistDisplay,
		DateDisplay:   lo.FromPtr(a.DateDisplay),
		Link:          ArtworkRoute(a.ID),
	}
	if u, ok := artwork.ImageURL(imageBase, a.ImageID); ok {
		card.ImageURL = u
		card.AltText = a.Title
		if a.Thumbnail != nil && a.Thumbnail.AltText != "" {
			card.AltText = a.Thumbnail.AltText
		}
	} else {
		card.Placeholder = NoImageText
	}
	return card
}

func newGalleryView(s gallery.State, window []pagination.Entry) GalleryView {
	view := GalleryView{
		Page:       s.CurrentPage,
		TotalPages: s.TotalPages(),
		Artworks: lo.Map(s.Items, func(a artwork.Artwork, _ int) CardView {
			return newCardView(s.ImageBase, a)
		}),
		Window: lo.Map(window, func(e pagination.Entry, _ int) WindowLink {
			if e.Ellipsis {
				return WindowLink{Label: e.String()}
			}
			return WindowLink{
				Label:   e.String(),
				Page:    e.Page,
				Current: e.Page == s.CurrentPage,
				Route:   GalleryRoute(e.Page),
			}
		}),
		Links: Links{
			Self:  GalleryRoute(s.CurrentPage),
			First: GalleryRoute(1),
			Last:  GalleryRoute(max(s.TotalPages(), 1)),
		},
	}

	if s.Pagination != nil {
		view.Total = s.Pagination.Total
		view.PageSize = s.Pagination.Limit
	}
	if s.CurrentPage > 1 {
		view.Links.Prev = GalleryRoute(s.CurrentPage - 1)
	}
	if s.CurrentPage < s.TotalPages() {
		view.Links.Next = GalleryRoute(s.CurrentPage + 1)
	}
	return view
}

func newDetailView(resp *artwork.DetailResponse) DetailView {
	view := DetailView{
		Detail:   resp.Data,
		BackLink: RootPath,
	}
	if u, ok := artwork.ImageURL(resp.Config.IIIFURL, resp.Data.ImageID); ok {
		view.ImageURL = u
	} else {
		view.Placeholder = NoImageText
	}
	view.DescriptionText = artwork.PlainDescription(lo.FromPtr(resp.Data.Description))
	return view
}
