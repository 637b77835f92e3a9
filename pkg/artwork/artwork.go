// Package artwork defines the records served by the Art Institute of Chicago
// collection API and the helpers that present them.
package artwork

import (
	"fmt"
	"strings"
)

// DefaultPageSize is the number of artworks requested per gallery page.
const DefaultPageSize = 20

// DefaultFields are the fields requested for gallery listings.
var DefaultFields = []string{
	"id",
	"title",
	"artist_display",
	"image_id",
	"date_display",
	"thumbnail",
}

// Thumbnail describes the preview image of an artwork.
type Thumbnail struct {
	AltText string `json:"alt_text"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Artwork is the summary record shown on a gallery card.
// Optional attributes are nil when the API omits them or returns null.
type Artwork struct {
	ID            int        `json:"id"`
	Title         string     `json:"title"`
	ArtistDisplay string     `json:"artist_display"`
	ImageID       *string    `json:"image_id"`
	DateDisplay   *string    `json:"date_display,omitempty"`
	Thumbnail     *Thumbnail `json:"thumbnail,omitempty"`
}

// Key returns the identity key of the artwork.
func (a Artwork) Key() string {
	return fmt.Sprintf("%d", a.ID)
}

// Clone returns a copy of a that shares no pointers with it.
func (a Artwork) Clone() Artwork {
	out := a
	out.ImageID = clonePtr(a.ImageID)
	out.DateDisplay = clonePtr(a.DateDisplay)
	out.Thumbnail = clonePtr(a.Thumbnail)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Detail is the full record shown on the artwork detail page.
type Detail struct {
	Artwork

	PlaceOfOrigin    string  `json:"place_of_origin"`
	Dimensions       string  `json:"dimensions"`
	MediumDisplay    string  `json:"medium_display"`
	CreditLine       string  `json:"credit_line"`
	IsPublicDomain   bool    `json:"is_public_domain"`
	IsOnView         bool    `json:"is_on_view"`
	GalleryTitle     *string `json:"gallery_title,omitempty"`
	DepartmentTitle  string  `json:"department_title"`
	ArtworkTypeTitle string  `json:"artwork_type_title"`
	Description      *string `json:"description,omitempty"`
}

// APIConfig is the "config" block returned with every API response.
type APIConfig struct {
	IIIFURL    string `json:"iiif_url"`
	WebsiteURL string `json:"website_url"`
}

// ListResponse is the envelope of a paginated artwork listing.
type ListResponse struct {
	Pagination PaginationInfo `json:"pagination"`
	Data       []Artwork      `json:"data"`
	Config     APIConfig      `json:"config"`
}

// DetailResponse is the envelope of a single artwork lookup.
type DetailResponse struct {
	Data   Detail    `json:"data"`
	Config APIConfig `json:"config"`
}

// FieldList joins field names the way the API expects them in the
// "fields" query parameter.
func FieldList(fields []string) string {
	return strings.Join(fields, ",")
}
