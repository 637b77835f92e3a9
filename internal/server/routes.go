package server

import "strconv"

// Route patterns served by the gallery.
const (
	RootPath    = "/"
	GalleryPath = "/gallery"
	ArtworkPath = "/artwork/:id"
	ProxyPath   = "/api/v1/*endpoint"
)

// GalleryRoute returns the shareable location of a gallery page.
// Pages below 1 give the bare gallery path, which opens page 1.
func GalleryRoute(page int) string {
	if page < 1 {
		return GalleryPath
	}
	return GalleryPath + "?page=" + strconv.Itoa(page)
}

// ArtworkRoute returns the location of an artwork detail page.
func ArtworkRoute(id int) string {
	return "/artwork/" + strconv.Itoa(id)
}
