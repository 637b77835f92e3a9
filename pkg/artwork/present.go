package artwork

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultIIIFURL is the image server used when a response carries no config block.
const DefaultIIIFURL = "https://www.artic.edu/iiif/2"

// ImageURL builds the IIIF URL of an artwork image at the width used by the
// gallery. It returns false when the artwork has no image.
func ImageURL(iiifBase string, imageID *string) (string, bool) {
	if imageID == nil || *imageID == "" {
		return "", false
	}
	if iiifBase == "" {
		iiifBase = DefaultIIIFURL
	}
	return strings.TrimRight(iiifBase, "/") + "/" + *imageID + "/full/843,/0/default.jpg", true
}

// PlainDescription converts the HTML description returned by the API into
// whitespace-normalized text. Parse failures fall back to the raw input.
func PlainDescription(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	paragraphs := make([]string, 0)
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, "\n\n")
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}
