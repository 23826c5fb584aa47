package tmdb

// ImageBaseURL is the TMDB image CDN root.
const ImageBaseURL = "https://image.tmdb.org/t/p"

// Placeholders returned when a record carries no image path.
const (
	PlaceholderPoster   = "/placeholder-movie.png"
	PlaceholderBackdrop = "/placeholder-backdrop.png"
)

// PosterURL renders a poster path at size (w185, w342, w500, w780, original). Default w500.
func PosterURL(path, size string) string {
	if path == "" {
		return PlaceholderPoster
	}
	if size == "" {
		size = "w500"
	}
	return ImageBaseURL + "/" + size + path
}

// BackdropURL renders a backdrop path at size (w300, w780, w1280, original). Default w1280.
func BackdropURL(path, size string) string {
	if path == "" {
		return PlaceholderBackdrop
	}
	if size == "" {
		size = "w1280"
	}
	return ImageBaseURL + "/" + size + path
}

// ProfileURL renders a cast profile image, or "" when none exists.
func ProfileURL(path string) string {
	if path == "" {
		return ""
	}
	return ImageBaseURL + "/w185" + path
}
