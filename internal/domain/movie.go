package domain

import "time"

// MovieID is the metadata provider's identifier. The ledger uses it unchanged as its item key.
type MovieID int64

// Genre is a named movie genre.
type Genre struct {
	ID   int64
	Name string
}

// Movie mirrors a metadata record. Release date is optional upstream.
type Movie struct {
	ID           MovieID
	Title        string
	Overview     string
	Tagline      string
	PosterPath   string
	BackdropPath string
	ReleaseDate  *time.Time
	VoteAverage  float64
	VoteCount    int64
	Runtime      int
	GenreIDs     []int64
	Genres       []Genre
}

// ReleaseYear returns the release year, or 0 when the date is unknown.
func (m Movie) ReleaseYear() int {
	if m.ReleaseDate == nil {
		return 0
	}
	return m.ReleaseDate.Year()
}

// CastMember is one credited performer.
type CastMember struct {
	ID          int64
	Name        string
	Character   string
	ProfilePath string
}

// Credits lists a movie's cast in billing order.
type Credits struct {
	Cast []CastMember
}

// SearchPage is one page of search results.
type SearchPage struct {
	Results    []Movie
	Page       int
	TotalPages int
}

// ListingCategory names a curated metadata listing.
type ListingCategory string

const (
	ListingTrending ListingCategory = "trending"
	ListingPopular  ListingCategory = "popular"
	ListingTopRated ListingCategory = "top_rated"
)

// Valid reports whether c is a known listing.
func (c ListingCategory) Valid() bool {
	switch c {
	case ListingTrending, ListingPopular, ListingTopRated:
		return true
	}
	return false
}
