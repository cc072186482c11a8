package wiki

// Feed is the response of the "on this day" endpoint for a single calendar date.
type Feed struct {
	Events []Entry `json:"events"`
	Births []Entry `json:"births"`
	Deaths []Entry `json:"deaths"`
}

// Entry is one historical fact with the pages it references.
type Entry struct {
	Text  string `json:"text"`
	Year  int    `json:"year"`
	Pages []Page `json:"pages"`
}

// Page is a Wikipedia page summary attached to an entry.
type Page struct {
	WikibaseItem  string      `json:"wikibase_item"`
	Titles        Titles      `json:"titles"`
	PageID        int64       `json:"pageid"`
	Thumbnail     *Image      `json:"thumbnail,omitempty"`
	OriginalImage *Image      `json:"originalimage,omitempty"`
	ContentURLs   ContentURLs `json:"content_urls"`
	Extract       string      `json:"extract"`
}

type Titles struct {
	Normalized string `json:"normalized"`
}

type Image struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ContentURLs struct {
	Desktop PageURL `json:"desktop"`
	Mobile  PageURL `json:"mobile"`
}

type PageURL struct {
	Page string `json:"page"`
}
