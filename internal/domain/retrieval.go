package domain

type RetrievalOrigin string

const (
	OriginKeyword RetrievalOrigin = "keyword"
	OriginVector  RetrievalOrigin = "vector"
)

// RetrievedPoint is one fused retrieval hit: the source text and its
// normalized score in [0,1].
type RetrievedPoint struct {
	Source string          `json:"source"`
	Score  float64         `json:"score"`
	Origin RetrievalOrigin `json:"origin"`
}
