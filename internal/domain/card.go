package domain

// Deck is a named collection of cards owned by a user.
type Deck struct {
	Meta
	UserID      int64  `db:"user_id"`
	Name        string `db:"name" validate:"required,max=100"`
	Description string `db:"description" validate:"max=500"`
	CreatedAt   string `db:"created_at"`
}

// Card represents a single front/back flashcard.
// FrontImage and BackImage hold either a local file path or a remote URL
// once the image has been uploaded.
type Card struct {
	Meta
	DeckID     int64   `db:"deck_id"`
	Front      string  `db:"front" validate:"required,max=2000"`
	Back       string  `db:"back" validate:"max=2000"`
	FrontImage *string `db:"front_image"`
	BackImage  *string `db:"back_image"`

	// Scheduling state maintained by the review collaborator.
	Stability  float64 `db:"stability"`
	Difficulty float64 `db:"difficulty"`
	DueDate    string  `db:"due_date"`
	LastReview *string `db:"last_review"`

	CreatedAt string `db:"created_at"`
}

// Images returns the card's non-empty image references.
func (c Card) Images() []string {
	var out []string
	for _, ref := range []*string{c.FrontImage, c.BackImage} {
		if ref != nil && *ref != "" {
			out = append(out, *ref)
		}
	}
	return out
}
