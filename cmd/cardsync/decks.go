package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conorfennell/cardsync/internal/domain"
)

var deckCmd = &cobra.Command{
	Use:     "deck",
	GroupID: "content",
	Short:   "Manage decks",
}

var deckAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a deck",
	Args:  cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		deck, err := a.db.CreateDeck(ctx, user.ID, args[0], deckOpts.description)
		if err != nil {
			return err
		}
		fmt.Printf("%s created deck %d %s\n", passStyle.Render("✓"), deck.ID, deck.Name)
		return nil
	}),
}

var deckListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List your decks",
	Args:    cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		decks, err := a.db.ListDecks(ctx, user.ID)
		if err != nil {
			return err
		}
		if len(decks) == 0 {
			fmt.Println(mutedStyle.Render("No decks yet. Create one with 'cardsync deck add' or 'cardsync import'."))
			return nil
		}
		fmt.Println(row([]string{"id", "name", "status"}, mutedStyle))
		for _, d := range decks {
			fmt.Println(row([]string{strconv.FormatInt(d.ID, 10), d.Name, statusLabel(d.Meta)}, cellStyle))
		}
		return nil
	}),
}

var deckRemoveCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"remove"},
	Short:   "Delete a deck and its cards on the next sync",
	Args:    cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		deck, err := ownDeck(ctx, a, args[0])
		if err != nil {
			return err
		}
		if err := a.db.DeleteDeck(ctx, deck.ID); err != nil {
			return err
		}
		fmt.Printf("%s deleted deck %s\n", passStyle.Render("✓"), deck.Name)
		return nil
	}),
}

var cardCmd = &cobra.Command{
	Use:     "card",
	GroupID: "content",
	Short:   "Manage the cards of a deck",
}

var cardAddCmd = &cobra.Command{
	Use:   "add DECK_ID FRONT BACK",
	Short: "Add a card to a deck",
	Long: `Add a card to a deck. Images are local file paths; they are uploaded on
the next sync and replaced by their public URL.`,
	Args: cobra.ExactArgs(3),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		deck, err := ownDeck(ctx, a, args[0])
		if err != nil {
			return err
		}
		card, err := a.db.CreateCard(ctx, deck.ID, args[1], args[2],
			optional(cardOpts.frontImage), optional(cardOpts.backImage))
		if err != nil {
			return err
		}
		fmt.Printf("%s added card %d to %s\n", passStyle.Render("✓"), card.ID, deck.Name)
		return nil
	}),
}

var cardListCmd = &cobra.Command{
	Use:     "ls DECK_ID",
	Aliases: []string{"list"},
	Short:   "List the cards of a deck",
	Args:    cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		deck, err := ownDeck(ctx, a, args[0])
		if err != nil {
			return err
		}
		cards, err := a.db.ListCards(ctx, deck.ID)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(deck.Name))
		fmt.Println(row([]string{"id", "due", "status", "front"}, mutedStyle))
		for _, c := range cards {
			due := c.DueDate
			if len(due) > 10 {
				due = due[:10]
			}
			fmt.Println(row([]string{strconv.FormatInt(c.ID, 10), due, statusLabel(c.Meta), truncate(c.Front, 40)}, cellStyle))
		}
		return nil
	}),
}

var cardRemoveCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"remove"},
	Short:   "Delete a card",
	Args:    cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		card, err := ownCard(ctx, a, args[0])
		if err != nil {
			return err
		}
		if err := a.db.DeleteCard(ctx, card.ID); err != nil {
			return err
		}
		fmt.Printf("%s deleted card %d\n", passStyle.Render("✓"), card.ID)
		return nil
	}),
}

var deckOpts struct {
	description string
}

var cardOpts struct {
	frontImage, backImage string
}

func init() {
	deckAddCmd.Flags().StringVarP(&deckOpts.description, "description", "d", "", "Deck description")
	cardAddCmd.Flags().StringVar(&cardOpts.frontImage, "front-image", "", "Image shown on the front")
	cardAddCmd.Flags().StringVar(&cardOpts.backImage, "back-image", "", "Image shown on the back")

	deckCmd.AddCommand(deckAddCmd, deckListCmd, deckRemoveCmd)
	cardCmd.AddCommand(cardAddCmd, cardListCmd, cardRemoveCmd)
	rootCmd.AddCommand(deckCmd, cardCmd)
}

// ownDeck loads the deck with the given id and checks it belongs to the
// signed-in user.
func ownDeck(ctx context.Context, a *app, arg string) (*domain.Deck, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	user, err := a.user(ctx)
	if err != nil {
		return nil, err
	}
	deck, err := a.db.GetDeck(ctx, id)
	if err != nil {
		return nil, err
	}
	if deck.UserID != user.ID {
		return nil, fmt.Errorf("deck %d belongs to another user", id)
	}
	return deck, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func statusLabel(m domain.Meta) string {
	if m.SyncStatus == domain.Synced {
		return passStyle.Render(string(m.SyncStatus))
	}
	return warnStyle.Render(string(m.SyncStatus))
}
