package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/fsrs"
	"github.com/conorfennell/cardsync/internal/importer"
	"github.com/conorfennell/cardsync/internal/study"
)

var reviewCmd = &cobra.Command{
	Use:     "review [CARD_ID RATING]",
	GroupID: "content",
	Short:   "Show the next due card, or grade a card",
	Long: `Without arguments, show the next card that is due. With a card id and a
rating (again, hard, good, easy or 1-4), reschedule the card and record
the review in today's statistics.`,
	Args: cobra.MatchAll(cobra.RangeArgs(0, 2), func(_ *cobra.Command, args []string) error {
		if len(args) == 1 {
			return fmt.Errorf("a rating is required after the card id")
		}
		return nil
	}),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		svc := study.New(a.db)

		if len(args) == 0 {
			card, err := svc.Next(ctx, user.ID)
			if err != nil {
				return err
			}
			if card == nil {
				fmt.Println(passStyle.Render("✓") + " nothing is due")
				return nil
			}
			fmt.Println(titleStyle.Render(fmt.Sprintf("Card %d", card.ID)))
			fmt.Println(card.Front)
			fmt.Println(mutedStyle.Render("---"))
			fmt.Println(card.Back)
			return nil
		}

		card, err := ownCard(ctx, a, args[0])
		if err != nil {
			return err
		}
		rating, err := fsrs.ParseRating(args[1])
		if err != nil {
			return err
		}
		updated, err := svc.Review(ctx, card.ID, rating, reviewOpts.spent)
		if err != nil {
			return err
		}
		fmt.Printf("%s card %d rated %s, next due %s\n", passStyle.Render("✓"), updated.ID, rating, updated.DueDate)
		return nil
	}),
}

var practiceCmd = &cobra.Command{
	Use:     "practice DECK_ID",
	GroupID: "content",
	Short:   "Record the result of a practice session",
	Args:    cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		deck, err := ownDeck(ctx, a, args[0])
		if err != nil {
			return err
		}
		p, err := study.New(a.db).FinishPractice(ctx, deck.ID,
			practiceOpts.mode, practiceOpts.score, practiceOpts.total, practiceOpts.duration)
		if err != nil {
			return err
		}
		fmt.Printf("%s recorded %s practice on %s: %d/%d\n", passStyle.Render("✓"), p.Mode, deck.Name, p.Score, p.Total)
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:     "import SOURCE",
	GroupID: "content",
	Short:   "Import cards from a notes directory or git repository",
	Long: `Import every markdown file under SOURCE as a deck named after the file.
SOURCE is a local directory or a git URL, which is cloned (or pulled)
under repos_dir first. Cards already in the deck are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: run(func(ctx context.Context, a *app, args []string) error {
		user, err := a.user(ctx)
		if err != nil {
			return err
		}
		res, err := importer.New(a.db, afero.NewOsFs(), a.cfg.ReposDir, a.logger).Import(ctx, user.ID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s %d files, %d new decks, %d new cards, %d duplicates skipped\n",
			passStyle.Render("✓"), res.Files, res.Decks, res.Cards, res.Skipped)
		for _, e := range res.Errors {
			fmt.Println(failStyle.Render("✗ " + e.Error()))
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("import finished with %d error(s)", len(res.Errors))
		}
		return nil
	}),
}

var reviewOpts struct {
	spent time.Duration
}

var practiceOpts struct {
	mode         string
	score, total int
	duration     time.Duration
}

func init() {
	reviewCmd.Flags().DurationVar(&reviewOpts.spent, "time", 0, "Time spent on the card")

	f := practiceCmd.Flags()
	f.StringVar(&practiceOpts.mode, "mode", "classic", "Practice mode: classic, quiz, match or write")
	f.IntVar(&practiceOpts.score, "score", 0, "Correct answers")
	f.IntVar(&practiceOpts.total, "total", 0, "Questions asked")
	f.DurationVar(&practiceOpts.duration, "duration", 0, "Length of the session")

	rootCmd.AddCommand(reviewCmd, practiceCmd, importCmd)
}

func ownCard(ctx context.Context, a *app, arg string) (*domain.Card, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	card, err := a.db.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := ownDeck(ctx, a, strconv.FormatInt(card.DeckID, 10)); err != nil {
		return nil, err
	}
	return card, nil
}
