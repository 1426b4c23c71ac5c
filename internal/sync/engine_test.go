package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/conorfennell/cardsync/internal/auth"
	"github.com/conorfennell/cardsync/internal/blob"
	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/mapping"
	"github.com/conorfennell/cardsync/internal/remote"
	"github.com/conorfennell/cardsync/internal/remote/memory"
	"github.com/conorfennell/cardsync/internal/storage"
	"github.com/conorfennell/cardsync/internal/tracker"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// device is one installation of the app: its own local store and files,
// talking to a shared remote.
type device struct {
	db      *storage.DB
	remote  *memory.Store
	files   afero.Fs
	blobs   *blob.FSStore
	engine  *Engine
	user    *domain.User
	session *auth.Session

	// onSession runs whenever the engine resolves the session.
	onSession func()
}

func (d *device) Current(context.Context) (*auth.Session, error) {
	if d.onSession != nil {
		d.onSession()
	}
	return d.session, nil
}

func newDevice(t *testing.T, rs *memory.Store, files afero.Fs) *device {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatalf("storage.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := &device{
		db:      db,
		remote:  rs,
		files:   files,
		blobs:   blob.NewFSStore(files, "/blobs", "https://cdn.test"),
		session: &auth.Session{UserID: "u1", Email: "learner@example.com"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d.engine = New(Deps{
		Local:    db,
		Remote:   rs,
		Blobs:    d.blobs,
		Sessions: d,
		Tracker:  tracker.New(db, logger),
		Files:    files,
		Logger:   logger,
	}, 0)

	d.user, err = db.EnsureUser(context.Background(), "u1", "learner@example.com")
	if err != nil {
		t.Fatalf("EnsureUser() failed: %v", err)
	}
	return d
}

func newTestDevice(t *testing.T) *device {
	t.Helper()
	return newDevice(t, memory.New(), afero.NewMemMapFs())
}

func (d *device) sync(t *testing.T) Report {
	t.Helper()
	r := d.engine.RunFullSync(context.Background())
	if r.Skipped != "" {
		t.Fatalf("sync skipped: %s", r.Skipped)
	}
	return r
}

func (d *device) row(t *testing.T, table domain.Table, id int64) storage.Row {
	t.Helper()
	row, err := d.db.QueryOne(context.Background(), `SELECT * FROM `+string(table)+` WHERE id = ?`, id)
	if err != nil {
		t.Fatalf("QueryOne() failed: %v", err)
	}
	return row
}

func (d *device) newDeck(t *testing.T, name string) *domain.Deck {
	t.Helper()
	deck, err := d.db.CreateDeck(context.Background(), d.user.ID, name, "")
	if err != nil {
		t.Fatalf("CreateDeck() failed: %v", err)
	}
	return deck
}

func (d *device) newCard(t *testing.T, deckID int64, front string, frontImage *string) *domain.Card {
	t.Helper()
	card, err := d.db.CreateCard(context.Background(), deckID, front, "back of "+front, frontImage, nil)
	if err != nil {
		t.Fatalf("CreateCard() failed: %v", err)
	}
	return card
}

func future(d time.Duration) string {
	return domain.FormatTime(time.Now().Add(d))
}

func TestRunFullSync_NoSession(t *testing.T) {
	d := newTestDevice(t)
	d.session = nil
	d.newDeck(t, "Spanish")

	r := d.engine.RunFullSync(context.Background())
	if r.Skipped != SkipNoSession {
		t.Errorf("Skipped = %q, want %q", r.Skipped, SkipNoSession)
	}
	if n := d.remote.Calls("insert", "decks") + d.remote.Calls("select", "decks"); n != 0 {
		t.Errorf("remote was contacted %d times without a session", n)
	}
	if d.engine.State() != Idle {
		t.Errorf("state = %v, want idle", d.engine.State())
	}
}

// A new deck is inserted remotely and adopts the returned id.
func TestPush_CreateDeck(t *testing.T) {
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")

	r := d.sync(t)

	if got := d.remote.Calls("insert", "decks"); got != 1 {
		t.Fatalf("insert calls = %d, want 1", got)
	}
	remoteRows := d.remote.Rows("decks")
	if len(remoteRows) != 1 {
		t.Fatalf("remote decks = %d, want 1", len(remoteRows))
	}
	local := d.row(t, domain.Decks, deck.ID)
	if local.String("cloud_id") != remoteRows[0]["id"] {
		t.Errorf("cloud_id = %q, want remote id %v", local.String("cloud_id"), remoteRows[0]["id"])
	}
	if local.String("sync_status") != string(domain.Synced) {
		t.Errorf("sync_status = %q, want synced", local.String("sync_status"))
	}
	if remoteRows[0]["name"] != "Spanish" || remoteRows[0]["user_id"] != "u1" {
		t.Errorf("remote deck = %v", remoteRows[0])
	}
	if r.Tables[domain.Decks].Created != 1 {
		t.Errorf("report created = %d, want 1", r.Tables[domain.Decks].Created)
	}
	if r.Pending {
		t.Error("report still shows pending changes")
	}
}

// A row mutated before its first push is still created, not upserted.
func TestPush_EditBeforeFirstPushStillCreates(t *testing.T) {
	d := newTestDevice(t)
	deck := d.newDeck(t, "Draft")
	if err := d.db.UpdateDeck(context.Background(), deck.ID, "Final", ""); err != nil {
		t.Fatalf("UpdateDeck() failed: %v", err)
	}
	if got := d.row(t, domain.Decks, deck.ID).String("sync_status"); got != string(domain.PendingCreate) {
		t.Fatalf("sync_status = %q, want pending_create", got)
	}

	d.sync(t)

	if d.remote.Calls("upsert", "decks") != 0 || d.remote.Calls("insert", "decks") != 1 {
		t.Errorf("insert/upsert calls = %d/%d, want 1/0",
			d.remote.Calls("insert", "decks"), d.remote.Calls("upsert", "decks"))
	}
	if name := d.remote.Rows("decks")[0]["name"]; name != "Final" {
		t.Errorf("remote name = %v, want Final", name)
	}
}

// The deck is pushed first in the same cycle, so its card
// resolves the parent and goes out too.
func TestPush_ParentBeforeChildInOneCycle(t *testing.T) {
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")
	card := d.newCard(t, deck.ID, "hola", nil)

	d.sync(t)

	deckCloud := d.row(t, domain.Decks, deck.ID).String("cloud_id")
	cardRow := d.row(t, domain.Cards, card.ID)
	if cardRow.String("sync_status") != string(domain.Synced) {
		t.Fatalf("card sync_status = %q, want synced", cardRow.String("sync_status"))
	}
	remoteCard, ok := d.remote.Get("cards", cardRow.String("cloud_id"))
	if !ok {
		t.Fatal("card missing remotely")
	}
	if remoteCard["deck_id"] != deckCloud {
		t.Errorf("remote deck_id = %v, want %s", remoteCard["deck_id"], deckCloud)
	}
	if remoteCard["front_text"] != "hola" {
		t.Errorf("remote front_text = %v", remoteCard["front_text"])
	}
}

// A card whose deck has no cloud_id is deferred, then pushed once the
// deck syncs.
func TestPush_DefersChildOfUnsyncedParent(t *testing.T) {
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")
	card := d.newCard(t, deck.ID, "hola", nil)

	d.remote.Fail = func(op, table string, _ remote.Row) error {
		if op == "insert" && table == "decks" {
			return errors.New("service unavailable")
		}
		return nil
	}
	r := d.sync(t)

	if got := d.row(t, domain.Cards, card.ID).String("sync_status"); got != string(domain.PendingCreate) {
		t.Errorf("card sync_status = %q, want pending_create", got)
	}
	if d.remote.Calls("insert", "cards") != 0 {
		t.Error("card was pushed before its deck")
	}
	if r.Tables[domain.Cards].Deferred != 1 || r.Tables[domain.Decks].Failed != 1 {
		t.Errorf("report = %+v / %+v", r.Tables[domain.Decks], r.Tables[domain.Cards])
	}
	if !r.Pending {
		t.Error("report should show pending changes")
	}

	d.remote.Fail = nil
	d.sync(t)

	if got := d.row(t, domain.Cards, card.ID).String("sync_status"); got != string(domain.Synced) {
		t.Errorf("card sync_status after retry = %q, want synced", got)
	}
}

// Pushing the same pending update twice upserts once per push and
// converges on synced with an unchanged cloud_id.
func TestPush_UpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")
	d.sync(t)
	cloudID := d.row(t, domain.Decks, deck.ID).String("cloud_id")

	if err := d.db.UpdateDeck(ctx, deck.ID, "Español", "verbs"); err != nil {
		t.Fatalf("UpdateDeck() failed: %v", err)
	}
	rows, err := d.db.PendingRows(ctx, domain.Decks, d.user.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("PendingRows() = %v, %v", rows, err)
	}

	c := &cycle{Engine: d.engine, user: d.user, userCloudID: "u1", report: &Report{}}
	for i := 1; i <= 2; i++ {
		if got := c.pushRecord(ctx, domain.Decks, rows[0]); got != updated {
			t.Fatalf("push %d outcome = %v, want updated", i, got)
		}
		if calls := d.remote.Calls("upsert", "decks"); calls != i {
			t.Errorf("after push %d upsert calls = %d", i, calls)
		}
	}

	local := d.row(t, domain.Decks, deck.ID)
	if local.String("sync_status") != string(domain.Synced) || local.String("cloud_id") != cloudID {
		t.Errorf("local = %v, want synced with cloud_id %s", local, cloudID)
	}
	if n := len(d.remote.Rows("decks")); n != 1 {
		t.Errorf("remote decks = %d, want 1", n)
	}
	if r, _ := d.remote.Get("decks", cloudID); r["name"] != "Español" {
		t.Errorf("remote name = %v", r["name"])
	}
}

func TestPush_EditDuringPushStaysPending(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")

	d.remote.Fail = func(op, table string, _ remote.Row) error {
		if op == "insert" && table == "decks" {
			time.Sleep(2 * time.Millisecond)
			if err := d.db.UpdateDeck(ctx, deck.ID, "Edited mid-push", ""); err != nil {
				t.Errorf("UpdateDeck() failed: %v", err)
			}
		}
		return nil
	}
	d.sync(t)

	local := d.row(t, domain.Decks, deck.ID)
	if local.String("cloud_id") == "" {
		t.Fatal("cloud_id not recorded")
	}
	if local.String("sync_status") != string(domain.PendingUpdate) {
		t.Errorf("sync_status = %q, want pending_update", local.String("sync_status"))
	}

	d.remote.Fail = nil
	d.sync(t)
	if r, _ := d.remote.Get("decks", local.String("cloud_id")); r["name"] != "Edited mid-push" {
		t.Errorf("remote name = %v, want the mid-push edit", r["name"])
	}
}

// A crash between the remote insert and recording the cloud_id must not
// duplicate the row on the next push.
func TestPush_ReplayedCreateDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")

	row := d.row(t, domain.Decks, deck.ID)
	payload := mapping.MustFor(domain.Decks).ToRemote(row, "u1", "u1")
	firstID, _, err := d.remote.Insert(ctx, "decks", payload)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	d.sync(t)

	if n := len(d.remote.Rows("decks")); n != 1 {
		t.Errorf("remote decks = %d, want 1", n)
	}
	if got := d.row(t, domain.Decks, deck.ID).String("cloud_id"); got != firstID {
		t.Errorf("cloud_id = %q, want %q", got, firstID)
	}
}

func TestPush_RecordFailureDoesNotAbortBatch(t *testing.T) {
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")
	var bad *domain.Card
	for i, front := range []string{"uno", "dos", "tres", "bad", "cinco", "seis", "siete"} {
		c := d.newCard(t, deck.ID, front, nil)
		if i == 3 {
			bad = c
		}
	}

	d.remote.Fail = func(op, table string, payload remote.Row) error {
		if op == "insert" && table == "cards" && payload["front_text"] == "bad" {
			return errors.New("rejected")
		}
		return nil
	}
	r := d.sync(t)

	if got := r.Tables[domain.Cards]; got.Created != 6 || got.Failed != 1 {
		t.Errorf("card counts = %+v, want 6 created and 1 failed", got)
	}
	if got := d.row(t, domain.Cards, bad.ID).String("sync_status"); got != string(domain.PendingCreate) {
		t.Errorf("failed card sync_status = %q, want pending_create", got)
	}
	if !r.Pending {
		t.Error("report should show pending changes")
	}
}

func TestPush_CardBatchesRunConcurrently(t *testing.T) {
	for _, size := range []int{DefaultCardBatchSize, 3} {
		t.Run(fmt.Sprintf("batch size %d", size), func(t *testing.T) {
			d := newTestDevice(t)
			d.engine.batchSize = size
			deck := d.newDeck(t, "Numbers")
			for i := 0; i < 12; i++ {
				d.newCard(t, deck.ID, fmt.Sprintf("card %d", i), nil)
			}

			var inFlight, peak atomic.Int32
			d.remote.Fail = func(op, table string, _ remote.Row) error {
				if op != "insert" || table != "cards" {
					return nil
				}
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				// Hold the first batch until it is complete.
				deadline := time.Now().Add(time.Second)
				for peak.Load() < int32(size) && time.Now().Before(deadline) {
					time.Sleep(time.Millisecond)
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			}

			r := d.sync(t)

			if got := r.Tables[domain.Cards].Created; got != 12 {
				t.Errorf("cards created = %d, want 12", got)
			}
			if got := peak.Load(); got != int32(size) {
				t.Errorf("peak concurrent card pushes = %d, want %d", got, size)
			}
		})
	}
}

func TestPush_UploadsImages(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	if err := afero.WriteFile(d.files, "/photos/cat.png", pngHeader, 0o644); err != nil {
		t.Fatal(err)
	}
	deck := d.newDeck(t, "Animals")
	withImage := d.newCard(t, deck.ID, "cat", ptr("/photos/cat.png"))
	lostImage := d.newCard(t, deck.ID, "dog", ptr("/photos/missing.png"))

	d.sync(t)

	t.Run("uploaded", func(t *testing.T) {
		row := d.row(t, domain.Cards, withImage.ID)
		url := row.String("front_image")
		if !strings.HasPrefix(url, "https://cdn.test/u1/") || !strings.HasSuffix(url, "-front.png") {
			t.Fatalf("front_image = %q, want a blob URL", url)
		}
		if row.String("sync_status") != string(domain.Synced) {
			t.Errorf("sync_status = %q, want synced", row.String("sync_status"))
		}
		remoteCard, _ := d.remote.Get("cards", row.String("cloud_id"))
		if remoteCard["front_image_url"] != url {
			t.Errorf("remote front_image_url = %v, want %s", remoteCard["front_image_url"], url)
		}
		path, _ := d.blobs.PathFromURL(url)
		if _, err := d.blobs.Open(path); err != nil {
			t.Errorf("blob not stored: %v", err)
		}
	})

	t.Run("failed upload drops the image", func(t *testing.T) {
		row := d.row(t, domain.Cards, lostImage.ID)
		if row["front_image"] != nil {
			t.Errorf("front_image = %v, want NULL", row["front_image"])
		}
		if row.String("sync_status") != string(domain.Synced) {
			t.Errorf("sync_status = %q, want synced", row.String("sync_status"))
		}
		remoteCard, _ := d.remote.Get("cards", row.String("cloud_id"))
		if remoteCard["front_image_url"] != nil {
			t.Errorf("remote front_image_url = %v, want nil", remoteCard["front_image_url"])
		}
	})

	t.Run("deck delete removes card images", func(t *testing.T) {
		url := d.row(t, domain.Cards, withImage.ID).String("front_image")
		cardCloud := d.row(t, domain.Cards, withImage.ID).String("cloud_id")
		if err := d.db.DeleteDeck(ctx, deck.ID); err != nil {
			t.Fatalf("DeleteDeck() failed: %v", err)
		}
		d.sync(t)

		path, _ := d.blobs.PathFromURL(url)
		if _, err := d.blobs.Open(path); !errors.Is(err, blob.ErrNotFound) {
			t.Errorf("blob still present: %v", err)
		}
		if row := d.row(t, domain.Cards, withImage.ID); row != nil {
			t.Errorf("card still stored locally: %v", row)
		}
		if r, _ := d.remote.Get("cards", cardCloud); r["is_deleted"] != true {
			t.Errorf("remote card not tombstoned: %v", r)
		}
	})
}

// A soft-deleted row is hidden from reads but stored until the remote
// delete succeeds.
func TestPush_SoftThenHardDelete(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")
	d.sync(t)
	cloudID := d.row(t, domain.Decks, deck.ID).String("cloud_id")

	if err := d.db.DeleteDeck(ctx, deck.ID); err != nil {
		t.Fatalf("DeleteDeck() failed: %v", err)
	}
	if got, _ := d.db.GetDeck(ctx, deck.ID); got != nil {
		t.Error("soft-deleted deck still readable")
	}

	d.remote.Fail = func(op, _ string, _ remote.Row) error {
		if op == "delete" {
			return errors.New("timeout")
		}
		return nil
	}
	d.sync(t)
	if row := d.row(t, domain.Decks, deck.ID); row == nil || row.String("sync_status") != string(domain.PendingDelete) {
		t.Fatalf("deck after failed delete = %v, want pending_delete", row)
	}

	d.remote.Fail = nil
	d.sync(t)
	if row := d.row(t, domain.Decks, deck.ID); row != nil {
		t.Errorf("deck still stored: %v", row)
	}
	if r, _ := d.remote.Get("decks", cloudID); r["is_deleted"] != true {
		t.Errorf("remote deck = %v, want tombstone", r)
	}
}

func TestPush_DeleteOfNeverPushedRow(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	deck := d.newDeck(t, "Scratch")
	if err := d.db.DeleteDeck(ctx, deck.ID); err != nil {
		t.Fatalf("DeleteDeck() failed: %v", err)
	}

	d.sync(t)

	if d.remote.Calls("delete", "decks") != 0 {
		t.Error("remote delete issued for a row that never reached it")
	}
	if row := d.row(t, domain.Decks, deck.ID); row != nil {
		t.Errorf("deck still stored: %v", row)
	}
}

func TestPush_UpdateOfRemotelyDeletedRow(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")
	d.sync(t)
	cloudID := d.row(t, domain.Decks, deck.ID).String("cloud_id")

	if err := d.remote.Delete(ctx, "decks", cloudID); err != nil {
		t.Fatal(err)
	}
	if err := d.db.UpdateDeck(ctx, deck.ID, "Renamed", ""); err != nil {
		t.Fatal(err)
	}

	d.sync(t)

	if row := d.row(t, domain.Decks, deck.ID); row != nil {
		t.Errorf("deck deleted elsewhere is still stored: %v", row)
	}
}

func TestPull_InsertsRemoteRows(t *testing.T) {
	d := newTestDevice(t)
	d.remote.Put("users", remote.Row{"id": "u1", "client_key": "u1", "email": "learner@example.com",
		"display_name": "Ana", "updated_at": "2024-01-01T00:00:00.000Z"})
	d.remote.Put("decks", remote.Row{"id": "d1", "user_id": "u1", "client_key": "k-d1", "name": "Remote deck",
		"description": "", "updated_at": "2024-01-02T00:00:00.000Z"})
	d.remote.Put("cards", remote.Row{"id": "c1", "user_id": "u1", "deck_id": "d1", "client_key": "k-c1",
		"front_text": "hola", "back_text": "hello", "updated_at": "2024-01-03T00:00:00.000Z"})
	d.remote.Put("cards", remote.Row{"id": "c2", "user_id": "u1", "deck_id": "nowhere", "client_key": "k-c2",
		"front_text": "orphan", "updated_at": "2024-01-03T00:00:00.000Z"})

	r := d.sync(t)

	ctx := context.Background()
	user, _ := d.db.FindUserByCloudID(ctx, "u1")
	if user.DisplayName != "Ana" {
		t.Errorf("display_name = %q, want the remote profile", user.DisplayName)
	}
	deckID, ok, _ := d.db.LocalIDFor(ctx, domain.Decks, "d1")
	if !ok {
		t.Fatal("remote deck not pulled")
	}
	cards, err := d.db.ListCards(ctx, deckID)
	if err != nil || len(cards) != 1 || cards[0].Front != "hola" {
		t.Fatalf("ListCards() = %+v, %v", cards, err)
	}
	if cards[0].SyncStatus != domain.Synced {
		t.Errorf("pulled card sync_status = %q, want synced", cards[0].SyncStatus)
	}
	if _, ok, _ := d.db.LocalIDFor(ctx, domain.Cards, "c2"); ok {
		t.Error("card without a local parent was inserted")
	}
	if r.Tables[domain.Cards].Orphaned != 1 {
		t.Errorf("orphaned = %d, want 1", r.Tables[domain.Cards].Orphaned)
	}
}

// The same remote row pulled twice yields one local row with the
// latest values.
func TestPull_UpsertDedup(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	d.remote.Put("decks", remote.Row{"id": "d7", "user_id": "u1", "client_key": "k7", "name": "First",
		"updated_at": future(time.Hour)})
	d.sync(t)

	renamed := remote.Row{"id": "d7", "user_id": "u1", "client_key": "k7", "name": "Renamed",
		"updated_at": future(2 * time.Hour)}
	c := &cycle{Engine: d.engine, user: d.user, userCloudID: "u1", report: &Report{}}
	for i, want := range []outcome{updated, unchanged} {
		if got := c.pullRecord(ctx, mapping.MustFor(domain.Decks), renamed); got != want {
			t.Fatalf("pull %d outcome = %v, want %v", i, got, want)
		}
	}

	rows, err := d.db.QueryAll(ctx, `SELECT * FROM decks WHERE cloud_id = ?`, "d7")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows for d7 = %d, want 1", len(rows))
	}
	if rows[0].String("name") != "Renamed" {
		t.Errorf("name = %q, want Renamed", rows[0].String("name"))
	}
}

// A remote tombstone deletes the local copy and never creates one.
func TestPull_RemoteTombstone(t *testing.T) {
	d := newTestDevice(t)
	deck := d.newDeck(t, "Spanish")
	card := d.newCard(t, deck.ID, "hola", nil)
	d.sync(t)
	deckCloud := d.row(t, domain.Decks, deck.ID).String("cloud_id")
	cardCloud := d.row(t, domain.Cards, card.ID).String("cloud_id")

	d.remote.Put("cards", remote.Row{"id": cardCloud, "user_id": "u1", "deck_id": deckCloud,
		"is_deleted": true, "updated_at": future(time.Hour)})
	d.remote.Put("cards", remote.Row{"id": "c9", "user_id": "u1", "deck_id": deckCloud,
		"is_deleted": true, "updated_at": future(time.Hour)})

	r := d.sync(t)

	if row := d.row(t, domain.Cards, card.ID); row != nil {
		t.Errorf("card deleted remotely is still stored: %v", row)
	}
	if _, ok, _ := d.db.LocalIDFor(context.Background(), domain.Cards, "c9"); ok {
		t.Error("tombstone created a local row")
	}
	if r.Tables[domain.Cards].Removed != 1 {
		t.Errorf("removed = %d, want 1", r.Tables[domain.Cards].Removed)
	}
}

// Two devices edit the same deck offline; the last push wins
// remotely and the other device converges on it.
func TestLastWriterWins(t *testing.T) {
	ctx := context.Background()
	shared := memory.New()
	files := afero.NewMemMapFs()
	phone := newDevice(t, shared, files)
	tablet := newDevice(t, shared, files)

	deck := phone.newDeck(t, "Spanish")
	phone.sync(t)
	tablet.sync(t)
	cloudID := phone.row(t, domain.Decks, deck.ID).String("cloud_id")
	tabletDeck, ok, _ := tablet.db.LocalIDFor(ctx, domain.Decks, cloudID)
	if !ok {
		t.Fatal("tablet did not pull the deck")
	}

	if err := phone.db.UpdateDeck(ctx, deck.ID, "From phone", ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := tablet.db.UpdateDeck(ctx, tabletDeck, "From tablet", ""); err != nil {
		t.Fatal(err)
	}

	if r := phone.sync(t); len(r.Errors) != 0 {
		t.Errorf("phone sync errors: %v", r.Errors)
	}
	if r := tablet.sync(t); len(r.Errors) != 0 {
		t.Errorf("tablet sync errors: %v", r.Errors)
	}
	if r, _ := shared.Get("decks", cloudID); r["name"] != "From tablet" {
		t.Errorf("remote name = %v, want the last push", r["name"])
	}

	phone.sync(t)
	if got, _ := phone.db.GetDeck(ctx, deck.ID); got.Name != "From tablet" {
		t.Errorf("phone name = %q, want From tablet", got.Name)
	}
}

// A deck created offline and pushed late is still seen by a device that
// synced newer changes in between.
func TestPull_LatePushReachesOtherDevice(t *testing.T) {
	ctx := context.Background()
	shared := memory.New()
	files := afero.NewMemMapFs()
	phone := newDevice(t, shared, files)
	tablet := newDevice(t, shared, files)

	tablet.newDeck(t, "Written offline")
	time.Sleep(5 * time.Millisecond)
	phone.newDeck(t, "Written online")
	phone.sync(t)
	tablet.sync(t)
	phone.sync(t)

	for name, d := range map[string]*device{"phone": phone, "tablet": tablet} {
		decks, err := d.db.ListDecks(ctx, d.user.ID)
		if err != nil {
			t.Fatalf("%s ListDecks() failed: %v", name, err)
		}
		if len(decks) != 2 {
			t.Errorf("%s has %d decks, want 2", name, len(decks))
		}
	}

	r := phone.sync(t)
	if got := r.Total().Pulled; got != 0 {
		t.Errorf("idle cycle pulled %d rows, want 0", got)
	}
}

func TestRunFullSync_SwitchingUsers(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	first := d.newDeck(t, "First user's synced deck")
	d.sync(t)

	offline := d.newDeck(t, "First user's offline deck")
	card := d.newCard(t, offline.ID, "hola", nil)
	d.remote.Put("decks", remote.Row{"id": "d-u2", "user_id": "u2", "client_key": "k-u2", "name": "Second user's deck",
		"updated_at": "2024-01-01T00:00:00.000Z"})

	d.session = &auth.Session{UserID: "u2", Email: "second@example.com"}
	d.sync(t)

	t.Run("other user's changes stay local", func(t *testing.T) {
		if n := d.remote.Calls("insert", "decks") + d.remote.Calls("insert", "cards"); n != 1 {
			t.Errorf("remote inserts = %d, want only the first sync's deck", n)
		}
		for table, id := range map[domain.Table]int64{domain.Decks: offline.ID, domain.Cards: card.ID} {
			if got := d.row(t, table, id).String("sync_status"); got != string(domain.PendingCreate) {
				t.Errorf("%s sync_status = %q, want pending_create", table, got)
			}
		}
	})

	t.Run("older rows of the new user are pulled", func(t *testing.T) {
		second, err := d.db.FindUserByCloudID(ctx, "u2")
		if err != nil || second == nil {
			t.Fatalf("FindUserByCloudID() = %v, %v", second, err)
		}
		id, ok, _ := d.db.LocalIDFor(ctx, domain.Decks, "d-u2")
		if !ok {
			t.Fatal("second user's deck was not pulled")
		}
		if got := d.row(t, domain.Decks, id).Int64("user_id"); got != second.ID {
			t.Errorf("pulled deck user_id = %d, want %d", got, second.ID)
		}
	})

	t.Run("switching back pushes with the right owner", func(t *testing.T) {
		d.session = &auth.Session{UserID: "u1", Email: "learner@example.com"}
		d.sync(t)

		cardRow := d.row(t, domain.Cards, card.ID)
		remoteCard, ok := d.remote.Get("cards", cardRow.String("cloud_id"))
		if !ok {
			t.Fatal("card not pushed")
		}
		remoteDeck, _ := d.remote.Get("decks", d.row(t, domain.Decks, offline.ID).String("cloud_id"))
		if remoteCard["user_id"] != "u1" || remoteDeck["user_id"] != "u1" {
			t.Errorf("owners = deck %v, card %v; want u1", remoteDeck["user_id"], remoteCard["user_id"])
		}
		if _, ok, _ := d.db.LocalIDFor(ctx, domain.Decks, d.row(t, domain.Decks, first.ID).String("cloud_id")); !ok {
			t.Error("first user's synced deck went missing")
		}
	})
}

func TestRunFullSync_StateGuard(t *testing.T) {
	d := newTestDevice(t)

	t.Run("syncing while the cycle runs", func(t *testing.T) {
		var seen State
		var nested Report
		d.onSession = func() {
			seen = d.engine.State()
			nested = d.engine.RunFullSync(context.Background())
		}
		d.sync(t)
		d.onSession = nil

		if seen != Syncing {
			t.Errorf("state during cycle = %v, want syncing", seen)
		}
		if nested.Skipped != SkipInProgress {
			t.Errorf("overlapping trigger Skipped = %q, want %q", nested.Skipped, SkipInProgress)
		}
		if d.engine.State() != Idle {
			t.Errorf("state after cycle = %v, want idle", d.engine.State())
		}
	})

	t.Run("call while syncing is dropped", func(t *testing.T) {
		d.engine.state = Syncing
		defer func() { d.engine.state = Idle }()
		before := d.remote.Calls("select", "decks")

		r := d.engine.RunFullSync(context.Background())
		if r.Skipped != SkipInProgress {
			t.Errorf("Skipped = %q, want %q", r.Skipped, SkipInProgress)
		}
		if d.remote.Calls("select", "decks") != before {
			t.Error("dropped call still reached the remote")
		}
	})

	t.Run("panic clears the flag", func(t *testing.T) {
		d.onSession = func() { panic("session store exploded") }
		defer func() { d.onSession = nil }()

		r := d.engine.RunFullSync(context.Background())
		if len(r.Errors) == 0 {
			t.Error("panic not reported")
		}
		if d.engine.State() != Idle {
			t.Errorf("state = %v, want idle", d.engine.State())
		}
	})
}

func TestRunFullSync_PullRunsAfterPushFailure(t *testing.T) {
	d := newTestDevice(t)
	d.newDeck(t, "Local")
	d.remote.Put("decks", remote.Row{"id": "d1", "user_id": "u1", "client_key": "k1", "name": "Remote",
		"updated_at": "2024-01-01T00:00:00.000Z"})
	d.remote.Fail = func(op, _ string, _ remote.Row) error {
		if op == "insert" {
			return errors.New("offline")
		}
		return nil
	}

	d.sync(t)

	if _, ok, _ := d.db.LocalIDFor(context.Background(), domain.Decks, "d1"); !ok {
		t.Error("pull did not run after push failures")
	}
	if d.engine.LastReport() == nil {
		t.Error("last report not recorded")
	}
}

func ptr(s string) *string { return &s }
