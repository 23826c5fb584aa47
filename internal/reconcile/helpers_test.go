package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
	"github.com/Clark-Hu/reel-ledger/internal/ledger/ledgersim"
	"github.com/Clark-Hu/reel-ledger/internal/tmdb"
)

const (
	primaryKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	fightClub  = domain.MovieID(550)
	unknownID  = domain.MovieID(999999999)
)

var otherAuthor = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

type fakeCatalog struct {
	mu      sync.Mutex
	movies  map[domain.MovieID]domain.Movie
	listing []domain.Movie
	err     error
	calls   int
}

func newFakeCatalog(movies ...domain.Movie) *fakeCatalog {
	f := &fakeCatalog{movies: make(map[domain.MovieID]domain.Movie)}
	for _, m := range movies {
		f.movies[m.ID] = m
		f.listing = append(f.listing, m)
	}
	return f
}

func (f *fakeCatalog) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCatalog) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCatalog) hit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeCatalog) Search(_ context.Context, _ string, page int) (domain.SearchPage, error) {
	if err := f.hit(); err != nil {
		return domain.SearchPage{}, err
	}
	return domain.SearchPage{Results: f.listing, Page: page, TotalPages: 1}, nil
}

func (f *fakeCatalog) Movie(_ context.Context, id domain.MovieID) (*domain.Movie, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.movies[id]
	if !ok {
		return nil, tmdb.ErrNotFound
	}
	return &m, nil
}

func (f *fakeCatalog) Credits(_ context.Context, _ domain.MovieID) (*domain.Credits, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	return &domain.Credits{Cast: []domain.CastMember{{ID: 819, Name: "Edward Norton", Character: "The Narrator"}}}, nil
}

func (f *fakeCatalog) Listing(_ context.Context, _ domain.ListingCategory, _ int) ([]domain.Movie, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	return f.listing, nil
}

func (f *fakeCatalog) Similar(_ context.Context, _ domain.MovieID) ([]domain.Movie, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	return f.listing, nil
}

type harness struct {
	svc     *Service
	sim     *ledgersim.Ledger
	catalog *fakeCatalog
	key     *ledger.KeySigner
	keyring *ledger.Keyring
	journal *MemoryJournal
	likes   *MemoryLikes
	me      domain.Submitter
}

func newHarness(t *testing.T, simOpts ledgersim.Options, configure ...func(*Options)) *harness {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	simOpts.Logger = logger
	sim := ledgersim.New(simOpts)

	key, err := ledger.NewKeySigner(primaryKey)
	require.NoError(t, err)

	catalog := newFakeCatalog(
		domain.Movie{ID: fightClub, Title: "Fight Club"},
		domain.Movie{ID: 680, Title: "Pulp Fiction"},
	)
	h := &harness{
		sim:     sim,
		catalog: catalog,
		key:     key,
		keyring: ledger.NewKeyring(key),
		journal: NewMemoryJournal(),
		likes:   NewMemoryLikes(),
		me:      ledger.SubmitterOf(key),
	}
	opts := Options{
		Catalog:        h.catalog,
		Contract:       ledger.NewContract(sim, logger),
		Keyring:        h.keyring,
		Journal:        h.journal,
		Likes:          h.likes,
		Logger:         logger,
		ConfirmTimeout: 2 * time.Second,
		ConfirmPoll:    time.Millisecond,
		SettleBackoff:  time.Millisecond,
		SettleRetries:  5,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.svc, err = New(opts)
	require.NoError(t, err)
	t.Cleanup(h.svc.Close)
	return h
}

// prompt puts an approval step in front of the primary key.
func (h *harness) prompt(approve ledger.ApproveFunc) {
	h.keyring.Add(ledger.NewPromptSigner(h.key, approve))
}

// holdSignatures makes every signature wait until the returned func is called.
func (h *harness) holdSignatures() (release func()) {
	ch := make(chan struct{})
	h.prompt(func(ctx context.Context, _ ledger.SignRequest) (bool, error) {
		select {
		case <-ch:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (h *harness) session() *Session {
	return h.svc.Session(h.me)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireReason(t *testing.T, err error, want domain.Reason) {
	t.Helper()
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, want, rerr.Reason, "detail: %s", rerr.Detail)
}

func dispatchAndWait(t *testing.T, sess *Session, in Intent) domain.SubmissionState {
	t.Helper()
	ctx := testContext(t)
	sub, err := sess.Dispatch(ctx, in)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseAwaitingSignature, sub.Phase)
	final, err := sess.Wait(ctx, sub.ID)
	require.NoError(t, err)
	return final
}
