// Package ledger is the tamper-evident AGN token ledger: balances,
// escrow, validator stakes, and an append-only hash-chained
// transaction log.
//
// Trust model: a single coordinating process owns all state. The hash
// chain detects unauthorized edits to this process's own history; it
// is not consensus, and an operator who rewrites history and
// regenerates the chain defeats it.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agenteconomy/backend/internal/config"
	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/metrics"
	"github.com/agenteconomy/backend/internal/storage"
	"github.com/agenteconomy/backend/internal/token"
)

// Ledger is the single shared mutable resource of the economy. Every
// compound operation (escrow, release, refund, stake, slash) runs
// under one mutex, so from the caller's perspective each is atomic:
// all sub-effects become visible together or not at all.
type Ledger struct {
	mu sync.Mutex

	treasury      string
	stakeRequired token.Amount
	slashFrac     float64
	cooldown      time.Duration

	balances map[string]token.Amount
	escrows  map[string]*token.EscrowRecord
	stakes   map[string]*token.StakeRecord
	log      []token.Transaction
	lastHash string

	// corrupted freezes all mutations once a chain mismatch or a
	// store append failure is detected.
	corrupted bool

	store   storage.Store
	emitter events.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Options wires a Ledger's dependencies. Store and Events may be nil
// (in-memory only, no events); Metrics may be nil.
type Options struct {
	Config  *config.Config
	Store   storage.Store
	Events  events.Emitter
	Metrics *metrics.Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New builds a Ledger and replays any transactions already in the
// store to rebuild balances, escrows, and stakes. A replayed log whose
// hash chain fails verification loads frozen: reads work, mutations
// are refused until the store is externally reconciled.
func New(opts Options) (*Ledger, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	emitter := opts.Events
	if emitter == nil {
		emitter = events.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	l := &Ledger{
		treasury:      cfg.Marketplace.Treasury,
		stakeRequired: token.FromFloat(cfg.Staking.ValidatorStakeRequired),
		slashFrac:     cfg.Staking.SlashPercent / 100,
		cooldown:      time.Duration(cfg.Staking.CooldownAfterSlashHrs) * time.Hour,
		balances:      make(map[string]token.Amount),
		escrows:       make(map[string]*token.EscrowRecord),
		stakes:        make(map[string]*token.StakeRecord),
		store:         opts.Store,
		emitter:       emitter,
		metrics:       opts.Metrics,
		logger:        slog.Default().With("component", "ledger"),
		now:           now,
	}

	if l.store != nil {
		txs, err := l.store.LoadAll()
		if err != nil {
			return nil, err
		}
		l.replay(txs)
	}
	return l, nil
}

// Treasury returns the marketplace reserve entity key.
func (l *Ledger) Treasury() string { return l.treasury }

// StakeRequired returns the validator stake floor.
func (l *Ledger) StakeRequired() token.Amount { return l.stakeRequired }
