package engine

import (
	"time"

	"github.com/sweeney/softphone-bridge/internal/callstate"
	"github.com/sweeney/softphone-bridge/internal/locator"
	"github.com/sweeney/softphone-bridge/internal/signal"
	"github.com/sweeney/softphone-bridge/internal/suppress"
)

// Widget describes how to bootstrap the vendor softphone once its scripts
// have loaded.
type Widget struct {
	Scripts       []string
	BootstrapFunc string
	Style         string
	Locale        string
	Visible       bool
	Position      string
}

// Settings configures an Engine.
type Settings struct {
	Tenant string
	Line   string
	Widget Widget

	// AutoAnswer clicks the accept control when an inbound call is detected.
	// When false, detection still moves to ringing and Answer starts the loop.
	AutoAnswer bool

	Cooldown          time.Duration
	Debounce          time.Duration
	FirstAttemptDelay time.Duration
	AttemptInterval   time.Duration
	MaxAttempts       int

	RefreshInterval time.Duration
	// RefreshMargin is subtracted from a credential's expiry when that comes
	// sooner than RefreshInterval.
	RefreshMargin time.Duration
	// ReadyFallback moves loading to ready when the widget never logs a
	// registration. Zero or less means ready right after bootstrap.
	ReadyFallback    time.Duration
	BootstrapTimeout time.Duration
	BootstrapPoll    time.Duration

	Fragments []string
	Answer    []locator.Strategy
	Hangup    []locator.Strategy
	Phrases   signal.Phrases
}

// DefaultSettings returns the reference timings and built-in heuristics.
func DefaultSettings() Settings {
	return Settings{
		Widget: Widget{
			BootstrapFunc: "initSoftphone",
			Style:         "floating",
			Locale:        "en-US",
			Position:      "bottom-right",
		},
		AutoAnswer:        true,
		Cooldown:          callstate.DefaultCooldown,
		Debounce:          2 * time.Second,
		FirstAttemptDelay: 500 * time.Millisecond,
		AttemptInterval:   500 * time.Millisecond,
		MaxAttempts:       10,
		RefreshInterval:   70 * time.Hour,
		RefreshMargin:     10 * time.Minute,
		ReadyFallback:     10 * time.Second,
		BootstrapTimeout:  15 * time.Second,
		BootstrapPoll:     250 * time.Millisecond,
		Fragments:         suppress.DefaultFragments,
		Answer:            locator.DefaultAnswer(),
		Hangup:            locator.DefaultHangup(),
		Phrases:           signal.DefaultPhrases(),
	}
}

// minRefresh keeps an almost-expired credential from refreshing in a loop.
const minRefresh = time.Minute
