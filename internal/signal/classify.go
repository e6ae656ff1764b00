package signal

import "strings"

// Kind is a recognized call-lifecycle event.
type Kind int

const (
	None Kind = iota
	Incoming
	Confirmed
	Terminated
	Registered
)

func (k Kind) String() string {
	switch k {
	case Incoming:
		return "incoming"
	case Confirmed:
		return "confirmed"
	case Terminated:
		return "terminated"
	case Registered:
		return "registered"
	default:
		return "none"
	}
}

// Phrases are the substrings the classifier trusts. They are heuristics
// gathered from vendor diagnostics, so they live in configuration.
type Phrases struct {
	Incoming            []string   `yaml:"incoming" toml:"incoming"`
	IncomingAll         [][]string `yaml:"incoming_all" toml:"incoming_all"`
	Confirmed           []string   `yaml:"confirmed" toml:"confirmed"`
	Terminated          []string   `yaml:"terminated" toml:"terminated"`
	Registration        []string   `yaml:"registration" toml:"registration"`
	RegistrationContext []string   `yaml:"registration_context" toml:"registration_context"`
	RegistrationExclude []string   `yaml:"registration_exclude" toml:"registration_exclude"`
}

// DefaultPhrases returns the built-in phrase sets. Single generic words such
// as "connected", "confirmed", "accepted" or "bye" are left out on purpose:
// they show up in ordinary line re-registration traffic.
func DefaultPhrases() Phrases {
	return Phrases{
		Incoming:    []string{"incoming call", "invite received", "incoming invite", "new incoming session"},
		IncomingAll: [][]string{{"incoming", "caller"}},
		Confirmed:   []string{"call confirmed", "call accepted", "session confirmed", "call established"},
		Terminated: []string{
			"terminated", "call ended", "session ended", "call rejected", "call cancelled", "call canceled",
		},
		Registration:        []string{"registered", "registration successful"},
		RegistrationContext: []string{"line", "phone", "transport"},
		RegistrationExclude: []string{"unregistered", "registration failed", "not registered"},
	}
}

// Classifier maps free text onto a Kind. It is immutable after construction.
type Classifier struct {
	p Phrases
}

// NewClassifier lower-cases the phrase sets once.
func NewClassifier(p Phrases) *Classifier {
	groups := make([][]string, 0, len(p.IncomingAll))
	for _, g := range p.IncomingAll {
		groups = append(groups, lowerAll(g))
	}
	return &Classifier{p: Phrases{
		Incoming:            lowerAll(p.Incoming),
		IncomingAll:         groups,
		Confirmed:           lowerAll(p.Confirmed),
		Terminated:          lowerAll(p.Terminated),
		Registration:        lowerAll(p.Registration),
		RegistrationContext: lowerAll(p.RegistrationContext),
		RegistrationExclude: lowerAll(p.RegistrationExclude),
	}}
}

// Classify returns the Kind for text. When several sets match, the order is
// Terminated, Confirmed, Incoming, Registered.
func (c *Classifier) Classify(text string) Kind {
	s := strings.ToLower(text)
	if s == "" {
		return None
	}
	switch {
	case containsAny(s, c.p.Terminated):
		return Terminated
	case containsAny(s, c.p.Confirmed):
		return Confirmed
	case containsAny(s, c.p.Incoming) || c.incomingGroup(s):
		return Incoming
	case c.registration(s):
		return Registered
	}
	return None
}

func (c *Classifier) incomingGroup(s string) bool {
	for _, g := range c.p.IncomingAll {
		if len(g) > 0 && containsAll(s, g) {
			return true
		}
	}
	return false
}

func (c *Classifier) registration(s string) bool {
	if containsAny(s, c.p.RegistrationExclude) {
		return false
	}
	return containsAny(s, c.p.Registration) && containsAny(s, c.p.RegistrationContext)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
