package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDefaultPhrases(t *testing.T) {
	c := NewClassifier(DefaultPhrases())

	tests := []struct {
		text string
		want Kind
	}{
		{"[UA] Incoming call from +15551234", Incoming},
		{"SIP INVITE received for line 2", Incoming},
		{"OPTIONS keepalive sent", None},
		{"invite received", Incoming},
		{"incoming request, caller=Alice", Incoming},
		{"incoming request", None},
		{"Call Confirmed (dialog 77ab)", Confirmed},
		{"call accepted by remote", Confirmed},
		{"session confirmed", Confirmed},
		{"Session terminated: BYE", Terminated},
		{"call ended by peer", Terminated},
		{"session ended", Terminated},
		{"Line 1 registered via transport wss", Registered},
		{"phone registered", Registered},
		{"line unregistered", None},
		{"registered", None},
		{"connected", None},
		{"confirmed", None},
		{"accepted", None},
		{"bye", None},
		{"", None},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	c := NewClassifier(DefaultPhrases())

	// A cancelled incoming call must not look like a new one.
	assert.Equal(t, Terminated, c.Classify("incoming call terminated"))
	assert.Equal(t, Confirmed, c.Classify("incoming call confirmed"))
	assert.Equal(t, Incoming, c.Classify("incoming call on registered line"))
}

func TestClassifyCustomPhrases(t *testing.T) {
	c := NewClassifier(Phrases{
		Incoming:   []string{"  RING RING "},
		Confirmed:  []string{"Pickup"},
		Terminated: []string{"gone"},
	})

	assert.Equal(t, Incoming, c.Classify("ring ring!"))
	assert.Equal(t, Confirmed, c.Classify("PICKUP done"))
	assert.Equal(t, Terminated, c.Classify("caller gone"))
	assert.Equal(t, None, c.Classify("incoming call"))
	assert.Equal(t, None, c.Classify("line registered"))
}

func TestClassifyIgnoresEmptyGroups(t *testing.T) {
	c := NewClassifier(Phrases{IncomingAll: [][]string{{}, {"", ""}}})
	assert.Equal(t, None, c.Classify("anything"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "incoming", Incoming.String())
	assert.Equal(t, "confirmed", Confirmed.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "registered", Registered.String())
	assert.Equal(t, "none", None.String())
}
