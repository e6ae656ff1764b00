package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sweeney/softphone-bridge/internal/capture"
	"github.com/sweeney/softphone-bridge/internal/page"
	sig "github.com/sweeney/softphone-bridge/internal/signal"
)

func TestAttachRecordsAllChannels(t *testing.T) {
	p := page.NewMockPage()
	var file, echo bytes.Buffer
	w := capture.NewWriter(&file)

	detach := attach(p, w, &echo)
	p.EmitConsole("[UA] Incoming call from +15551234")
	p.EmitMessage(map[string]string{"event": "call ended"})
	p.EmitMutation(page.Mutation{Ref: "r1", Tag: "div", Class: "call-toast", Text: "Incoming call"}, nil)
	detach()
	p.EmitConsole("after detach")

	records := capture.ParseBytes(file.Bytes())
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	want := []struct{ channel, text string }{
		{"console", "[UA] Incoming call from +15551234"},
		{"message", `{"event":"call ended"}`},
		{"mutation", "div call-toast Incoming call"},
	}
	for i, w := range want {
		if records[i].Channel != w.channel || records[i].Text != w.text {
			t.Errorf("record %d: expected %s %q, got %s %q", i, w.channel, w.text, records[i].Channel, records[i].Text)
		}
	}
	if !strings.Contains(echo.String(), "[console] [UA] Incoming call from +15551234") {
		t.Errorf("expected echoed console line, got %q", echo.String())
	}
	if p.Listeners() != 0 {
		t.Errorf("expected no listeners after detach, got %d", p.Listeners())
	}
}

func TestReplayClassifiesCapture(t *testing.T) {
	f, err := os.Open(filepath.Join("..", "..", "testdata", "captures", "inbound-answered.capture"))
	if err != nil {
		t.Fatalf("opening capture: %v", err)
	}
	defer f.Close()

	var out bytes.Buffer
	if err := replay(f, &out, sig.NewClassifier(sig.DefaultPhrases())); err != nil {
		t.Fatalf("replay: %v", err)
	}

	var kinds []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		kinds = append(kinds, strings.Fields(line)[0])
	}
	want := "none,registered,none,none,incoming,incoming,incoming,confirmed,terminated,terminated"
	if got := strings.Join(kinds, ","); got != want {
		t.Errorf("expected kinds %s, got %s", want, got)
	}
}

func TestSanitizeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.capture")
	raw := "Session: s-1\nStarted: 2025-06-03T14:00:00Z\n\n" +
		"Channel: console\nAt: 2025-06-03T14:00:01Z\nText: key=eyJhbGciOi.eyJzdWIiOi.c2ln from 192.168.1.20\n\n" +
		"Channel: console\nAt: 2025-06-03T14:00:02Z\nText: Incoming call from +447700900123\n\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := sanitizeFile(path); err != nil {
		t.Fatalf("sanitize: %v", err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	if string(bak) != raw {
		t.Error("backup does not match original")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	p := capture.NewParser(bytes.NewReader(data))
	records := p.ParseAll()
	if p.Header().Session != "s-1" {
		t.Errorf("expected header kept, got %+v", p.Header())
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, secret := range []string{"eyJ", "192.168.1.20", "447700900123"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("sanitized file still contains %q", secret)
		}
	}
	if !strings.Contains(records[1].Text, "Incoming call from +15550001234") {
		t.Errorf("unexpected sanitized text %q", records[1].Text)
	}
}
