package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sweeney/softphone-bridge/internal/browser"
	"github.com/sweeney/softphone-bridge/internal/capture"
	"github.com/sweeney/softphone-bridge/internal/page"
	sig "github.com/sweeney/softphone-bridge/internal/signal"
)

func main() {
	url := flag.String("url", "", "Host page that embeds the widget")
	controlURL := flag.String("control-url", "", "DevTools URL of a running browser")
	headless := flag.Bool("headless", false, "Run a launched browser headless")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	replayPath := flag.String("replay", "", "Classify every record of a capture file and print the result")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	if *replayPath != "" {
		f, err := os.Open(*replayPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := replay(f, os.Stdout, sig.NewClassifier(sig.DefaultPhrases())); err != nil {
			fmt.Fprintf(os.Stderr, "replay error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *url == "" && *controlURL == "" {
		fmt.Fprintln(os.Stderr, "error: -url or -control-url is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := browser.Options{ControlURL: *controlURL, Headless: *headless, URL: *url, LoadTimeout: 30 * time.Second}
	if err := record(ctx, opts, *outDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func record(ctx context.Context, opts browser.Options, outDir string) error {
	fmt.Printf("opening %s...\n", opts.URL)
	p, err := browser.Launch(ctx, opts)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".capture")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("writing to %s\n", filename)
	w := capture.NewWriter(f)
	h, err := w.Begin(time.Now())
	if err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	fmt.Printf("session %s\n", h.Session)

	detach := attach(p, w, os.Stdout)
	defer detach()

	fmt.Println("streaming signals (ctrl+c to stop)...")
	<-ctx.Done()
	return nil
}

// attach records every line seen on obs's three channels to w and echoes it
// to echo.
func attach(obs page.Observer, w *capture.Writer, echo io.Writer) func() {
	tap := sig.NewLogTap(nil)
	msgs := sig.NewMessageSource(obs)
	muts := sig.NewMutationSource(obs)
	stops := []func(){obs.OnConsole(tap.WriteLine), msgs.Close, muts.Close}

	for _, src := range []sig.Source{tap, msgs, muts} {
		stops = append(stops, src.Listen(func(l sig.Line) {
			if err := w.Write(capture.FromLine(l)); err != nil {
				fmt.Fprintf(os.Stderr, "write error: %v\n", err)
			}
			fmt.Fprintf(echo, "[%s] %s\n", l.Source, l.Text)
		}))
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func replay(r io.Reader, out io.Writer, c *sig.Classifier) error {
	p := capture.NewParser(r)
	for {
		rec, ok := p.Next()
		if !ok {
			break
		}
		fmt.Fprintf(out, "%-10s %-8s %s\n", c.Classify(rec.Text), rec.Channel, rec.Text)
	}
	return p.Err()
}

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Create backup
	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	p := capture.NewParser(bytes.NewReader(data))
	records := p.ParseAll()
	if err := p.Err(); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}

	var buf bytes.Buffer
	w := capture.NewWriter(&buf)
	if h := p.Header(); h.Session != "" {
		if err := w.WriteHeader(h); err != nil {
			return err
		}
	}
	for _, r := range records {
		if err := w.Write(capture.Sanitize(r)); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
