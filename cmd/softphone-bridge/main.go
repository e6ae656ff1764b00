package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/softphone-bridge/internal/browser"
	"github.com/sweeney/softphone-bridge/internal/config"
	"github.com/sweeney/softphone-bridge/internal/engine"
	"github.com/sweeney/softphone-bridge/internal/keys"
	"github.com/sweeney/softphone-bridge/internal/logging"
	"github.com/sweeney/softphone-bridge/internal/publisher"
)

func main() {
	configPath := flag.String("config", "/etc/softphone-bridge/softphone-bridge.yaml", "Path to config file")
	watch := flag.Bool("watch", true, "Reload phrase lists when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, *watch, logger); err != nil {
		logger.Fatal("bridge stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, configPath string, watch bool, logger *zap.Logger) error {
	statusTopic := fmt.Sprintf("%s/line/%s/status", cfg.MQTT.TopicPrefix, cfg.Backend.Line)
	offline, _ := json.Marshal(statusPayload{Status: "offline", Description: "The bridge is not running"})

	pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		QoS:         1,
		WillTopic:   statusTopic,
		WillPayload: offline,
		Logger:      logger.Named("mqtt"),
	})
	if err != nil {
		return err
	}
	defer pub.Close()
	logger.Info("connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))

	kc, err := keys.NewClient(keys.Options{
		Endpoint: cfg.Backend.Endpoint,
		APIToken: cfg.Backend.APIToken,
		Timeout:  cfg.Backend.Timeout,
	})
	if err != nil {
		return err
	}

	page, err := browser.Launch(ctx, browser.Options{
		ControlURL:  cfg.Browser.ControlURL,
		Bin:         cfg.Browser.Bin,
		Headless:    cfg.Browser.Headless,
		URL:         cfg.Browser.URL,
		LoadTimeout: cfg.Browser.LoadTimeout,
		Logger:      logger.Named("browser"),
	})
	if err != nil {
		return err
	}
	defer page.Close()
	logger.Info("host page open", zap.String("url", cfg.Browser.URL))

	eng := engine.New(page, kc, cfg.Settings(),
		engine.WithLogger(logger.Named("engine")),
		engine.WithConsoleSink(zap.NewStdLog(logger.Named("widget")).Writer()),
	)
	defer eng.Dispose()

	b := newBridge(eng, pub, cfg.MQTT.TopicPrefix, cfg.Backend.Line, logger.Named("bridge"))
	eng.OnChange(b.onChange)
	eng.OnEvent(b.onEvent)

	if err := b.publishSnapshot(ctx, time.Now()); err != nil {
		logger.Warn("initial status publish failed", zap.Error(err))
	}
	if err := pub.Subscribe(ctx, b.commandTopic(), func(_ string, payload []byte) {
		_ = b.handleCommand(ctx, payload)
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.run(gctx) })
	g.Go(func() error {
		// A failed init is published as the error status; reinit retries.
		if err := eng.Init(gctx); err != nil {
			logger.Error("softphone init failed", zap.Error(err))
		}
		return nil
	})
	if watch {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger.Named("config"), func(c *config.Config) {
				eng.SetPhrases(c.Phrases)
			})
		})
	}
	err = g.Wait()

	// A clean disconnect does not fire the will, so mark the line offline.
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if perr := pub.Publish(sctx, statusTopic, offline, true); perr != nil {
		logger.Warn("offline status publish failed", zap.Error(perr))
	}
	return err
}
