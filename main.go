package main

import (
	"flag"
	"net/http"
	"os"

	"sigscope/internal/config"
	"sigscope/internal/engine"
	"sigscope/internal/handlers"
	"sigscope/internal/logging"
	"sigscope/internal/send"
)

func main() {
	configPath := flag.String("config", "", "TOML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	pcap := flag.String("pcap", "", "capture file to open at startup (overrides capture.preload)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *addr, *pcap)
	if err != nil {
		boot := logging.New("sigscope", "info", true)
		boot.Fatal().Err(err).Str("path", *configPath).Msg("config")
	}

	log := logging.New("sigscope", cfg.Log.Level, cfg.Log.Console)

	var sender send.Sender
	if !cfg.Replay.DryRun {
		sender = send.NewRawSender(log)
	}
	eng := engine.New(log, sender, engine.Options{
		ComputeChecksums: cfg.Replay.ComputeChecksums,
		DryRun:           cfg.Replay.DryRun,
	})

	if cfg.Capture.Preload != "" {
		res, err := eng.LoadCaptureFile(cfg.Capture.Preload)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Capture.Preload).Msg("preload capture")
		} else {
			log.Info().Str("path", cfg.Capture.Preload).Int("frames", len(res.Frames)).Msg("capture preloaded")
		}
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, eng, cfg.MaxUploadBytes(), log)

	log.Info().Str("addr", cfg.Server.Addr).Bool("dry_run", cfg.Replay.DryRun).Msg("sigscope listening")
	if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

// loadConfig layers the config file and the flag overrides over the
// defaults.
func loadConfig(path, addr, pcap string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if pcap != "" {
		cfg.Capture.Preload = pcap
	}
	return cfg, nil
}
