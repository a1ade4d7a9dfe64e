package main

import (
	"ad-selection-engine/internal/app/server"
	"ad-selection-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	server.Run(cfg)
}
