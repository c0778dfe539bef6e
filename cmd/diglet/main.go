package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tacticalchihuahua/diglet/pkg/config"
	"github.com/tacticalchihuahua/diglet/pkg/handshake"
	"github.com/tacticalchihuahua/diglet/pkg/tunnel"
)

func main() {
	configPath := flag.String("config", "tunnel.toml", "Path to tunnel configuration file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath, os.ReadFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting tunnel %s -> %s:%d", cfg.Identity().URL(cfg.RemoteAddress), cfg.LocalAddress, cfg.LocalPort)

	tn := tunnel.New(cfg, handshake.DefaultCodec{})

	go func() {
		for ev := range tn.Events() {
			switch ev.Kind {
			case tunnel.EventOpen, tunnel.EventConnected:
				log.Printf("[%s] %s", ev.Kind, ev.SessionID)
			case tunnel.EventDisconnected:
				log.Printf("disconnected: %v", ev.Err)
			case tunnel.EventClosed:
				log.Println("tunnel closed")
			}
		}
	}()

	if err := tn.Open(0); err != nil {
		log.Fatalf("Failed to open tunnel: %v", err)
	}
	log.Printf("Pool open: %d connections", tn.PoolSize())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("Shutting down...")
	if err := tn.Close(); err != nil {
		log.Fatalf("Error during shutdown: %v", err)
	}
}
