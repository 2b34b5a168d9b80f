package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/api"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/config"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/node"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/network/p2p"
)

func main() {
	var configPath = flag.String("config", "", "Path to YAML config file")
	var name = flag.String("name", "", "Node name override")
	var listen = flag.String("listen", "", "Comma-separated listen multiaddrs")
	var bootstrap = flag.String("bootstrap", "", "Comma-separated bootstrap peer multiaddrs")
	var topic = flag.String("topic", "", "Gossip topic override")
	var dataDir = flag.String("data", "", "Data directory (empty disables persistence)")
	var apiAddr = flag.String("api", "", "API listen address override, e.g. :8080")
	var mdns = flag.Bool("mdns", true, "Enable mDNS discovery")
	var dht = flag.Bool("dht", false, "Enable DHT discovery")
	var stdinPub = flag.Bool("stdin", false, "Read payloads from stdin and broadcast them")
	var logLevel = flag.String("log-level", "", "Log level: debug, info, warn, error")

	flag.Parse()

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *name != "" {
		cfg.NodeName = *name
	}
	if *listen != "" {
		cfg.Network.ListenAddrs = splitList(*listen)
	}
	if *bootstrap != "" {
		cfg.Network.BootstrapPeers = splitList(*bootstrap)
	}
	if *topic != "" {
		cfg.Gossip.Topic = *topic
	}
	if explicit["data"] {
		cfg.DataDir = *dataDir
	}
	if *apiAddr != "" {
		cfg.API.Enabled = true
		cfg.API.ListenAddr = *apiAddr
	}
	if explicit["mdns"] {
		cfg.Discovery.EnableMDNS = *mdns
	}
	if explicit["dht"] {
		cfg.Discovery.EnableDHT = *dht
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lvl, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	logging.SetAllLoggers(lvl)

	fmt.Printf("Starting node %q on topic %q...\n", cfg.NodeName, cfg.Gossip.Topic)

	n, err := node.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	fmt.Printf("Node started\n")
	fmt.Printf("  ID:    %s\n", n.ID())
	fmt.Printf("  Addrs: %s\n", strings.Join(p2p.FullAddrs(n.Host()), ", "))

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(n, cfg.API)
		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("API server error: %v", err)
			}
		}()
		fmt.Printf("  API:   %s\n", cfg.API.ListenAddr)
	}

	go func() {
		for msg := range n.Received() {
			fmt.Printf("[rx] %s from %s (%d bytes)\n",
				msg.Hash().String()[:12], msg.Sender, len(msg.Payload))
		}
	}()

	if *stdinPub {
		go broadcastFromStdin(n)
		fmt.Println("Reading payloads from stdin, one per line.")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	fmt.Println("Node running. Press Ctrl+C to stop.")
	for {
		select {
		case <-c:
			fmt.Println("\nShutting down...")
			if apiServer != nil {
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
				if err := apiServer.Stop(shutdownCtx); err != nil {
					log.Printf("Error stopping API server: %v", err)
				}
				cancelShutdown()
			}
			if err := n.Stop(); err != nil {
				log.Printf("Error stopping node: %v", err)
			}
			return
		case <-statusTicker.C:
			printStatus(n)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func broadcastFromStdin(n *node.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), message.MaxPayloadSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h, err := n.Broadcast([]byte(line))
		if err != nil {
			fmt.Printf("[tx] error: %v\n", err)
			continue
		}
		fmt.Printf("[tx] %s broadcast (%d bytes)\n", h.String()[:12], len(line))
	}
}

func printStatus(n *node.Node) {
	status := n.Status()

	fmt.Println("\n=== NODE STATUS ===")
	fmt.Printf("State:        %v\n", status["state"])
	fmt.Printf("Mesh peers:   %v\n", status["peers"])
	fmt.Printf("Transactions: %v\n", status["transactions"])
	fmt.Printf("Senders:      %v\n", status["senders"])
	if up, ok := status["uptime"]; ok {
		fmt.Printf("Uptime:       %v\n", up)
	}
	if kp, ok := status["known_peers"]; ok {
		fmt.Printf("Known peers:  %v\n", kp)
	}
	fmt.Println("===================")
}
