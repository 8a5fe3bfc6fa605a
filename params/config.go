package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Settlement struct {
	// Delay between mark_payment_made and the earliest verify_settlement.
	// Stands in for ZK proof generation/verification latency.
	Delay time.Duration
}

type Token struct {
	// Decimals of the base token, used only for human-denominated display
	// in the API layer. All core math is in integer base units.
	BaseDecimals int32
}

type Node struct {
	APIAddr    string
	GossipAddr string // libp2p listen multiaddr; empty disables gossip
	DataDir    string
	LogFile    string
}

type Config struct {
	Settlement Settlement
	Token      Token
	Node       Node
}

func Default() Config {
	return Config{
		Settlement: Settlement{
			Delay: 10 * time.Second,
		},
		Token: Token{
			BaseDecimals: 9,
		},
		Node: Node{
			APIAddr:    ":8080",
			GossipAddr: "",
			DataDir:    "./data",
			LogFile:    "data/node.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if d := os.Getenv("SETTLEMENT_DELAY_SECONDS"); d != "" {
		if secs, err := strconv.Atoi(d); err == nil && secs >= 0 {
			cfg.Settlement.Delay = time.Duration(secs) * time.Second
		}
	}

	if dec := os.Getenv("BASE_DECIMALS"); dec != "" {
		if n, err := strconv.Atoi(dec); err == nil && n >= 0 && n <= 18 {
			cfg.Token.BaseDecimals = int32(n)
		}
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Node.APIAddr = addr
	}
	if listen := os.Getenv("GOSSIP_LISTEN"); listen != "" {
		cfg.Node.GossipAddr = listen
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if lf := os.Getenv("LOG_FILE"); lf != "" {
		cfg.Node.LogFile = lf
	}

	return cfg
}
