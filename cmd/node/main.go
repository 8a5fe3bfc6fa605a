package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/azank1/zk2p/params"
	"github.com/azank1/zk2p/pkg/api"
	"github.com/azank1/zk2p/pkg/app/core/settlement"
	"github.com/azank1/zk2p/pkg/app/exchange"
	"github.com/azank1/zk2p/pkg/crypto"
	"github.com/azank1/zk2p/pkg/p2p"
	"github.com/azank1/zk2p/pkg/storage"
	"github.com/azank1/zk2p/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	store, err := storage.NewStore(filepath.Join(cfg.Node.DataDir, "zk2p.db"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Payment proof verifier ----
	// With ATTESTOR_PUBKEY set, proofs are BLS attestations from the
	// payment verification service; otherwise the delay-only stub runs.
	var verifier settlement.Verifier = settlement.StubVerifier{}
	if pkHex := os.Getenv("ATTESTOR_PUBKEY"); pkHex != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(pkHex, "0x"))
		if err != nil {
			sugar.Fatalw("attestor_pubkey_invalid", "err", err)
		}
		pk, err := crypto.ParseBLSPubKey(raw)
		if err != nil {
			sugar.Fatalw("attestor_pubkey_invalid", "err", err)
		}
		verifier = settlement.NewBLSVerifier(pk)
		sugar.Info("bls_verifier_enabled")
	}

	// ---- Exchange app ----
	app := exchange.New(exchange.Options{
		SettlementDelay: cfg.Settlement.Delay,
		Logger:          sugar,
		Verifier:        verifier,
		Store:           store,
	})
	if err := app.Rehydrate(); err != nil {
		sugar.Fatalw("rehydrate_failed", "err", err)
	}

	// Devnet bootstrap: initialize market/book/escrow from env on first run.
	if authorityHex := os.Getenv("MARKET_AUTHORITY"); authorityHex != "" {
		bootstrapMarket(app, sugar, authorityHex, os.Getenv("TOKEN_MINT"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API server ----
	srv := api.NewServer(app, sugar, cfg.Token.BaseDecimals)

	// ---- Gossip (optional) ----
	var gossip *p2p.Gossip
	if cfg.Node.GossipAddr != "" {
		var bootstrap []string
		if peers := os.Getenv("GOSSIP_PEERS"); peers != "" {
			bootstrap = strings.Split(peers, ",")
		}
		gossip, err = p2p.New(ctx, p2p.Config{
			ListenAddr: cfg.Node.GossipAddr,
			Bootstrap:  bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("gossip_init_failed", "err", err)
		}
		defer gossip.Close()
	}

	app.OnTrade = func(t storage.Trade) {
		srv.BroadcastTrade(t)
		if gossip != nil {
			gossip.PublishTrade(ctx, t)
		}
	}
	app.OnSettlement = func(ev exchange.SettlementEvent) {
		srv.BroadcastSettlement(ev)
		if gossip != nil {
			gossip.PublishSettlement(ctx, ev)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Node.APIAddr) }()

	select {
	case err := <-errCh:
		sugar.Fatalw("api_server_failed", "err", err)
	case <-ctx.Done():
		sugar.Info("shutting_down")
	}
}

func bootstrapMarket(app *exchange.App, sugar *zap.SugaredLogger, authorityHex, mintHex string) {
	if _, ok := app.Market(); ok {
		return // already initialized (rehydrated)
	}
	authority, err := crypto.IdentityFromHex(authorityHex)
	if err != nil {
		sugar.Fatalw("market_authority_invalid", "err", err)
	}
	mint, err := crypto.IdentityFromHex(mintHex)
	if err != nil {
		sugar.Fatalw("token_mint_invalid", "err", err)
	}
	if err := app.InitializeMarket(authority, mint); err != nil {
		sugar.Fatalw("market_init_failed", "err", err)
	}
	if err := app.InitializeOrderBook(mint); err != nil {
		sugar.Fatalw("orderbook_init_failed", "err", err)
	}
	if err := app.InitializeEscrow(mint); err != nil {
		sugar.Fatalw("escrow_init_failed", "err", err)
	}
	sugar.Infow("market_bootstrapped", "authority", authority, "mint", mint)
}
