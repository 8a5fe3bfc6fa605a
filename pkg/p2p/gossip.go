// Package p2p gossips executed trades and settlement events between
// exchange nodes over libp2p pubsub, so peers can mirror market history
// without polling the REST API.
package p2p

import (
	"context"
	"encoding/json"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/azank1/zk2p/pkg/app/exchange"
	"github.com/azank1/zk2p/pkg/storage"
)

const topicEvents = "zk2p-events-v1"

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// Gossip wraps a libp2p host publishing and receiving market events.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	// OnTrade and OnSettlement run for events received from peers.
	OnTrade      func(storage.Trade)
	OnSettlement func(exchange.SettlementEvent)
}

func New(ctx context.Context, cfg Config) (*Gossip, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	g := &Gossip{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if g.topic, err = ps.Join(topicEvents); err != nil {
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		return nil, err
	}
	go g.receiveLoop(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Close() error { return g.h.Close() }

func (g *Gossip) PublishTrade(ctx context.Context, t storage.Trade) {
	g.publish(ctx, "trade", t)
}

func (g *Gossip) PublishSettlement(ctx context.Context, ev exchange.SettlementEvent) {
	g.publish(ctx, "settlement", ev)
}

func (g *Gossip) publish(ctx context.Context, typ string, payload any) {
	raw, err := encodeEnvelope(typ, payload)
	if err != nil {
		g.log.Warnw("gossip_encode_failed", "type", typ, "err", err)
		return
	}
	if err := g.topic.Publish(ctx, raw); err != nil {
		g.log.Warnw("gossip_publish_failed", "type", typ, "err", err)
	}
}

func (g *Gossip) receiveLoop(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return // context cancelled or subscription closed
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue // own publication
		}
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			g.log.Warnw("gossip_decode_failed", "err", err)
			continue
		}
		switch env.Type {
		case "trade":
			var t storage.Trade
			if err := json.Unmarshal(env.Data, &t); err != nil {
				continue
			}
			g.log.Infow("gossip_trade",
				"id", t.ID, "price", t.Price, "qty", t.Qty, "from", msg.ReceivedFrom.String())
			if g.OnTrade != nil {
				g.OnTrade(t)
			}
		case "settlement":
			var ev exchange.SettlementEvent
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				continue
			}
			g.log.Infow("gossip_settlement",
				"order", ev.OrderID, "status", ev.Status, "from", msg.ReceivedFrom.String())
			if g.OnSettlement != nil {
				g.OnSettlement(ev)
			}
		}
	}
}
