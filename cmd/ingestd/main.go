// Package main provides the market-data ingestion daemon.
//
// Architecture Overview:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│ Byte Source │────▶│   Decoder   │────▶│  Seq Ring   │
//	│ (TCP/Replay)│     │  (framing)  │     │   Buffer    │
//	└─────────────┘     └─────────────┘     └──────┬──────┘
//	                                               │
//	                                               ▼
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│ Market Data │◀────│    Ledger   │◀────│ Order Book  │
//	│  Publisher  │     │  (trade tape)│    │  (matching) │
//	└─────────────┘     └─────────────┘     └──────┬──────┘
//	                                               │
//	                                               ▼
//	                                        ┌─────────────┐
//	                                        │  Event Log  │
//	                                        │  Surveillance│
//	                                        └─────────────┘
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kallio-labs/seqbook/internal/book"
	"github.com/kallio-labs/seqbook/internal/bytesource"
	"github.com/kallio-labs/seqbook/internal/config"
	"github.com/kallio-labs/seqbook/internal/decoder"
	"github.com/kallio-labs/seqbook/internal/events"
	"github.com/kallio-labs/seqbook/internal/ledger"
	"github.com/kallio-labs/seqbook/internal/marketdata"
	"github.com/kallio-labs/seqbook/internal/pipeline"
	"github.com/kallio-labs/seqbook/internal/surveillance"
	"github.com/kallio-labs/seqbook/internal/wire"
)

// daemon wires every component of the ingestion pipeline together and
// owns their lifecycle.
type daemon struct {
	cfg    *config.Config
	logger *logrus.Logger

	book      *book.OrderBook
	eventLog  *events.EventLog
	publisher *marketdata.Publisher
	ledger    *ledger.Ledger
	monitor   *surveillance.Monitor
	pipeline  *pipeline.Pipeline

	wsServer    *marketdata.WebSocketServer
	httpSrv     *http.Server
	redisClient *redis.Client
}

func newDaemon(cfg *config.Config, logger *logrus.Logger) (*daemon, error) {
	ob := book.New(cfg.Book.BasePrice, cfg.Book.Length)

	var eventLog *events.EventLog
	if cfg.Events.Enabled {
		var err error
		eventLog, err = events.Open(events.Config{
			Dir:         cfg.Events.Dir,
			SyncMode:    cfg.Events.SyncMode,
			RotateAfter: cfg.Events.RotateAfter,
		})
		if err != nil {
			return nil, err
		}
	}

	publisher := marketdata.NewPublisher(1000)
	ldg := ledger.New()
	monitor := surveillance.NewMonitor(surveillance.Config{
		Window:             cfg.Surveillance.Window,
		MaxDecodeErrorRate: cfg.Surveillance.MaxDecodeErrorRate,
		MaxOutOfRangeRate:  cfg.Surveillance.MaxOutOfRangeRate,
		MinSampleSize:      cfg.Surveillance.MinSampleSize,
	}, logger)

	src, err := openSource(cfg.Source)
	if err != nil {
		return nil, err
	}
	dec := decoder.New(src)

	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		book:      ob,
		eventLog:  eventLog,
		publisher: publisher,
		ledger:    ldg,
		monitor:   monitor,
	}

	d.pipeline = pipeline.New(dec, ob, eventLog, logger, pipeline.Config{RingSize: cfg.Book.RingSize}, d)

	if cfg.Marketdata.WebSocketAddr != "" {
		d.wsServer = marketdata.NewWebSocketServer(logger)
		d.wsServer.Run(publisher)
		mux := http.NewServeMux()
		mux.Handle("/stream", d.wsServer)
		mux.HandleFunc("/health", d.handleHealth)
		d.httpSrv = &http.Server{Addr: cfg.Marketdata.WebSocketAddr, Handler: mux}
	}

	if cfg.Marketdata.RedisAddr != "" {
		d.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Marketdata.RedisAddr})
		redisPub := marketdata.NewRedisPublisher(d.redisClient, cfg.Marketdata.RedisPrefix, logger)
		redisPub.Run(context.Background(), publisher)
	}

	return d, nil
}

func openSource(cfg config.SourceConfig) (interface {
	Recv(dest []byte) (int, error)
}, error) {
	switch cfg.Mode {
	case "tcp":
		return bytesource.ListenAndAccept(cfg.Addr)
	case "replay":
		f, err := os.Open(cfg.ReplayPath)
		if err != nil {
			return nil, err
		}
		return bytesource.LoadReplay(f)
	default:
		panic("unreachable: config.Validate should have rejected this mode")
	}
}

// OnMessage implements pipeline.Sink.
func (d *daemon) OnMessage(msg wire.Message) {
	if msg.Kind == wire.KindAddLimit || msg.Kind == wire.KindWithdrawLimit || msg.Kind == wire.KindMarket {
		return
	}
	d.monitor.ObserveDecodeError()
}

// OnExecution implements pipeline.Sink.
func (d *daemon) OnExecution(msg wire.Message, result book.ExecResult) {
	d.monitor.ObserveMessage(result.Flags&book.OutOfRangeFlag != 0)

	if result.FilledVolume != 0 {
		d.ledger.RecordFill(0, result.ExecPrice, result.FilledVolume, result.Revenue)
		d.publisher.PublishTrade(marketdata.Trade{
			Price:  result.ExecPrice,
			Volume: result.FilledVolume,
		})
	}

	bid, offer := d.book.BestBidAsk()
	quote := marketdata.Quote{}
	if bid != nil {
		quote.BestBid, quote.HasBid = *bid, true
	}
	if offer != nil {
		quote.BestOffer, quote.HasOffer = *offer, true
	}
	d.publisher.PublishQuote(quote)
}

func (d *daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d *daemon) run(ctx context.Context) error {
	if d.httpSrv != nil {
		go func() {
			d.logger.WithField("addr", d.httpSrv.Addr).Info("ingestd: serving market data websocket feed")
			if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.WithError(err).Error("ingestd: websocket server failed")
			}
		}()
	}
	return d.pipeline.Run(ctx)
}

func (d *daemon) shutdown(ctx context.Context) {
	if d.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		d.httpSrv.Shutdown(shutdownCtx)
	}
	d.publisher.Close()
	if d.eventLog != nil {
		d.eventLog.Close()
	}
	if d.redisClient != nil {
		d.redisClient.Close()
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("ingestd: failed to load config")
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("ingestd: invalid config")
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("ingestd: failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("ingestd: received shutdown signal")
		cancel()
	}()

	if err := d.run(ctx); err != nil && err != context.Canceled {
		logger.WithError(err).Warn("ingestd: pipeline stopped")
	}
	d.shutdown(context.Background())
	logger.Info("ingestd: stopped")
}
