package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cdpengine/adapters/market"
	"cdpengine/adapters/oracle"
	"cdpengine/native/cdp"
	nativecommon "cdpengine/native/common"
	"cdpengine/observability/logging"
	telemetry "cdpengine/observability/otel"
	"cdpengine/rpc"
	"cdpengine/services/cdpd/config"
	"cdpengine/storage"
)

func main() {
	var cfgPath string
	var enginePath string
	flag.StringVar(&cfgPath, "config", "services/cdpd/config.yaml", "path to cdpd config")
	flag.StringVar(&enginePath, "engine-config", "", "override path to the engine TOML config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if enginePath != "" {
		cfg.EngineConfigPath = enginePath
	}

	logger := logging.Setup("cdpd", cfg.Environment, cfg.LogLevel)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "cdpd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	engineCfg, err := cdp.LoadConfig(cfg.EngineConfigPath)
	if err != nil {
		log.Fatalf("load engine config: %v", err)
	}
	engineCfg.EnsureDefaults()

	var db storage.Database
	if cfg.DataDir != "" {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		db = leveldb
	} else {
		logger.Warn("no data_dir configured, using in-memory storage")
		db = storage.NewMemDB()
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", "error", err.Error())
		}
	}()

	marketClient, err := market.NewClient(market.Config{
		BaseURL:            cfg.Market.URL,
		BearerToken:        cfg.Market.BearerToken,
		SharedSecretHeader: cfg.Market.SharedSecretHeader,
		SharedSecretValue:  cfg.Market.SharedSecretValue,
		TLSClientCAFile:    cfg.Market.TLSClientCAFile,
		AllowInsecure:      cfg.Market.AllowInsecure,
		Timeout:            time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("configure market client: %v", err)
	}
	oracleClient := marketClient
	if cfg.Oracle.URL != cfg.Market.URL {
		oracleClient, err = market.NewClient(market.Config{
			BaseURL:       cfg.Oracle.URL,
			BearerToken:   cfg.Market.BearerToken,
			AllowInsecure: cfg.Market.AllowInsecure,
		})
		if err != nil {
			log.Fatalf("configure oracle client: %v", err)
		}
	}
	priceFeed, err := oracle.NewAdapter(oracleClient, oracle.GuardConfig{MaxAgeSeconds: cfg.Oracle.MaxAgeSeconds})
	if err != nil {
		log.Fatalf("configure oracle: %v", err)
	}

	engine, err := cdp.NewEngine(engineCfg)
	if err != nil {
		log.Fatalf("construct engine: %v", err)
	}
	state := storage.NewState(db)
	switchboard := nativecommon.NewSwitchboard()
	engine.SetState(state)
	engine.SetMarket(market.NewAdapter(marketClient))
	engine.SetOracle(priceFeed)
	engine.SetTokenBridge(market.NewBridge(marketClient))
	engine.SetPauses(switchboard)
	engine.SetMarkupModel(cdp.NewMarkupModel(cfg.Markup.Base, cfg.Markup.Slope1, cfg.Markup.Slope2, cfg.Markup.Kink))

	if err := seedState(state, engineCfg); err != nil {
		log.Fatalf("seed state: %v", err)
	}
	for _, asset := range cfg.Collateral {
		if !common.IsHexAddress(asset.Token) {
			log.Fatalf("collateral %s: invalid token address", asset.Token)
		}
		token := common.HexToAddress(asset.Token)
		if err := engine.RegisterCollateral(engine.Admin(), token, asset.Symbol, asset.Decimals); err != nil {
			log.Fatalf("register collateral %s: %v", asset.Symbol, err)
		}
	}

	module := rpc.NewModule(engine)
	server := rpc.NewServer(rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Quota: nativecommon.Quota{
			MaxRequestsPerMin: cfg.Quota.MaxRequestsPerMin,
			MaxVolumePerEpoch: cfg.Quota.MaxVolumePerEpoch,
			EpochSeconds:      cfg.Quota.EpochSeconds,
		},
	}, module, switchboard, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("cdpd listening", "listen", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err.Error())
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// seedState persists the configured protocol parameters on first boot only;
// runtime admin updates survive restarts.
func seedState(state *storage.State, cfg cdp.Config) error {
	existing, err := state.GetParams()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return state.PutParams(cfg.Params())
}
