package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkplan.ai/internal/config"
	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/observability"
	"linkplan.ai/internal/persistence/indexdb"
	"linkplan.ai/internal/persistence/journal"
	"linkplan.ai/internal/plan"
	"linkplan.ai/internal/plan/construct"
	"linkplan.ai/internal/remote"
)

type connectFlags struct {
	from, to      string
	via           []string
	connectors    []string
	dryRun        bool
	metricsListen string
	jsonOut       bool
}

func connectCmd() *cobra.Command {
	var f connectFlags
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect --from to --to, through every --via in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if f.metricsListen != "" {
				cfg.Metrics.Listen = f.metricsListen
			}
			return runConnect(cmd.Context(), cfg, f)
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "", "first waypoint as x,y")
	cmd.Flags().StringVar(&f.to, "to", "", "last waypoint as x,y")
	cmd.Flags().StringSliceVar(&f.via, "via", nil, "intermediate waypoints as x,y (repeatable)")
	cmd.Flags().StringSliceVar(&f.connectors, "connector", nil, "connector names; inferred from the waypoints when empty")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "estimate cost without placing anything")
	cmd.Flags().StringVar(&f.metricsListen, "metrics-listen", "", "serve prometheus metrics on this address")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runConnect(ctx context.Context, cfg config.Config, f connectFlags) error {
	wps, err := waypoints(f.from, f.via, f.to)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	if cfg.Metrics.Listen != "" {
		stop, err := serveMetrics(cfg.Metrics.Listen, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	var recorders []remote.Recorder
	if cfg.Storage.JournalDir != "" {
		j := journal.New(cfg.Storage.JournalDir)
		defer j.Close()
		recorders = append(recorders, j)
	}
	if cfg.Storage.IndexPath != "" {
		idx, err := indexdb.OpenSQLite(cfg.Storage.IndexPath)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer func() {
			st := idx.Stats()
			if st.DropTotal > 0 || st.WriteFailTotal > 0 {
				logger.Warn("index lost records", zap.Uint64("dropped", st.DropTotal), zap.Uint64("write_failures", st.WriteFailTotal))
			}
			_ = idx.Close()
		}()
		recorders = append(recorders, idx)
	}

	client, err := remote.Dial(ctx, remote.WSConfig{
		URL:            cfg.Authority.URL,
		Token:          cfg.Authority.Token,
		HandshakeTime:  cfg.Authority.HandshakeTime,
		WriteTimeout:   cfg.Authority.WriteTimeout,
		RequestTimeout: cfg.Authority.RequestTimeout,
	}, logger.Named("remote"))
	if err != nil {
		return err
	}
	defer client.Close()

	p := plan.New(client, cat, cfg.Planner, logger.Named("plan"),
		plan.WithMetrics(metrics), plan.WithRecorders(recorders...))
	res, err := p.Connect(ctx, plan.Request{Waypoints: wps, Connectors: f.connectors, DryRun: f.dryRun})
	if err != nil {
		var ex *plan.ExhaustedError
		if errors.As(err, &ex) {
			logger.Error("connection failed", zap.String("tx", res.TxID), zap.Error(err))
		}
		return err
	}
	return printResult(res, f.jsonOut)
}

type resultView struct {
	TxID     string                  `json:"tx_id"`
	Group    string                  `json:"group,omitempty"`
	Status   string                  `json:"status,omitempty"`
	Placed   []entity.Entity         `json:"placed,omitempty"`
	Estimate *construct.CostEstimate `json:"estimate,omitempty"`
}

func printResult(res plan.Result, asJSON bool) error {
	v := resultView{TxID: res.TxID, Placed: res.Placed, Estimate: res.Estimate}
	if res.Group != nil {
		v.Group, v.Status = res.Group.Describe(), res.Group.Status()
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Printf("tx %s\n", v.TxID)
	if v.Estimate != nil {
		fmt.Printf("required %d, available %d\n", v.Estimate.Required, v.Estimate.Available)
		return nil
	}
	fmt.Printf("placed %d entities\n", len(v.Placed))
	if v.Group != "" {
		fmt.Println(v.Group)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
