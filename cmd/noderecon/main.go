// Command noderecon is the node-level reconciliation agent: it drives a
// CRI container runtime toward a desired set of pods and containers
// supplied by a target source, reacting to runtime events and failures
// (spec §1). Process bootstrap, logging configuration and CLI flags live
// here; everything else is the reconciliation core in internal/.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/groblegark/noderecon/internal/config"
	"github.com/groblegark/noderecon/internal/controlloop"
	"github.com/groblegark/noderecon/internal/criclient"
	"github.com/groblegark/noderecon/internal/imagecache"
	"github.com/groblegark/noderecon/internal/statushttp"
	"github.com/groblegark/noderecon/internal/target"
	"github.com/groblegark/noderecon/internal/targetsource"
)

func main() {
	cfg := config.Parse()
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("noderecon exiting", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := criclient.Dial(ctx, cfg.CRIEndpoint)
	if err != nil {
		return fmt.Errorf("dialing CRI endpoint: %w", err)
	}
	defer client.Close()

	src, err := buildTargetSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("building target source: %w", err)
	}

	puller := imagecache.New(cfg.ImageCacheTTL, logger)

	loopCfg := controlloop.Config{
		StateRefreshInterval: cfg.StateRefreshInterval,
		EventsBufferMax:      cfg.EventsBufferMax,
		EventsFlushInterval:  cfg.EventsFlushInterval,
		EventsRetryInterval:  cfg.EventsRetryInterval,
		CRIRetryInterval:     cfg.CRIRetryInterval,
	}
	loop := controlloop.New(client, src, loopCfg, puller, logger)

	var statusSrv *statushttp.Server
	if cfg.StatusAddr != "" {
		statusSrv = statushttp.New(loop, logger)
		go func() {
			if err := statusSrv.ListenAndServe(ctx, cfg.StatusAddr); err != nil {
				logger.Warn("status server exited", "error", err)
			}
		}()
	}

	logger.Info("noderecon starting",
		"cri_endpoint", cfg.CRIEndpoint,
		"target_source", cfg.TargetSource,
		"status_addr", cfg.StatusAddr,
	)

	return loop.Run(ctx)
}

func buildTargetSource(cfg *config.Config, logger *slog.Logger) (target.Source, error) {
	switch cfg.TargetSource {
	case "", "static":
		return targetsource.NewStatic(target.New()), nil

	case "k8s":
		kubeClient, err := newKubeClient(cfg.KubeConfig)
		if err != nil {
			return nil, fmt.Errorf("building kube client: %w", err)
		}
		return targetsource.NewK8s(kubeClient, cfg.NodeName, cfg.Namespace, cfg.TargetRefreshInterval, logger), nil

	case "nats":
		return targetsource.NewNATS(targetsource.NATSConfig{
			URL:          cfg.NatsURL,
			Token:        cfg.NatsToken,
			ConsumerName: cfg.NatsConsumerName,
			Subject:      cfg.NatsSubject,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown target source %q: want static, k8s or nats", cfg.TargetSource)
	}
}

func newKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}
