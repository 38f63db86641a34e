package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/spf13/pflag"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
	"github.com/xinkaiwang/faasmgr/libs/xklib/ksysmetrics"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/biz"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/common"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/dataplane"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/handler"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/profile"
	"go.opencensus.io/metric/metricproducer"
)

type options struct {
	apiPort     int
	metricsPort int
	profileFile string
	configFile  string
	logLevel    string
	logFormat   string
}

// flags win over env vars, env vars win over defaults
func parseOptions() *options {
	opts := &options{}
	pflag.IntVar(&opts.apiPort, "api-port", kcommon.GetEnvInt("API_PORT", 8080), "port of the api server")
	pflag.IntVar(&opts.metricsPort, "metrics-port", kcommon.GetEnvInt("METRICS_PORT", 9090), "port of the prometheus /metrics endpoint")
	pflag.StringVar(&opts.profileFile, "profile-file", kcommon.GetEnvString("PROFILE_FILE", ""), "yaml file of function profiles, profiles are watched in etcd when empty")
	pflag.StringVar(&opts.configFile, "config-file", kcommon.GetEnvString("CONFIG_FILE", ""), "yaml file of control plane config, config is watched in etcd when empty")
	pflag.StringVar(&opts.logLevel, "log-level", kcommon.GetEnvString("LOG_LEVEL", "info"), "log level")
	pflag.StringVar(&opts.logFormat, "log-format", kcommon.GetEnvString("LOG_FORMAT", "json"), "log format, json or text")
	pflag.Parse()
	return opts
}

func main() {
	opts := parseOptions()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logrusLogger := klogging.NewLogrusLogger(ctx).WithMetricsReporter(NewLoggerMetricsReporter())
	logrusLogger.SetConfig(ctx, opts.logLevel, opts.logFormat)
	klogging.SetDefaultLogger(logrusLogger)
	klogging.Info(ctx).With("logLevel", opts.logLevel).With("logFormat", opts.logFormat).Log("LogLevelSet", "")

	version := common.GetVersion()
	klogging.Info(ctx).With("version", version).With("sessionId", common.GetSessionId()).With("startTime", common.GetStartTimeMs()).Log("ServerStarting", "starting brokermgr")

	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "brokermgr",
	})
	if err != nil {
		klogging.Fatal(ctx).WithError(err).Log("PrometheusExporterError", "failed to create prometheus exporter")
		return
	}
	metricproducer.GlobalManager().AddProducer(kmetrics.GetKmetricsRegistry())
	sysCollector := ksysmetrics.NewCollector(version)
	metricproducer.GlobalManager().AddProducer(sysCollector.Registry())
	sysCollector.Start(ctx, 15*time.Second)

	var profiles profile.Provider
	if opts.profileFile != "" {
		profiles = profile.LoadProfileFile(opts.profileFile)
	} else {
		profiles = profile.NewEtcdProfileManager(ctx)
	}
	var cfgProvider config.ConfigProvider
	if opts.configFile != "" {
		cfgProvider = config.NewStaticConfigProvider(config.LoadConfigFile(opts.configFile))
	} else {
		cfgProvider = config.NewEtcdConfigProvider(ctx)
	}

	app := biz.NewApp(ctx, profiles, cfgProvider, dataplane.NewEtcdDataPlane())
	klogging.Info(ctx).Log("AppCreated", "")

	mainMux := http.NewServeMux()
	handler.NewHandler(app).RegisterRoutes(mainMux)
	mainServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.apiPort),
		Handler: mainMux,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", pe)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.metricsPort),
		Handler: metricsMux,
	}
	klogging.Info(ctx).With("api_port", opts.apiPort).With("metrics_port", opts.metricsPort).Log("ServerConfig", "")

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		klogging.Info(ctx).Log("ServerShutdown", "shutting down servers")
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
		defer shutdownCancel()
		if err := mainServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MainServerShutdownError", "")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MetricsServerShutdownError", "")
		}
		app.Stop()
		cancel()
	}()

	go func() {
		klogging.Info(ctx).With("addr", metricsServer.Addr).Log("MetricsServerStarting", "")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			klogging.Error(ctx).WithError(err).Log("MetricsServerError", "")
		}
	}()

	klogging.Info(ctx).With("addr", mainServer.Addr).Log("MainServerStarting", "")
	if err := mainServer.ListenAndServe(); err != http.ErrServerClosed {
		klogging.Error(ctx).WithError(err).Log("MainServerError", "")
	}
	klogging.Info(ctx).Log("ServerShutdown", "servers stopped")
}
