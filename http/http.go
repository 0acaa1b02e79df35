package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/config"
	"github.com/snapp-incubator/mokzi/internal/decider"
	"github.com/snapp-incubator/mokzi/internal/discover"
	"github.com/snapp-incubator/mokzi/internal/engine"
	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/logging"
	"github.com/snapp-incubator/mokzi/internal/metrics"
	"github.com/snapp-incubator/mokzi/internal/saver"
	"github.com/snapp-incubator/mokzi/internal/server"
	"github.com/snapp-incubator/mokzi/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var configPath string // Path of config file

func main() {
	root := &cobra.Command{
		Use:          "mokzi",
		Short:        "Record and replay HTTP traffic as mock files",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "The path of config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the mock server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	c := config.LoadHTTP(configPath)

	// Initialize logging with configured level
	if err := logging.InitializeLogger(c.LogLevel, c.LogEncoding); err != nil {
		logging.L.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logging.Sync()
	logging.L.Info("Logger initialized", zap.String("log_level", c.LogLevel))

	strg := newStorage(c)

	workers := engine.StartWorkers(c.Worker.Count, c.Worker.QueueSize)
	defer workers.Stop()

	builder := fileurl.NewBuilder(c.RootFolder)
	if err := builder.EnsureDomainSkeleton(c.DefaultDomain); err != nil {
		logging.L.Fatal("Error in preparing the default mock domain", zap.Error(err))
	}
	mockSaver := saver.New(builder, logging.Named("saver"))

	e := engine.New(engine.Deps{
		Deciders: decider.NewRegistry(builder, logging.Named("registry")),
		Recorder: mockSaver,
		Client:   liveClient(c),
		Workers:  workers,
		Storage:  strg,
	}, engine.Options{
		DefaultDomain:   c.DefaultDomain,
		LiveEnabled:     c.Live.Enabled,
		RedactJSONPaths: c.Recording.RedactJSONPaths,
		RedactHeaders:   c.Recording.RedactHeaders,
		Passthrough:     c.IsPassthrough,
	}, logging.Named("engine"))

	var catalog server.Catalog
	if c.Discover.Enabled {
		d := discover.New(builder, discover.Options{
			Workers: c.Discover.Workers,
			Listener: func(ev discover.Event) {
				logging.L.Debug("Mock catalog event",
					zap.Stringer("kind", ev.Kind),
					zap.String("mock_domain", ev.Domain),
					zap.Int("mocks", len(ev.Entries)))
			},
		}, logging.Named("discover"))
		defer d.Close()

		if err := d.UpdateDomain(c.DefaultDomain); err != nil {
			logging.L.Fatal("Error in loading the mock catalog", zap.Error(err))
		}
		catalog = d
	}

	srv := &http.Server{
		Addr:              c.Bind,
		Handler:           server.New(e, catalog, mockSaver, logging.Named("server")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.L.Info("Starting HTTP server",
			zap.String("address", c.Bind),
			zap.String("root_folder", c.RootFolder),
			zap.String("default_domain", c.DefaultDomain),
			zap.Bool("live", c.Live.Enabled),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.L.Fatal("HTTP server ListenAndServe Error", zap.Error(err))
		}
	}()

	if c.Metrics.Enabled {
		go metrics.InitializeHTTP(c.Metrics.Bind)
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint

	logging.L.Debug("Closing HTTP connections")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.L.Error("Error in shutting down the HTTP server", zap.Error(err))
	}

	logging.L.Info("HTTP server is shut down")
	return nil
}

// newStorage initializes the traffic log backend based on configuration.
func newStorage(c *config.HTTPConfig) storage.Storage {
	switch c.StorageType {
	case "stdout":
		logging.L.Info("Using stdout storage backend")
		return &storage.StdoutStorage{}
	case "none":
		logging.L.Info("Traffic logging is disabled")
		return storage.NopStorage{}
	case "elasticsearch":
		elasticConfig := elasticsearch.Config{
			Addresses:              c.Elasticsearch.Addresses,
			Username:               c.Elasticsearch.Username,
			Password:               c.Elasticsearch.Password,
			CloudID:                c.Elasticsearch.CloudID,
			APIKey:                 c.Elasticsearch.APIKey,
			ServiceToken:           c.Elasticsearch.ServiceToken,
			CertificateFingerprint: c.Elasticsearch.CertificateFingerprint,
		}
		es, err := elasticsearch.NewClient(elasticConfig)
		if err != nil {
			logging.L.Fatal("Error in connecting to Elasticsearch", zap.Error(err))
		}

		esInfo, err := es.Info()
		if err != nil {
			logging.L.Fatal("Error in getting info from Elasticsearch", zap.Error(err))
		}
		defer func() { _ = esInfo.Body.Close() }()

		logging.L.Info("Connected to Elasticsearch", zap.String("info", esInfo.String()))
		return &storage.ElasticStorage{ES: es, Index: c.Elasticsearch.Index}
	default:
		logging.L.Fatal("Unknown storage type", zap.String("storage_type", c.StorageType))
		return nil
	}
}

func liveClient(c *config.HTTPConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if c.Live.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	return &http.Client{
		Timeout:   c.Live.Timeout,
		Transport: transport,
		// Redirects are answered as recorded, not followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
