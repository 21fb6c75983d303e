package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pmo_doc_generator/buildinfo"
	"pmo_doc_generator/config"
	"pmo_doc_generator/generator"
	"pmo_doc_generator/httpkit"
	"pmo_doc_generator/metrics"
	"pmo_doc_generator/server"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pmodoc",
		Short:         "Generate project management documents from a topic with a two-step LLM chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml if present)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(serveCmd(), generateCmd(), inspectCmd(), versionCmd())
	return root
}

// app 是启动阶段组装好的依赖；任何配置错误都在这里失败，进程不会开始接受输入。
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	chain   *generator.SequentialChain
}

func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)

	llm, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	chain, err := buildChain(cfg, m.InstrumentLLM(llm), logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("chain ready", "output_keys", chain.OutputKeys(), "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	return &app{cfg: cfg, logger: logger, metrics: m, chain: chain}, nil
}

func buildLLM(cfg config.Config) (generator.LLMClient, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI, config.ProviderDeepSeek:
		llm, err := generator.NewOpenAILLMFromConfig(&generator.LLMSettings{
			Provider:  cfg.LLM.Provider,
			Model:     cfg.LLM.Model,
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			UserAgent: buildinfo.UserAgent(),
		}, httpkit.NewClient(httpkit.WithTimeout(cfg.LLM.Timeout)))
		if err != nil {
			return nil, err
		}
		return llm, nil
	case config.ProviderMock:
		return generator.MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}

func buildChain(cfg config.Config, llm generator.LLMClient, logger *slog.Logger) (*generator.SequentialChain, error) {
	var (
		def generator.ChainDefinition
		err error
	)
	if cfg.Chain.File != "" {
		def, err = generator.LoadChainFile(cfg.Chain.File)
	} else {
		def, err = generator.LoadPreset(cfg.Chain.Preset)
	}
	if err != nil {
		return nil, err
	}
	return generator.BuildChain(llm, def, logger)
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web form",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			transcript := generator.NewTranscript(a.chain.InputKey())
			srv, err := server.New(a.chain, transcript, a.metrics, a.logger)
			if err != nil {
				return err
			}
			listen := a.cfg.Server.Addr
			if addr != "" {
				listen = addr
			}

			httpSrv := &http.Server{
				Addr:              listen,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting web server", "addr", listen, "build", buildinfo.String())
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address (overrides server.addr)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
