package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/handler"
	"github.com/capitalize-ai/memory-hub/internal/service"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP bridge",
		Long: `Run the local HTTP bridge. It exposes the conversation over JSON and
server-sent events for editor and browser front ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if addr != "" {
				a.cfg.BridgeAddr = addr
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to BRIDGE_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	log := a.log
	log.Info("starting bridge")

	if err := a.cfg.Validate(); err != nil {
		return err
	}
	// The bridge starts without credentials; /ready reports it.
	if err := a.requireSession(); err != nil {
		log.Warn("auth context not ready", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []service.Option
	natsClient, journal, err := a.connectJournal(ctx)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close()
		opts = append(opts, service.WithJournal(journal))
	}

	conv := service.NewConversation(a.client, a.session, log, opts...)
	unregister := a.session.OnSignOut(func(string) {
		conv.Cancel()
	})
	defer unregister()

	// Streams outlive the request that started them; baseCtx ends them on
	// shutdown.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	cfg := handler.RouterConfig{
		BaseContext:       baseCtx,
		Conversation:      conv,
		Auth:              a.session,
		Logger:            log,
		NATS:              natsClient,
		BridgeToken:       a.cfg.BridgeToken,
		RateLimitRequests: a.cfg.RateLimitRequests,
		RateLimitWindow:   a.cfg.RateLimitWindow,
	}
	if journal != nil {
		cfg.Activity = journal
	}

	server := &http.Server{
		Addr:         a.cfg.BridgeAddr,
		Handler:      handler.NewRouter(cfg),
		ReadTimeout:  a.cfg.BridgeReadTimeout,
		WriteTimeout: a.cfg.BridgeWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("bridge listening", zap.String("addr", a.cfg.BridgeAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("bridge failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down bridge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Aborting open streams saves their partial answers.
	cancelStreams()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("bridge forced to shutdown", zap.Error(err))
	}
	conv.Wait()

	log.Info("bridge stopped")
	return nil
}
