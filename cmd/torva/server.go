package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/torva/torva/internal/api"
	"github.com/torva/torva/internal/config"
	"github.com/torva/torva/internal/procedure"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the RPC server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(cmd.Context(), addr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the query procedures as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:<server.port>)")
}

func runServer(ctx context.Context, addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting torva", "version", version, "driver", cfg.Storage.Driver)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	router, err := procedure.NewRouter(store, procedure.Options{ListLimit: cfg.Procedures.ListLimit})
	if err != nil {
		return fmt.Errorf("building procedures: %w", err)
	}
	handler := api.NewHandler(api.Deps{Router: router, Store: store, Token: apiToken})

	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "torva listening on %s\n", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	router, err := procedure.NewRouter(store, procedure.Options{ListLimit: cfg.Procedures.ListLimit})
	if err != nil {
		return fmt.Errorf("building procedures: %w", err)
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Router:   router,
		Registry: store.Registry(),
		Dialect:  store.Dialect(),
		Version:  version,
	})
	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
