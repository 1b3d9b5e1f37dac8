package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/certward/certward/acmeclient"
	"github.com/certward/certward/api"
	"github.com/certward/certward/certmgr"
	bboltstorage "github.com/certward/certward/storage/bbolt"
)

var (
	port    int
	dataDir string
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the certificate management server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		repo, err := bboltstorage.NewRepositoryFromFile(dataDir+"/certward.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open certificate storage: %w", err)
		}
		defer repo.Close()

		store := certmgr.NewStore(repo, logger)
		acmeService := acmeclient.New(repo, acmeclient.NewAuthenticatorRegistry(), logger)

		// The active serving certificate is swapped in place when records
		// change; connections pick it up via GetCertificate.
		var serving atomic.Pointer[tls.Certificate]

		loadServing := func(ctx context.Context, certs *certmgr.CertificateService) error {
			details, err := certs.EnsureServingCertificate(ctx)
			if err != nil {
				return err
			}
			pair, err := tls.X509KeyPair([]byte(details.Certificate), []byte(details.PrivateKey))
			if err != nil {
				return fmt.Errorf("loading serving certificate %q: %w", details.Name, err)
			}
			serving.Store(&pair)
			return nil
		}

		var certs *certmgr.CertificateService
		certs = certmgr.NewCertificateService(store,
			certmgr.WithLogger(logger),
			certmgr.WithACMEIssuer(acmeService),
			certmgr.WithRestartHook(func(ctx context.Context) error {
				return loadServing(ctx, certs)
			}),
		)
		cas := certmgr.NewAuthorityService(store, certs)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			pair, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{pair},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			if err := loadServing(ctx, certs); err != nil {
				return err
			}
			tlsConfig = &tls.Config{
				GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
					return serving.Load(), nil
				},
				MinVersion: tls.VersionTLS12,
			}
		}

		go certs.StartRenewalLoop(ctx)

		a := api.New(certs, cas, api.WithLogger(logger))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (data: %s)...\n", port, dataDir)

		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file (overrides the managed serving certificate)")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
