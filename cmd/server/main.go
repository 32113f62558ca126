package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/pagemd/auth-server/apps"
	appspg "github.com/pagemd/auth-server/apps/pg"
	appsfakes "github.com/pagemd/auth-server/apps/repofakes"
	"github.com/pagemd/auth-server/auth"
	"github.com/pagemd/auth-server/authsession"
	sessionpg "github.com/pagemd/auth-server/authsession/pg"
	sessionfakes "github.com/pagemd/auth-server/authsession/repofakes"
	"github.com/pagemd/auth-server/internal/config"
	"github.com/pagemd/auth-server/server"
	"github.com/pagemd/auth-server/token"
	tokenpg "github.com/pagemd/auth-server/token/pg"
	tokenfakes "github.com/pagemd/auth-server/token/repofakes"
)

const sweepInterval = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("server exited")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	authService, cleanup, err := buildAuthService(c)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(c, authService)
	if err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepExpired(sweepCtx, authService)

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	return shutdown(httpServer)
}

// buildAuthService wires repositories, the credential service, the session
// manager and the token issuer. With no DATABASE_URL everything runs on
// in-memory stores, which is how local development and tests operate.
func buildAuthService(c config.Config) (*auth.Service, func(), error) {
	var (
		appRepo     apps.Repo
		partnerRepo apps.PartnerRepo
		sessionRepo authsession.Repo
		accessRepo  token.AccessTokenRepo
		refreshRepo token.RefreshTokenRepo
	)
	cleanup := func() {}

	if databaseURL := c.GetDatabaseURL(); databaseURL != "" {
		pool, err := pgxpool.New(context.Background(), databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("pgxpool.New: %w", err)
		}
		cleanup = pool.Close
		appRepo = appspg.NewAppRepo(pool)
		partnerRepo = appspg.NewPartnerRepo(pool)
		sessionRepo = sessionpg.NewSessionRepo(pool)
		accessRepo = tokenpg.NewAccessTokenRepo(pool)
		refreshRepo = tokenpg.NewRefreshTokenRepo(pool)
		log.Info().Msg("using postgres repositories")
	} else {
		appRepo = appsfakes.NewFakeAppRepo()
		partnerRepo = appsfakes.NewFakePartnerRepo()
		sessionRepo = sessionfakes.NewFakeSessionRepo()
		accessRepo = tokenfakes.NewFakeAccessTokenRepo()
		refreshRepo = tokenfakes.NewFakeRefreshTokenRepo()
		log.Warn().Msg("DATABASE_URL not set; using in-memory repositories")
	}

	credentials, err := apps.NewCredentials(appRepo, partnerRepo)
	if err != nil {
		return nil, nil, err
	}

	sessions, err := authsession.NewManager(sessionRepo, authsession.WithCodeExpiry(c.GetAuthCodeExpiry()))
	if err != nil {
		return nil, nil, err
	}

	keyring, err := token.NewKeyring(c.GetSigningKeys(), c.GetActiveKeyID())
	if err != nil {
		return nil, nil, err
	}

	tokens, err := token.New(accessRepo, refreshRepo, keyring,
		token.WithIssuer(c.GetIssuer()),
		token.WithAudience(c.GetAudience()),
		token.WithTokenExpiry(c.GetAccessTokenExpiry(), c.GetRefreshTokenExpiry()),
	)
	if err != nil {
		return nil, nil, err
	}

	authService, err := auth.NewService(credentials, sessions, tokens)
	if err != nil {
		return nil, nil, err
	}
	return authService, cleanup, nil
}

// sweepExpired periodically deletes expired sessions and token records.
func sweepExpired(ctx context.Context, authService *auth.Service) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := authService.CleanupExpired(ctx); err != nil {
				log.Error().Err(err).Msg("expired-record sweep failed")
			}
		}
	}
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
