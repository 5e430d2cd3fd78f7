// The agent is the media-plane worker: it holds the process's single media
// session. In publish mode it starts a stream session and broadcasts into
// the room; in watch mode it follows the subscriber's availability feed and
// stays joined to the selected stream, switching rooms as availability
// changes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"
	repositories "streamgate/internal/infrastructure/repositories"
	"streamgate/internal/infrastructure/rtc"
	"streamgate/internal/media"
	"streamgate/pkg/config"
	"streamgate/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		mode       = flag.String("mode", "watch", "agent mode: publish or watch")
		userID     = flag.String("user", "", "user id the agent acts as")
		title      = flag.String("title", "", "stream title (publish mode)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *userID == "" {
		log.Fatal("-user is required")
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	userRepo := repoFactory.CreateUserRepository()
	permRepo := repoFactory.CreatePermissionRepository()
	sessionRepo := repoFactory.CreateSessionRepository()

	metricsService := services.NewMetricsService()
	profileCache := services.NewProfileCache(userRepo, cfg.Availability.ProfileCacheTTL)
	defer profileCache.Stop()

	availabilityService := services.NewAvailabilityService(permRepo, sessionRepo, profileCache, metricsService, log)
	sessionService := services.NewSessionService(sessionRepo, userRepo, nil, metricsService, log)
	tokenService := services.NewTokenService(
		services.MediaTokenConfig{
			AppID:  cfg.Media.AppID,
			Secret: cfg.Media.TokenSecret,
			TTL:    cfg.Media.TokenTTL,
		},
		services.ConferenceTokenConfig{
			Domain: cfg.Conference.Domain,
			AppID:  cfg.Conference.AppID,
			Secret: cfg.Conference.Secret,
			TTL:    cfg.Conference.TokenTTL,
		},
	)

	hub := rtc.NewHub(rtc.Config{TokenSecret: cfg.Media.TokenSecret}, log)
	capture := rtc.NewLoopbackCapture(cfg.Media.VideoEnabled, log)
	defer capture.Stop()

	manager := media.NewManager(hub, capture, tokenService, metricsService, media.Config{
		JoinTimeout:  cfg.Media.JoinTimeout,
		SettleDelay:  cfg.Media.SettleDelay,
		VideoEnabled: cfg.Media.VideoEnabled,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Infow("received shutdown signal", "signal", sig)
		cancel()
	}()

	switch *mode {
	case "publish":
		err = runPublisher(ctx, domain.UserID(*userID), *title, sessionService, manager, log)
	case "watch":
		err = runWatcher(ctx, domain.UserID(*userID), availabilityService, manager, log)
	default:
		log.Fatalw("unknown mode", "mode", *mode)
	}
	if err != nil && err != context.Canceled {
		log.Fatalw("agent failed", "error", err)
	}

	if err := manager.Leave(context.Background()); err != nil {
		log.Warnw("failed to leave media session", "error", err)
	}
	log.Info("agent stopped")
}

func runPublisher(
	ctx context.Context,
	publisherID domain.UserID,
	title string,
	sessions ports.SessionService,
	manager *media.Manager,
	log *zap.SugaredLogger,
) error {
	session, err := sessions.StartSession(ctx, publisherID, title, "")
	if err != nil {
		return err
	}
	log.Infow("session started",
		"session_id", session.ID,
		"room_id", session.RoomID,
	)

	if err := manager.JoinPublisher(ctx, publisherID, session); err != nil {
		return err
	}

	<-ctx.Done()

	// End the session so subscribers see the stream disappear promptly.
	if err := sessions.EndSession(context.Background(), session.ID, publisherID); err != nil {
		log.Warnw("failed to end session", "error", err)
	}
	return ctx.Err()
}

// runWatcher keeps the agent joined to the first stream of each availability
// snapshot. The selection is re-resolved on every snapshot: gone means
// leave, changed room means rejoin.
func runWatcher(
	ctx context.Context,
	subscriberID domain.UserID,
	availability ports.AvailabilityService,
	manager *media.Manager,
	log *zap.SugaredLogger,
) error {
	feed, err := availability.Watch(ctx, subscriberID)
	if err != nil {
		return err
	}
	defer feed.Stop()

	var selected *domain.WatchableStream
	sink := rtc.NewDiscardSink()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-feed.Errs():
			log.Warnw("availability feed error", "error", err)

		case snapshot := <-feed.Updates():
			log.Infow("availability update",
				"streams", len(snapshot.Streams),
				"degraded", snapshot.Degraded,
			)

			// Re-resolve the current selection against the new snapshot.
			if selected != nil {
				if current, ok := snapshot.Find(selected.PermissionID); ok {
					if current.RoomID == selected.RoomID {
						continue
					}
					selected = &current
				} else {
					selected = nil
				}
			}

			if selected == nil {
				if len(snapshot.Streams) == 0 {
					if err := manager.Leave(ctx); err != nil && err != context.Canceled {
						log.Warnw("failed to leave after stream loss", "error", err)
					}
					continue
				}
				selected = &snapshot.Streams[0]
			}

			if err := manager.JoinAudience(ctx, subscriberID, *selected, sink); err != nil {
				if err == context.Canceled {
					return err
				}
				log.Warnw("failed to join stream",
					"room_id", selected.RoomID,
					"error", err,
				)
				selected = nil
			}
		}
	}
}
