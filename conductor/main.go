package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/slipway-labs/slipway-go/internal/archive"
	"github.com/slipway-labs/slipway-go/internal/buildexec"
	"github.com/slipway-labs/slipway-go/internal/buildrun"
	"github.com/slipway-labs/slipway-go/internal/checkout"
	"github.com/slipway-labs/slipway-go/internal/forge"
	"github.com/slipway-labs/slipway-go/internal/gate"
	"github.com/slipway-labs/slipway-go/internal/imagepack"
	"github.com/slipway-labs/slipway-go/internal/orchestrator"
	"github.com/slipway-labs/slipway-go/internal/platform/auditlog"
	"github.com/slipway-labs/slipway-go/internal/platform/auth"
	"github.com/slipway-labs/slipway-go/internal/platform/env"
	"github.com/slipway-labs/slipway-go/internal/platform/httpserver"
	"github.com/slipway-labs/slipway-go/internal/platform/objectstore"
	"github.com/slipway-labs/slipway-go/internal/platform/postgres"
	"github.com/slipway-labs/slipway-go/internal/registry"
	"github.com/slipway-labs/slipway-go/internal/toolchain"

	repopg "github.com/slipway-labs/slipway-go/internal/repo/postgres"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("SLIPWAY_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("SLIPWAY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	schemaCtx, cancelSchema := context.WithTimeout(ctx, 10*time.Second)
	if err := repopg.EnsureSchema(schemaCtx, db); err != nil {
		cancelSchema()
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}
	cancelSchema()

	webhookSecret := strings.TrimSpace(env.String("SLIPWAY_WEBHOOK_SECRET", ""))
	if webhookSecret == "" {
		logger.Error("missing webhook secret", "env", "SLIPWAY_WEBHOOK_SECRET")
		os.Exit(2)
	}

	repoURL := strings.TrimSpace(env.String("SLIPWAY_PROJECT_REPO_URL", ""))
	if repoURL == "" {
		logger.Error("missing project repo URL", "env", "SLIPWAY_PROJECT_REPO_URL")
		os.Exit(2)
	}
	binaryName := strings.TrimSpace(env.String("SLIPWAY_PROJECT_BINARY", ""))
	if binaryName == "" {
		logger.Error("missing project binary name", "env", "SLIPWAY_PROJECT_BINARY")
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	matrix, err := registry.Default()
	if err != nil {
		logger.Error("invalid release matrix", "error", err)
		os.Exit(2)
	}

	dockerBin := env.String("SLIPWAY_DOCKER_BIN", "docker")
	hostRunner := buildexec.NewHostRunner()

	nativeResolver, err := toolchain.NewNativeResolver(hostRunner, toolchain.NativeConfig{
		InstallerBin: env.String("SLIPWAY_TOOLCHAIN_INSTALLER", "rustup"),
		Channel:      env.String("SLIPWAY_TOOLCHAIN_CHANNEL", "stable"),
	})
	if err != nil {
		logger.Error("invalid native toolchain config", "error", err)
		os.Exit(2)
	}
	crossResolver, err := toolchain.NewCrossResolver(hostRunner, toolchain.CrossConfig{DockerBin: dockerBin})
	if err != nil {
		logger.Error("invalid cross toolchain config", "error", err)
		os.Exit(2)
	}
	resolver := toolchain.Set{Native: nativeResolver, Cross: crossResolver}

	sources, err := checkout.New(hostRunner, checkout.Config{
		GitBin:  env.String("SLIPWAY_GIT_BIN", "git"),
		RepoURL: repoURL,
	})
	if err != nil {
		logger.Error("invalid checkout config", "error", err)
		os.Exit(2)
	}

	builder, err := buildrun.New(buildrun.Config{
		BinaryName:     binaryName,
		TestCommand:    env.String("SLIPWAY_BUILD_TEST_CMD", ""),
		CompileCommand: env.String("SLIPWAY_BUILD_RELEASE_CMD", ""),
		OutputPath:     env.String("SLIPWAY_BUILD_OUTPUT_PATH", ""),
	}, hostRunner, func(image string) (buildexec.Runner, error) {
		return buildexec.NewDockerRunner(dockerBin, image)
	})
	if err != nil {
		logger.Error("invalid build config", "error", err)
		os.Exit(2)
	}

	packager, err := archive.NewPackager(binaryName)
	if err != nil {
		logger.Error("invalid packager config", "error", err)
		os.Exit(2)
	}

	readyChecks := []httpserver.ReadinessCheck{
		{Name: "postgres", Check: postgres.Ping(db, 750*time.Millisecond)},
	}

	publisherBackend := strings.ToLower(strings.TrimSpace(env.String("SLIPWAY_PUBLISHER", "forge")))
	var publisher forge.Publisher
	switch publisherBackend {
	case "forge":
		owner, repoName, ok := strings.Cut(strings.TrimSpace(env.String("SLIPWAY_FORGE_REPO", "")), "/")
		if !ok {
			logger.Error("invalid forge repo, want owner/name", "env", "SLIPWAY_FORGE_REPO")
			os.Exit(2)
		}
		publisher, err = forge.NewRESTPublisher(ctx, forge.RESTConfig{
			BaseURL:   env.String("SLIPWAY_FORGE_BASE_URL", ""),
			UploadURL: env.String("SLIPWAY_FORGE_UPLOAD_URL", ""),
			Owner:     owner,
			Repo:      repoName,
			Token:     env.String("SLIPWAY_FORGE_TOKEN", ""),
		})
		if err != nil {
			logger.Error("invalid forge config", "error", err)
			os.Exit(2)
		}
	case "objectstore":
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		publisher, err = forge.NewBucketPublisher(storeClient, storeCfg.BucketReleases)
		if err != nil {
			logger.Error("invalid bucket publisher config", "error", err)
			os.Exit(2)
		}
		readyChecks = append(readyChecks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
			},
		})
	default:
		logger.Error("unsupported publisher backend", "backend", publisherBackend)
		os.Exit(2)
	}

	var gateSpec *gate.Spec
	if gatePath := strings.TrimSpace(env.String("SLIPWAY_GATE_POLICY_PATH", "")); gatePath != "" {
		gateSpec, err = gate.LoadFile(gatePath)
		if err != nil {
			logger.Error("invalid gate policy", "path", gatePath, "error", err)
			os.Exit(2)
		}
	}

	imageEnabled, err := env.Bool("SLIPWAY_IMAGE_ENABLED", false)
	if err != nil {
		logger.Error("invalid image enabled flag", "error", err)
		os.Exit(2)
	}
	var imageBuilder orchestrator.ImageBuilder
	if imageEnabled {
		imagePush, err := env.Bool("SLIPWAY_IMAGE_PUSH", false)
		if err != nil {
			logger.Error("invalid image push flag", "error", err)
			os.Exit(2)
		}
		ib, err := imagepack.NewBuilder(hostRunner, imagepack.Config{
			DockerBin: dockerBin,
			Repo:      env.String("SLIPWAY_IMAGE_REPO", ""),
			Base:      env.String("SLIPWAY_IMAGE_BASE", "alpine:3.22"),
			Push:      imagePush,
		})
		if err != nil {
			logger.Error("invalid image config", "error", err)
			os.Exit(2)
		}
		imageBuilder = ib
	}

	keepWorkdirs, err := env.Bool("SLIPWAY_KEEP_WORKDIRS", false)
	if err != nil {
		logger.Error("invalid keep workdirs flag", "error", err)
		os.Exit(2)
	}
	runDeadline, err := env.Duration("SLIPWAY_RUN_DEADLINE", 2*time.Hour)
	if err != nil {
		logger.Error("invalid run deadline", "error", err)
		os.Exit(2)
	}
	janitorInterval, err := env.Duration("SLIPWAY_JANITOR_INTERVAL", 5*time.Minute)
	if err != nil {
		logger.Error("invalid janitor interval", "error", err)
		os.Exit(2)
	}

	runStore := repopg.NewRunStore(db)
	jobStore := repopg.NewJobStore(db)
	releaseStore := repopg.NewReleaseStore(db)

	recorder := newRunRecorder(logger, runStore, jobStore, releaseStore, publisherBackend)

	orch, err := orchestrator.New(orchestrator.Deps{
		Logger:    logger,
		Registry:  matrix,
		Checkout:  sources,
		Resolver:  resolver,
		Builder:   builder,
		Packager:  packager,
		Publisher: publisher,
		Gate:      gateSpec,
		Image:     imageBuilder,
		Recorder:  recorder,
	}, orchestrator.Config{
		WorkRoot:     env.String("SLIPWAY_WORKROOT", ""),
		KeepWorkdirs: keepWorkdirs,
		BinaryName:   binaryName,
		ImageTarget:  env.String("SLIPWAY_IMAGE_TARGET", "x86_64-unknown-linux-musl"),
	})
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}

	coord := newCoordinator(ctx, logger, db, runStore, orch)

	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			logger.Error("oidc authenticator init failed", "error", err)
			os.Exit(1)
		}
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(authCfg)
	default:
		authenticator = auth.DisabledAuthenticator{}
	}

	authorizer := auth.MethodRoleAuthorizer()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("conductor"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("conductor", readyChecks...))

	api := newConductorAPI(logger, db, runStore, jobStore, releaseStore, matrix, coord, webhookSecret)
	api.register(mux)

	startJanitor(ctx, logger, runStore, janitorConfig{Deadline: runDeadline, Interval: janitorInterval})

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     authorizer,
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "conductor", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz", "/webhooks/"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "conductor",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "conductor", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Let in-flight runs conclude and record before the process exits.
	coord.Wait()
}
