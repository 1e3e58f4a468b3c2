package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	cryptex "github.com/cryptex-im/cryptex"
	"github.com/cryptex-im/cryptex/auth"
	"github.com/cryptex-im/cryptex/media"
	"github.com/cryptex-im/cryptex/state"
	"github.com/cryptex-im/cryptex/state/migrations"
)

const (
	// Required fields
	EnvDB              = "CRYPTEX_DB"
	EnvCognitoClientID = "CRYPTEX_COGNITO_CLIENT_ID"
	EnvAWSRegion       = "CRYPTEX_AWS_REGION"

	// Optional fields
	EnvBindAddr      = "CRYPTEX_BINDADDR"
	EnvS3Bucket      = "CRYPTEX_S3_BUCKET"
	EnvS3Endpoint    = "CRYPTEX_S3_ENDPOINT"
	EnvS3AccessKey   = "CRYPTEX_S3_ACCESS_KEY"
	EnvS3SecretKey   = "CRYPTEX_S3_SECRET_KEY"
	EnvPublicBaseURL = "CRYPTEX_CDN_URL"
	EnvWebsocketURL  = "CRYPTEX_WEBSOCKET_URL"
	EnvSentryDSN     = "CRYPTEX_SENTRY_DSN"
	EnvPrometheus    = "CRYPTEX_PROM"
	EnvProfileTTL    = "CRYPTEX_PROFILE_CACHE_TTL_SECS"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	flagBindAddr = flag.String("port", envOr(EnvBindAddr, ":8118"), "Bind address")
	flagPostgres = flag.String("db", os.Getenv(EnvDB), "Postgres DB connection string (see lib/pq docs)")
)

func main() {
	flag.Parse()
	if *flagPostgres == "" || os.Getenv(EnvCognitoClientID) == "" || os.Getenv(EnvAWSRegion) == "" {
		flag.Usage()
		os.Exit(1)
	}

	if dsn := os.Getenv(EnvSentryDSN); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			panic(err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()
	enableProm := os.Getenv(EnvPrometheus) == "1"
	db, err := sqlx.Open("postgres", *flagPostgres)
	if err != nil {
		panic(err)
	}
	store := state.NewStorageWithDB(db, enableProm)
	if err := migrations.Run(db.DB); err != nil {
		panic(err)
	}

	provider, err := auth.NewCognitoProvider(ctx, os.Getenv(EnvAWSRegion), os.Getenv(EnvCognitoClientID))
	if err != nil {
		panic(err)
	}
	gate := auth.NewGate(auth.NewSessionStore(), provider)

	var avatars *media.AvatarStore
	if bucket := os.Getenv(EnvS3Bucket); bucket != "" {
		avatars, err = media.NewAvatarStore(ctx, media.Config{
			Region:        os.Getenv(EnvAWSRegion),
			Bucket:        bucket,
			PublicBaseURL: os.Getenv(EnvPublicBaseURL),
			BaseEndpoint:  os.Getenv(EnvS3Endpoint),
			AccessKey:     os.Getenv(EnvS3AccessKey),
			SecretKey:     os.Getenv(EnvS3SecretKey),
		})
		if err != nil {
			panic(err)
		}
	}

	profileTTL := 30 * time.Second
	if secs, err := time.ParseDuration(os.Getenv(EnvProfileTTL) + "s"); err == nil && secs > 0 {
		profileTTL = secs
	}

	h := &cryptex.CommandHandler{
		Gate:         gate,
		Store:        store,
		Profiles:     state.NewProfileCache(store, profileTTL),
		Avatars:      avatars,
		WebsocketURL: os.Getenv(EnvWebsocketURL),
	}
	cryptex.RunServer(h, *flagBindAddr, enableProm)
}
