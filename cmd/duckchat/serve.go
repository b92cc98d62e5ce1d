package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/paularlott/cli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/paularlott/duckchat"
	"github.com/paularlott/duckchat/challenge"
	"github.com/paularlott/duckchat/metrics"
	"github.com/paularlott/duckchat/pool"
	"github.com/paularlott/duckchat/publish"
	"github.com/paularlott/duckchat/server"
	"github.com/paularlott/duckchat/store"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the chat relay API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:         "addr",
			Usage:        "Listen address",
			DefaultValue: ":8080",
			EnvVars:      []string{"DUCKCHAT_ADDR"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for conversations and events (in-memory when empty)",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:         "topic",
			Usage:        "Topic completion events are published on",
			DefaultValue: publish.DefaultTopic,
			EnvVars:      []string{"DUCKCHAT_TOPIC"},
		},
		&cli.IntFlag{
			Name:         "ttl",
			Usage:        "Conversation lifetime in minutes",
			DefaultValue: int(store.DefaultTTL / time.Minute),
			EnvVars:      []string{"DUCKCHAT_TTL"},
		},
	},
	Run: runServe,
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	if !cmd.GetBool("debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		convStore store.Store
		publisher message.Publisher
		err       error
	)

	wmLogger := watermill.NewStdLogger(cmd.GetBool("debug"), false)

	if redisURL := cmd.GetString("redis-url"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		convStore = store.NewRedisStore(redisClient)
		publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			wmLogger,
		)
		if err != nil {
			return fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		logger.Info("using redis", "addr", opts.Addr)
	} else {
		convStore = store.NewMemoryStore()
		publisher = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	}
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return err
	}

	cfg := clientConfig(cmd, logger)
	cfg.Doer = metrics.InstrumentDoer(pool.GetPool().GetHTTPClient())
	cfg.Evaluator = metrics.InstrumentEvaluator(challenge.New())
	client, err := duckchat.New(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Client: client,
		Store:  convStore,
		Observer: metrics.NewObserver(
			publish.NewObserver(publisher,
				publish.WithTopic(cmd.GetString("topic")),
				publish.WithoutDeltas(),
				publish.WithLogger(logger),
			),
		),
		TTL:      time.Duration(cmd.GetInt("ttl")) * time.Minute,
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	return srv.ListenAndServe(ctx, cmd.GetString("addr"))
}
