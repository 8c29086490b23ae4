package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"ticketing/internal/app"
	intconfig "ticketing/internal/config"
	"ticketing/internal/consumer"
	router "ticketing/internal/http"
	h "ticketing/internal/http/handlers"
	"ticketing/internal/services"
	"ticketing/internal/tracing"
)

func main() {
	env, err := intconfig.LoadEnv()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if env.GinMode != "" {
		gin.SetMode(env.GinMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, env.OTLPEndpoint, "ticketing")
	if err != nil {
		log.Fatalf("tracing init failed: %v", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(tctx)
	}()

	a, err := app.Build(ctx, env)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	h.Configure(h.Deps{Tickets: a.Tickets, CallbackSecret: env.CallbackSecret, MaxClockSkew: env.ValidationMaxSkew})
	r := router.NewRouter(env)

	srv := &http.Server{
		Addr:              env.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Server running at http://localhost%s", env.AppAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.Go(func() error {
		return services.Sweeper{Tickets: a.Tickets, Interval: env.SweepInterval}.Run(gctx)
	})

	if env.KafkaPayments != "" {
		g.Go(func() error {
			reader := consumer.NewKafkaReader(env.KafkaBrokers, env.KafkaPayments, env.KafkaGroupID)
			return consumer.PaymentConsumer{Reader: reader, Payments: a.Tickets}.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("stopped with error: %v", err)
		return
	}
	log.Println("Server stopped cleanly.")
}
