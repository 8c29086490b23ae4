package app

import (
	"context"
	"fmt"
	"log"

	"ticketing/internal/catalog"
	intconfig "ticketing/internal/config"
	intdb "ticketing/internal/db"
	"ticketing/internal/domain"
	"ticketing/internal/events"
	"ticketing/internal/passengers"
	"ticketing/internal/repositories"
	"ticketing/internal/services"
)

// App is the assembled engine plus the resources it owns.
type App struct {
	Tickets    services.TicketService
	Dispatcher *events.Dispatcher

	closers []func()
}

// Build wires store, catalog and event sink from env.
func Build(ctx context.Context, env intconfig.Env) (*App, error) {
	a := &App{}

	policy, err := intconfig.LoadTicketPolicy(env.PolicyFile)
	if err != nil {
		return nil, err
	}

	store, err := a.store(ctx, env)
	if err != nil {
		a.Close()
		return nil, err
	}

	trips, err := a.catalog(ctx, env)
	if err != nil {
		a.Close()
		return nil, err
	}

	directory, err := a.passengers(env)
	if err != nil {
		a.Close()
		return nil, err
	}

	pub, err := publisher(env)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Dispatcher = events.NewDispatcher(pub, 1024)
	a.closers = append(a.closers, func() { _ = a.Dispatcher.Close() })

	a.Tickets = services.TicketService{
		Store:              store,
		Catalog:            trips,
		Passengers:         directory,
		Policy:             policy,
		Events:             a.Dispatcher,
		Clock:              domain.SystemClock,
		MaxCASAttempts:     env.CASMaxAttempts,
		MaxPaymentFailures: env.PaymentMaxFailures,
		SweepBatch:         env.SweepBatch,
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) store(ctx context.Context, env intconfig.Env) (services.TicketStore, error) {
	switch env.StoreDriver {
	case "mysql":
		conn, err := intconfig.ConnectDB(env.MySQLDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, intconfig.CloseDB)
		if err := intdb.EnsureSchema(ctx, conn); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repositories.TicketRepository{DB: conn}, nil
	case "postgres":
		pool, err := intconfig.ConnectPostgres(ctx, env.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		repo := repositories.NewPgTicketRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return repo, nil
	default:
		log.Println("[APP] using in-memory ticket store")
		return repositories.NewMemoryTicketStore(), nil
	}
}

func (a *App) catalog(ctx context.Context, env intconfig.Env) (services.TripCatalog, error) {
	var src catalog.Source
	switch env.CatalogMode {
	case "http":
		src = catalog.NewHTTPClient(env.CatalogURL, env.CatalogTimeout)
	case "mysql":
		if _, err := intconfig.ConnectDB(env.MySQLDSN); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, intconfig.CloseDB)
		src = repositories.TripRepository{}
	default:
		static, err := catalog.LoadStatic(env.CatalogFile)
		if err != nil {
			return nil, err
		}
		return static, nil
	}

	if env.RedisAddr == "" {
		return src, nil
	}
	client, err := catalog.NewRedisClient(ctx, env.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return catalog.Cache{Next: src, Client: client, TTL: env.CatalogCacheTTL}, nil
}

func (a *App) passengers(env intconfig.Env) (services.PassengerDirectory, error) {
	switch env.PassengerMode {
	case "http":
		return passengers.NewHTTPClient(env.PassengerURL, env.PassengerTimeout), nil
	case "mysql":
		if _, err := intconfig.ConnectDB(env.MySQLDSN); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, intconfig.CloseDB)
		return repositories.PassengerRepository{}, nil
	default:
		dir, err := passengers.LoadStatic(env.PassengerFile)
		if err != nil {
			return nil, err
		}
		if dir.Len() == 0 {
			log.Println("[APP] static passenger directory is empty; every issuance will be rejected")
		}
		return dir, nil
	}
}

func publisher(env intconfig.Env) (events.Publisher, error) {
	switch env.EventSink {
	case "kafka":
		return events.NewKafkaPublisher(env.KafkaBrokers, env.KafkaEventsTopic), nil
	case "amqp":
		return events.NewAMQPPublisher(env.AMQPURL, env.AMQPExchange)
	default:
		return events.LogPublisher{}, nil
	}
}
