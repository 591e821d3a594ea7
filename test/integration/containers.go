//go:build integration

// Package integration starts throwaway backing services for tests tagged
// integration.
package integration

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startTimeout = 2 * time.Minute

type Postgres struct {
	Container *postgres.PostgresContainer
	URL       string
}

func StartPostgres(ctx context.Context) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("floor"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return nil, err
	}

	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(context.Background())
		return nil, err
	}
	return &Postgres{Container: pgC, URL: url}, nil
}

func (p *Postgres) Terminate(ctx context.Context) {
	_ = p.Container.Terminate(ctx)
}

type Kafka struct {
	Container *kafka.KafkaContainer
	Brokers   []string
}

func StartKafka(ctx context.Context) (*Kafka, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	kafkaC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("floor-test"),
	)
	if err != nil {
		return nil, err
	}

	brokers, err := kafkaC.Brokers(ctx)
	if err != nil {
		_ = kafkaC.Terminate(context.Background())
		return nil, err
	}
	return &Kafka{Container: kafkaC, Brokers: brokers}, nil
}

func (k *Kafka) Terminate(ctx context.Context) {
	_ = k.Container.Terminate(ctx)
}
