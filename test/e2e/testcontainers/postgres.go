// Package testcontainers starts the PostgreSQL and RabbitMQ containers shared
// by the e2e suites.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresConfig holds configuration for PostgreSQL test container.
type PostgresConfig struct {
	// User is the PostgreSQL username (default: sadrn)
	User string
	// Password is the PostgreSQL password (default: sadrn)
	Password string
	// Database is the database name (default: sadrn)
	Database string
	// ContainerName is the name of the container (optional)
	ContainerName string
}

// Postgres is a running PostgreSQL container.
type Postgres struct {
	Container testcontainers.Container
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

// DSN renders a connection string for the container.
func (p *Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.Database)
}

// Terminate stops the container.
func (p *Postgres) Terminate(ctx context.Context) error {
	return p.Container.Terminate(ctx)
}

// StartPostgres starts a PostgreSQL container and waits until it accepts
// connections.
func StartPostgres(ctx context.Context, config *PostgresConfig) (*Postgres, error) {
	cfg := PostgresConfig{User: "sadrn", Password: "sadrn", Database: "sadrn"}
	if config != nil {
		cfg.ContainerName = config.ContainerName
		if config.User != "" {
			cfg.User = config.User
		}
		if config.Password != "" {
			cfg.Password = config.Password
		}
		if config.Database != "" {
			cfg.Database = config.Database
		}
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			),
			Env: map[string]string{
				"POSTGRES_USER":     cfg.User,
				"POSTGRES_PASSWORD": cfg.Password,
				"POSTGRES_DB":       cfg.Database,
			},
			Name: cfg.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, terminateWith(ctx, container, fmt.Errorf("failed to get container host: %w", err))
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, terminateWith(ctx, container, fmt.Errorf("failed to get container port: %w", err))
	}

	return &Postgres{
		Container: container,
		Host:      host,
		Port:      port.Int(),
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
	}, nil
}

func terminateWith(ctx context.Context, container testcontainers.Container, err error) error {
	if termErr := container.Terminate(ctx); termErr != nil {
		return fmt.Errorf("%w (cleanup error: %w)", err, termErr)
	}
	return err
}
