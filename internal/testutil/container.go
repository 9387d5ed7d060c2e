package testutil

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// StartPostgresContainer boots a throwaway Postgres 16 container and returns
// its connection string plus a terminate function. Callers own the teardown.
func StartPostgresContainer(ctx context.Context) (string, func(), error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("resolution"),
		postgres.WithUsername("resolution"),
		postgres.WithPassword("resolution"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return "", nil, fmt.Errorf("resolve connection string: %w", err)
	}

	terminate := func() {
		_ = testcontainers.TerminateContainer(container)
	}
	return dsn, terminate, nil
}
