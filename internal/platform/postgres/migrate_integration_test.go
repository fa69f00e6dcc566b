//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"politikcred/internal/platform/config"
	"politikcred/internal/platform/postgres"
	"politikcred/pkg/testutil/containers"
)

type MigrateSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
}

func TestMigrateSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(MigrateSuite))
}

func (s *MigrateSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *MigrateSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.Exec(ctx, `DROP SCHEMA public CASCADE`))
	s.Require().NoError(s.postgres.Exec(ctx, `CREATE SCHEMA public`))
}

// A server and a CLI starting together each run Migrate on their own pool.
func (s *MigrateSuite) TestConcurrentMigrateSucceedsOnce() {
	ctx := context.Background()
	const callers = 4

	pools := make([]*sql.DB, callers)
	for i := range pools {
		db, err := postgres.Open(ctx, config.Database{URL: s.postgres.DSN, MaxOpenConns: 2})
		s.Require().NoError(err)
		s.T().Cleanup(func() { _ = db.Close() })
		pools[i] = db
	}

	var g errgroup.Group
	for _, db := range pools {
		g.Go(func() error { return postgres.Migrate(ctx, db) })
	}
	s.Require().NoError(g.Wait())

	var applied int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM goose_db_version WHERE version_id = 1 AND is_applied`,
	).Scan(&applied))
	s.Equal(1, applied)

	var runStates int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT count(*) FROM run_state`).Scan(&runStates))
	s.Equal(1, runStates)
}

func (s *MigrateSuite) TestMigrateIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(postgres.Migrate(ctx, s.postgres.DB))
	s.Require().NoError(postgres.Migrate(ctx, s.postgres.DB))

	var tables int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_name IN ('politicians', 'promises', 'actions', 'verifications', 'run_state')`,
	).Scan(&tables))
	s.Equal(5, tables)
}
