//go:build integration

package couchmixed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupCouchDBContainer starts a CouchDB container for testing,
// mirroring the teacher's db/couchdb_integration_test.go helper of the
// same name.
func setupCouchDBContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "couchdb:3.3",
		ExposedPorts: []string{"5984/tcp"},
		Env: map[string]string{
			"COUCHDB_USER":     "admin",
			"COUCHDB_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForHTTP("/_up").WithPort("5984/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start CouchDB container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	url := fmt.Sprintf("http://admin:testpass@%s:%s", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return url, cleanup
}

func TestStoreAddThenCommitUpserts(t *testing.T) {
	url, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := Open(ctx, url, "gdbtx_test_mixed", "by_bio", "bio")
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, []byte("v1"), "bio", []byte("hello"), true))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.Delete(ctx, []byte("v1"), "bio", []byte("hello"), false))
	require.NoError(t, s.Commit(ctx))
}
