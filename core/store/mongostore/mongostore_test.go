package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/relabs-tech/restifier/core/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// startMongo returns the URI of a mongo server. MONGO_URI is used if set, otherwise
// a container is started.
func startMongo(t *testing.T) string {
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		return uri
	}
	if testing.Short() {
		t.Skip("skipping mongo integration test in short mode")
	}
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("cannot start mongo container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

func TestConformance(t *testing.T) {
	uri := startMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database := fmt.Sprintf("restifier_test_%d", time.Now().UnixNano())
	s, err := Open(ctx, uri, database)
	require.NoError(t, err)
	defer func() {
		s.database.Drop(context.Background())
		s.Close(context.Background())
	}()

	storetest.Run(t, s, "conformance")
}

func TestNormalize(t *testing.T) {
	now := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	doc := normalizeDocument(bson.M{
		"n":    int32(3),
		"when": bson.NewDateTimeFromTime(now),
		"nested": bson.D{
			{Key: "list", Value: bson.A{int32(1), bson.M{"x": "y"}}},
		},
	})
	assert.Equal(t, int64(3), doc["n"])
	assert.Equal(t, "2021-03-04T05:06:07Z", doc["when"])
	nested, ok := doc["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{int64(1), map[string]interface{}{"x": "y"}}, nested["list"])
}
