package pubsub

import (
	"context"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type report struct {
	RunID string `json:"run_id"`
	Site  string `json:"site"`
}

func (r report) Attributes() map[string]string {
	return map[string]string{"run_id": r.RunID, "site": r.Site, "empty": ""}
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()
	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/p/topics/runs"})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "p", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	otel.SetTextMapPropagator(propagation.TraceContext{})
	pub := New(client.Publisher("runs"))
	defer pub.Stop()

	id, err := pub.Publish(ctx, "ignored", report{RunID: "r1", Site: "Upack"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"run_id":"r1","site":"Upack"}`, string(msgs[0].Data))
	require.Equal(t, "r1", msgs[0].Attributes["run_id"])
	require.Equal(t, "Upack", msgs[0].Attributes["site"])
	require.NotContains(t, msgs[0].Attributes, "empty")
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "runs", report{})
	require.ErrorContains(t, err, "not configured")

	_, err = New(nil).Publish(context.Background(), "runs", make(chan int))
	require.Error(t, err)
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
