package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/appctx"
	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const pubsubConnectAttempts = 5

var (
	pubsubMu     sync.Mutex
	pubsubClient *pubsub.Client
	// topic handles keep their own publish goroutines; one per topic for the process
	pubsubTopics = map[string]*pubsub.Topic{}
)

func init() {
	godotenv.Load()
}

func pubSubProjectID() string {
	for _, key := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// pubSubTopic returns the cached topic handle, connecting the client on first use.
// Application Default Credentials are used unless PUBSUB_CREDENTIALS_JSON is set.
func pubSubTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()

	if t, ok := pubsubTopics[name]; ok {
		return t, nil
	}
	if pubsubClient == nil {
		c, err := connectPubSub(ctx)
		if err != nil {
			return nil, err
		}
		pubsubClient = c
	}

	t := pubsubClient.Topic(name)
	if CreateSyncTopic() {
		ok, err := t.Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check topic %q: %w", name, err)
		}
		if !ok {
			if t, err = pubsubClient.CreateTopic(ctx, name); err != nil {
				return nil, fmt.Errorf("create topic %q: %w", name, err)
			}
			GetLogger().WithField("topic", name).Info("pubsub topic created")
		}
	}
	pubsubTopics[name] = t
	return t, nil
}

func connectPubSub(ctx context.Context) (*pubsub.Client, error) {
	projectID := pubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	log := GetLogger().WithField("project_id", projectID)
	for attempt := 1; ; attempt++ {
		c, err := pubsub.NewClient(ctx, projectID, opts...)
		if err == nil {
			log.WithField("attempt", attempt).Info("pubsub client ready")
			return c, nil
		}
		if attempt >= pubsubConnectAttempts {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		log.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).WithError(err).Warn("pubsub client init failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// PublishJSON publishes obj to topicName and returns the server-assigned message ID.
// The correlation id of ctx, if any, travels as the correlation_id attribute.
func PublishJSON(ctx context.Context, topicName string, obj interface{}) (string, error) {
	if topicName == "" {
		return "", errors.New("topicName is required")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	t, err := pubSubTopic(ctx, topicName)
	if err != nil {
		return "", err
	}

	msg := &pubsub.Message{Data: data}
	if cid, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && cid != "" {
		msg.Attributes = map[string]string{"correlation_id": cid}
	}
	return t.Publish(ctx, msg).Get(ctx)
}

// ClosePubSub flushes pending publishes and closes the client.
func ClosePubSub() {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()

	for name, t := range pubsubTopics {
		t.Stop()
		delete(pubsubTopics, name)
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			GetLogger().WithError(err).Warn("close pubsub client")
		}
		pubsubClient = nil
	}
}
