package capisync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
)

func syncTopicName() string {
	if v := strings.TrimSpace(os.Getenv("CAPI_SYNC_TOPIC")); v != "" {
		return v
	}
	return "capi-sync"
}

// PublishSyncRequest queues a sync pass for the push subscriber instead of
// running it in-request. Cloud Scheduler posts here on the sync interval.
func PublishSyncRequest(ctx context.Context, accountId *uint) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := syncTopicName()
	topic := client.Topic(topicName)
	if envBoolDefault("CAPI_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(SyncPubSubPayload{AccountId: accountId})
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// ScheduleSyncHandler accepts the scheduler trigger and hands the pass off to
// Pub/Sub so the HTTP request returns immediately.
func ScheduleSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var accountId *uint
		if v := strings.TrimSpace(c.Query("account_id")); v != "" {
			parsed, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
				return
			}
			id := uint(parsed)
			accountId = &id
		}

		if err := PublishSyncRequest(c.Request.Context(), accountId); err != nil {
			logger := config.GetLogger()
			config.LogError(logger, "pubsub.go", "ScheduleSyncHandler", "PublishSyncRequest", accountId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

// PubSubPushHandler consumes push deliveries for the sync topic. It always
// returns 204 so Pub/Sub does not redeliver; retries are driven by the event
// store's backoff, not by the broker.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_CAPI_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		logger := config.GetLogger()
		_, _ = RunSyncPass(c.Request.Context(), logger, SyncPassOptions{
			AccountId:    payload.AccountId,
			ClientConfig: UploadClientConfigFromEnv(),
			Retry:        RetryPolicyFromEnv(),
		})
		c.Status(http.StatusNoContent)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
