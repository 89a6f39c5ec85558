package erpsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

func syncTopicName() string {
	name := strings.TrimSpace(os.Getenv("ERP_SYNC_TOPIC"))
	if name == "" {
		name = "erp-sync"
	}
	return name
}

// PublishSyncRun hands a ledger entry to the worker pool. It is a
// variable so deployments that dispatch runs in-process can swap the
// transport.
var PublishSyncRun = publishViaPubSub

func publishViaPubSub(ctx context.Context, runID uint, syncType string) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := syncTopicName()
	topic := client.Topic(topicName)
	if utils.BoolFromEnv("ERP_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncRunPayload{RunID: runID, Type: syncType}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler is the push-subscription endpoint. It always answers
// 204: processing failures are retried through the ledger dispatcher, not
// through Pub/Sub redelivery storms.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.BoolFromEnv("ENABLE_ERP_SYNC_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncRunPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunID == 0 {
			c.Status(204)
			return
		}

		_ = ProcessSyncRun(c.Request.Context(), payload)
		c.Status(204)
	}
}
