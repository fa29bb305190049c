package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"bitbucket.org/mmdatafocus/erp_mirror/utils"
	"github.com/gin-gonic/gin"
)

type RunMessage struct {
	RunId         uint   `json:"runId"`
	CorrelationId string `json:"correlationId,omitempty"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		MessageId  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type Publisher interface {
	PublishRun(ctx context.Context, msg RunMessage) error
}

type PubSubPublisher struct {
	topic string
}

func NewPubSubPublisher(topic string) *PubSubPublisher {
	return &PubSubPublisher{topic: topic}
}

func (p *PubSubPublisher) PublishRun(ctx context.Context, msg RunMessage) error {
	id, err := config.PublishJSON(ctx, p.topic, msg)
	if err != nil {
		return err
	}
	config.GetLogger().WithField("message_id", id).WithField("run_id", msg.RunId).Debug("erp sync run published")
	return nil
}

var errInvalidPushMessage = errors.New("invalid push message")

func DecodePushMessage(body []byte) (RunMessage, error) {
	var envelope PubSubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return RunMessage{}, err
	}
	var msg RunMessage
	if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
		return RunMessage{}, err
	}
	if msg.RunId == 0 {
		return RunMessage{}, errInvalidPushMessage
	}
	return msg, nil
}

// PubSubPushHandler executes pushed runs. Undecodable messages are acked with 204;
// a run blocked by another run answers 503 so Pub/Sub redelivers it.
func PubSubPushHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.PubSubPushEndpointEnabled() {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		msg, err := DecodePushMessage(body)
		if err != nil {
			config.GetLogger().WithError(err).Warn("dropping erp sync push message")
			c.Status(http.StatusNoContent)
			return
		}

		// the run outlives the push request; a redelivery meanwhile finds it running and is acked
		ctx, cancel := detachedRunContext(c.Request.Context())
		defer cancel()
		if msg.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
		}
		if _, err := svc.Execute(ctx, msg.RunId); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				c.Status(http.StatusServiceUnavailable)
				return
			}
			config.LogError(config.GetLogger(), "erpsync", "PubSubPushHandler", "execute sync run", msg, err)
		}
		c.Status(http.StatusNoContent)
	}
}
