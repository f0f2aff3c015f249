package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types carried by worker messages.
const (
	JobStationRefresh = "station_refresh"
	JobHealthCheck    = "health_check"
)

// Message errors. Messages failing with these are acknowledged and dropped.
var (
	ErrMalformedMessage = errors.New("malformed job message")
	ErrUnknownJobType   = errors.New("unknown job type")
)

// JobMessage is the payload of a worker job message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// DatasetIDs restricts a station refresh to these datasets. Empty refreshes
	// every configured station.
	DatasetIDs []string `json:"dataset_ids,omitempty"`
}

// Dispatcher runs the job described by a message payload.
type Dispatcher struct {
	job    *RefreshJob
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher for a refresh job.
func NewDispatcher(job *RefreshJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// Dispatch decodes a payload and runs its job.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobStationRefresh:
		return d.stationRefresh(ctx, msg)
	case JobHealthCheck:
		d.logger.Debug().Msg("running health check")
		return d.job.HealthCheck(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobType, msg.JobType)
	}
}

func (d *Dispatcher) stationRefresh(ctx context.Context, msg JobMessage) error {
	targets := d.job.Config().Stations
	if len(msg.DatasetIDs) > 0 {
		targets = d.job.Config().Select(msg.DatasetIDs)
	}

	d.logger.Info().
		Int("stations", len(targets)).
		Strs("dataset_ids", msg.DatasetIDs).
		Msg("starting station refresh")

	result := d.job.RunStations(ctx, targets)
	if result.Err != nil {
		d.logger.Warn().Err(result.Err).Msg("station refresh had failures")
	}

	// Consider it successful unless most stations failed.
	if result.Failed > result.Successful+result.Empty {
		return fmt.Errorf("too many refresh failures: %d/%d: %w", result.Failed, result.Total, result.Err)
	}
	return nil
}

// PubSubHandler feeds Pub/Sub messages to a Dispatcher.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	subscriber.ReceiveSettings.MaxOutstandingMessages = 2
	subscriber.ReceiveSettings.MaxExtension = 30 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx ends.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	err := h.dispatcher.Dispatch(ctx, msg.Data)
	switch {
	case err == nil:
		logger.Info().Dur("duration", time.Since(startTime)).Msg("message handled")
		msg.Ack()
	case !Retryable(err):
		logger.Warn().Err(err).Msg("dropping message")
		msg.Ack()
	default:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
	}
}

// Retryable reports whether a failed message should be redelivered.
func Retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrMalformedMessage) &&
		!errors.Is(err, ErrUnknownJobType)
}
