package analyzer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-trend-analyzer/api"
	"github.com/brettboylen/reddit-trend-analyzer/metrics"
	"github.com/brettboylen/reddit-trend-analyzer/models"
)

// outcome label for calls that never got a response
const outcomeTransport = "transport"

// Webhook is the transport used to reach the analysis webhook
type Webhook interface {
	Post(ctx context.Context, request models.AnalysisRequest) (*api.WebhookResponse, error)
}

// Recorder persists the outcome of every analysis
type Recorder interface {
	SaveAnalysis(record models.AnalysisRecord, posts []models.Post) error
}

// Service runs analyses: webhook call, normalization, history, metrics
type Service struct {
	webhook    Webhook
	normalizer Normalizer
	recorder   Recorder
	now        func() time.Time
	log        *logrus.Logger
}

// NewService creates a new analysis service; recorder may be nil
func NewService(webhook Webhook, normalizer Normalizer, recorder Recorder, log *logrus.Logger) *Service {
	return &Service{
		webhook:    webhook,
		normalizer: normalizer,
		recorder:   recorder,
		now:        time.Now,
		log:        log,
	}
}

// Analyze performs one analysis and returns the normalized result, or a
// *TransportError, *RejectedError or *MalformedError
func (s *Service) Analyze(ctx context.Context, request models.AnalysisRequest) (models.AnalysisResult, error) {
	analyzedAt := s.now()

	resp, err := s.webhook.Post(ctx, request)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"keywords":  request.Keywords,
			"subreddit": request.Subreddit,
		}).Error("Failed to reach analysis webhook")

		s.record(request, analyzedAt, analyzedAt, outcomeTransport, 0, models.AnalysisResult{})
		return models.AnalysisResult{}, &TransportError{Err: err}
	}

	receivedAt := s.now()
	outcome := s.normalizer.Normalize(resp.Body, resp.StatusCode, receivedAt)

	fields := logrus.Fields{
		"keywords":    request.Keywords,
		"subreddit":   request.Subreddit,
		"outcome":     outcome.Kind.String(),
		"status_code": resp.StatusCode,
	}
	switch outcome.Kind {
	case KindOK:
		fields["post_count"] = len(outcome.Result.Posts)
		fields["total_posts"] = outcome.Result.TotalPosts
		s.log.WithFields(fields).Info("Analysis complete")
	case KindStub:
		fields["reason"] = outcome.Reason
		s.log.WithFields(fields).Warn("Webhook payload unusable, substituting empty result")
	case KindMalformed:
		fields["reason"] = outcome.Reason
		s.log.WithFields(fields).Error("Webhook payload unusable")
	case KindRejected:
		fields["response_body"] = outcome.Body
		s.log.WithFields(fields).Error("Webhook rejected analysis request")
	}

	s.record(request, analyzedAt, receivedAt, outcome.Kind.String(), resp.StatusCode, outcome.Result)

	if err := outcome.Err(); err != nil {
		return models.AnalysisResult{}, err
	}
	return outcome.Result, nil
}

func (s *Service) record(request models.AnalysisRequest, analyzedAt, receivedAt time.Time, outcome string, statusCode int, result models.AnalysisResult) {
	metrics.AnalysesTotal.WithLabelValues(outcome).Inc()

	if s.recorder == nil {
		return
	}

	record := models.AnalysisRecord{
		ID:         uuid.New().String(),
		Keywords:   request.Keywords,
		Subreddit:  request.Subreddit,
		Outcome:    outcome,
		StatusCode: statusCode,
		TotalPosts: result.TotalPosts,
		PostCount:  len(result.Posts),
		AnalyzedAt: analyzedAt,
		ReceivedAt: receivedAt,
	}

	// history is best-effort; a failed write never fails the analysis
	if err := s.recorder.SaveAnalysis(record, result.Posts); err != nil {
		s.log.WithError(err).WithField("analysis_id", record.ID).Error("Failed to save analysis history")
	}
}
