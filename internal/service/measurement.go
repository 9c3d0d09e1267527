package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/meter-reading-service/internal/anomaly"
	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/config"
	"github.com/septivank/meter-reading-service/internal/db"
	"github.com/septivank/meter-reading-service/internal/logging"
	"github.com/septivank/meter-reading-service/internal/metrics"
	"github.com/septivank/meter-reading-service/internal/mq"
	"github.com/septivank/meter-reading-service/internal/repository"
	"github.com/septivank/meter-reading-service/internal/validator"
	"github.com/septivank/meter-reading-service/tools/timeparser"
)

// Store is the transactional measurement store
type Store interface {
	InTx(ctx context.Context, fn func(q repository.Queries) error) error
	ListByCustomer(ctx context.Context, customerCode string, measureType *db.MeasureType) ([]db.Measure, error)
}

// ImageAnalyzer extracts a reading from a meter photo
type ImageAnalyzer interface {
	Analyze(ctx context.Context, mimeType string, image []byte) (float64, error)
}

// SubmitResult is the outcome of an accepted upload
type SubmitResult struct {
	MeasureUUID  uuid.UUID
	MeasureValue float64
	ImageURL     string
}

// ConfirmResult is the outcome of an accepted confirmation
type ConfirmResult struct {
	MeasureUUID      uuid.UUID
	PreviousValue    float64
	ConfirmedValue   float64
	ConfirmationDate time.Time
}

// MeasurementService runs the measurement lifecycle: upload, confirmation and listing
type MeasurementService struct {
	store     Store
	analyzer  ImageAnalyzer
	publisher mq.EventPublisher
	validator *validator.Validator
	detector  *anomaly.Detector
	metrics   *metrics.Metrics
	cfg       *config.Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewMeasurementService creates a new measurement service
func NewMeasurementService(
	store Store,
	analyzer ImageAnalyzer,
	publisher mq.EventPublisher,
	validator *validator.Validator,
	detector *anomaly.Detector,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *MeasurementService {
	if publisher == nil {
		publisher = mq.NopPublisher{}
	}

	return &MeasurementService{
		store:     store,
		analyzer:  analyzer,
		publisher: publisher,
		validator: validator,
		detector:  detector,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit validates an upload, rejects a second reading for the same
// customer, type and month, analyzes the image and stores the result.
func (s *MeasurementService) Submit(ctx context.Context, sub validator.Submission) (*SubmitResult, error) {
	reqLogger := logging.FromContext(ctx, s.logger)

	valid, err := s.validator.ValidateSubmission(sub)
	if err != nil {
		s.metrics.ObserveSubmission(sub.MeasureType, outcomeOf(err))
		reqLogger.Info("submission rejected",
			zap.String("error_code", apperr.KindOf(err).Code()),
			zap.Error(err),
		)
		return nil, err
	}

	measureDatetime := s.now().UTC()
	if valid.MeasureDatetime != nil {
		measureDatetime = valid.MeasureDatetime.UTC()
	}
	period := timeparser.PeriodOf(measureDatetime)

	reqLogger = reqLogger.With(
		zap.String("customer_code", valid.CustomerCode),
		zap.String("measure_type", string(valid.MeasureType)),
		zap.String("period", period.Format("2006-01")),
	)
	reqLogger.Info("processing submission", zap.Int("image_bytes", len(valid.Image.Data)))

	var created *db.Measure
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.LockPeriod(ctx, valid.CustomerCode, valid.MeasureType, period); err != nil {
			return err
		}

		existing, err := q.FindActiveByPeriod(ctx, valid.CustomerCode, valid.MeasureType, period)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Duplicate(existing.UUID.String())
		}

		value, err := s.analyze(ctx, valid.Image)
		if err != nil {
			return err
		}

		id := uuid.New()
		measure := &db.Measure{
			UUID:            id,
			CustomerCode:    valid.CustomerCode,
			MeasureType:     valid.MeasureType,
			MeasureDatetime: measureDatetime,
			MeasurePeriod:   period,
			InitialValue:    value,
			ImageURL:        s.imageURL(id, valid.Image.MimeType),
			CreatedAt:       s.now().UTC(),
		}
		if err := q.Insert(ctx, measure); err != nil {
			return err
		}

		created = measure
		return nil
	})
	if err != nil {
		s.metrics.ObserveSubmission(string(valid.MeasureType), outcomeOf(err))
		logFailure(reqLogger, "submission failed", err)
		return nil, err
	}

	s.metrics.ObserveSubmission(string(created.MeasureType), metrics.OutcomeSuccess)
	reqLogger.Info("measure created",
		zap.String("measure_uuid", created.UUID.String()),
		zap.Float64("initial_value", created.InitialValue),
	)

	// Publish after commit; a failed publish never fails the request
	event := mq.MeasureCreatedEvent{
		MeasureUUID:     created.UUID.String(),
		CustomerCode:    created.CustomerCode,
		MeasureType:     string(created.MeasureType),
		MeasureDatetime: created.MeasureDatetime,
		InitialValue:    created.InitialValue,
		ImageURL:        created.ImageURL,
	}
	if err := s.publisher.Publish(ctx, s.cfg.RabbitMQ.CreatedRoutingKey, event); err != nil {
		reqLogger.Error("failed to publish event",
			zap.Error(err),
			zap.String("measure_uuid", event.MeasureUUID),
		)
	}

	return &SubmitResult{
		MeasureUUID:  created.UUID,
		MeasureValue: created.InitialValue,
		ImageURL:     created.ImageURL,
	}, nil
}

// Confirm attaches a human-verified value to an unconfirmed measure.
// A measure can be confirmed once.
func (s *MeasurementService) Confirm(ctx context.Context, req validator.ConfirmRequest) (*ConfirmResult, error) {
	reqLogger := logging.FromContext(ctx, s.logger)

	req, err := s.validator.ValidateConfirmation(req)
	if err != nil {
		s.metrics.ObserveConfirmation(outcomeOf(err))
		reqLogger.Info("confirmation rejected", zap.Error(err))
		return nil, err
	}

	id, err := uuid.Parse(req.MeasureUUID)
	if err != nil {
		appErr := apperr.Wrap(apperr.KindInvalidRequest, err, "invalid fields: measure_uuid")
		appErr.Fields = []string{"measure_uuid"}
		s.metrics.ObserveConfirmation(outcomeOf(appErr))
		return nil, appErr
	}
	confirmedValue := *req.ConfirmedValue
	confirmedBy := req.ConfirmedBy

	reqLogger = reqLogger.With(zap.String("measure_uuid", id.String()))

	var result *ConfirmResult
	var confirmed *db.Measure
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		measure, err := q.FindByUUID(ctx, id, true)
		if err != nil {
			return err
		}
		if measure == nil {
			return apperr.New(apperr.KindMeasureNotFound, "measure %s not found", id)
		}
		if measure.IsConfirmed {
			return apperr.New(apperr.KindAlreadyConfirmed, "measure %s has already been confirmed", id)
		}

		if isAnomaly, reason := s.detector.DetectDeviation(measure.InitialValue, confirmedValue); isAnomaly {
			return apperr.New(apperr.KindValueOutOfTolerance, "%s", reason)
		}

		confirmedAt := s.now().UTC()
		if err := q.Confirm(ctx, id, confirmedValue, confirmedBy, confirmedAt); err != nil {
			return err
		}

		result = &ConfirmResult{
			MeasureUUID:      id,
			PreviousValue:    measure.InitialValue,
			ConfirmedValue:   confirmedValue,
			ConfirmationDate: confirmedAt,
		}
		confirmed = measure
		return nil
	})
	if err != nil {
		s.metrics.ObserveConfirmation(outcomeOf(err))
		logFailure(reqLogger, "confirmation failed", err)
		return nil, err
	}

	s.metrics.ObserveConfirmation(metrics.OutcomeSuccess)
	reqLogger.Info("measure confirmed",
		zap.Float64("previous_value", result.PreviousValue),
		zap.Float64("confirmed_value", result.ConfirmedValue),
		zap.String("confirmed_by", confirmedBy),
	)

	event := mq.MeasureConfirmedEvent{
		MeasureUUID:      id.String(),
		CustomerCode:     confirmed.CustomerCode,
		MeasureType:      string(confirmed.MeasureType),
		PreviousValue:    result.PreviousValue,
		ConfirmedValue:   result.ConfirmedValue,
		ConfirmedBy:      confirmedBy,
		ConfirmationDate: result.ConfirmationDate,
	}
	if err := s.publisher.Publish(ctx, s.cfg.RabbitMQ.ConfirmedRoutingKey, event); err != nil {
		reqLogger.Error("failed to publish event",
			zap.Error(err),
			zap.String("measure_uuid", event.MeasureUUID),
		)
	}

	return result, nil
}

// List returns a customer's measures, optionally filtered by type.
// The type filter is case-insensitive.
func (s *MeasurementService) List(ctx context.Context, customerCode, measureType string) ([]db.Measure, error) {
	var filter *db.MeasureType
	if strings.TrimSpace(measureType) != "" {
		parsed, ok := db.ParseMeasureType(strings.ToUpper(strings.TrimSpace(measureType)))
		if !ok {
			return nil, apperr.New(apperr.KindInvalidMeasureType,
				"measure_type must be one of: %s, %s", db.MeasureTypeWater, db.MeasureTypeGas)
		}
		filter = &parsed
	}

	measures, err := s.store.ListByCustomer(ctx, customerCode, filter)
	if err != nil {
		logFailure(logging.FromContext(ctx, s.logger), "listing failed", err)
		return nil, err
	}
	if len(measures) == 0 {
		return nil, apperr.New(apperr.KindMeasuresNotFound, "no measures found for customer %s", customerCode)
	}

	return measures, nil
}

func (s *MeasurementService) analyze(ctx context.Context, image validator.Image) (float64, error) {
	start := time.Now()
	value, err := s.analyzer.Analyze(ctx, image.MimeType, image.Data)
	s.metrics.ObserveAnalysis(outcomeOf(err), time.Since(start))
	return value, err
}

func (s *MeasurementService) imageURL(id uuid.UUID, mimeType string) string {
	return s.cfg.Image.BaseURL + "/" + id.String() + "." + extensionOf(mimeType)
}

func extensionOf(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	return apperr.KindOf(err).Code()
}

// logFailure logs expected rejections at info and everything else at error
func logFailure(logger *zap.Logger, msg string, err error) {
	kind := apperr.KindOf(err)
	fields := []zap.Field{
		zap.String("error_code", kind.Code()),
		zap.Bool("retryable", kind.Retryable()),
		zap.Error(err),
	}
	if kind.HTTPStatus() >= 500 {
		logger.Error(msg, fields...)
		return
	}
	logger.Info(msg, fields...)
}
