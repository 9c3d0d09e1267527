package analyzer

import (
	"context"
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/septivank/meter-reading-service/internal/apperr"
)

// Instruction is the fixed prompt sent with every meter photo
const Instruction = `This is a photo of a water or gas meter.
Carefully read the digits shown on the display.
Return ONLY the numeric reading, without units or any other text.
Expected format: 1234.56
Reading:`

var nonNumericChars = regexp.MustCompile(`[^\d.,]`)

// Request is one image-understanding call
type Request struct {
	Instruction string
	MimeType    string
	Image       []byte
}

// Provider is the external image-understanding service
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Bounds is the inclusive range of plausible readings
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds accepts readings in [0, 99999]
var DefaultBounds = Bounds{Min: 0, Max: 99999}

// Analyzer turns meter photos into numeric readings
type Analyzer struct {
	provider Provider
	bounds   Bounds
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAnalyzer creates an analyzer. A zero timeout leaves the caller's
// deadline in charge.
func NewAnalyzer(provider Provider, bounds Bounds, timeout time.Duration, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		provider: provider,
		bounds:   bounds,
		timeout:  timeout,
		logger:   logger,
	}
}

// Analyze asks the provider for the reading shown in the image.
// It performs no retries.
func (a *Analyzer) Analyze(ctx context.Context, mimeType string, image []byte) (float64, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	a.logger.Debug("sending image to provider",
		zap.String("mime_type", mimeType),
		zap.Int("image_bytes", len(image)),
	)

	text, err := a.provider.Generate(ctx, Request{
		Instruction: Instruction,
		MimeType:    mimeType,
		Image:       image,
	})
	if err != nil {
		translated := translateProviderError(ctx, err)
		a.logger.Warn("provider call failed",
			zap.Error(err),
			zap.String("error_code", apperr.KindOf(translated).Code()),
		)
		return 0, translated
	}

	a.logger.Debug("provider response received", zap.String("text", text))

	value, err := ParseReading(text)
	if err != nil {
		return 0, err
	}

	if value < a.bounds.Min || value > a.bounds.Max {
		return 0, apperr.New(apperr.KindValueOutOfRange,
			"reading %v is outside the plausible range [%v, %v]", value, a.bounds.Min, a.bounds.Max)
	}

	return value, nil
}

// ParseReading extracts a number from free-form provider text.
// Commas count as decimal separators and only the last separator is kept.
func ParseReading(text string) (float64, error) {
	cleaned := nonNumericChars.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, apperr.Unparsable(text)
	}

	return value, nil
}

// translateProviderError maps provider failures onto the error taxonomy
func translateProviderError(ctx context.Context, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return apperr.Wrap(apperr.KindProviderUnavailable, err, "image analysis provider timed out")
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return byStatus(apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return byStatus(reqErr.HTTPStatusCode, err)
	}

	return apperr.Wrap(apperr.KindProviderUnavailable, err, "image analysis provider unavailable")
}

func byStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperr.Wrap(apperr.KindRateLimited, err, "image analysis provider rate limit reached, retry later")
	case status == http.StatusBadRequest,
		status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnsupportedMediaType,
		status == http.StatusUnprocessableEntity:
		return apperr.Wrap(apperr.KindInvalidImage, err, "image rejected by analysis provider")
	default:
		return apperr.Wrap(apperr.KindProviderUnavailable, err, "image analysis provider unavailable")
	}
}
