package validator

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	playground "github.com/go-playground/validator/v10"

	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/db"
	"github.com/septivank/meter-reading-service/tools/timeparser"
)

const (
	// MinImageLength is the minimum size of the base64 payload and of the decoded image
	MinImageLength = 100
	// DefaultMaxBase64Length is the default upper bound for the base64 payload
	DefaultMaxBase64Length = 10 * 1024 * 1024
)

var (
	customerCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	nonBase64Chars      = regexp.MustCompile(`[^A-Za-z0-9+/=]`)
	base64Shape         = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)
)

// SupportedMimeTypes is the image allow-list
var SupportedMimeTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

// Submission is an upload request as received
type Submission struct {
	Contents        []Content
	Image           string // data URI shorthand for a single inline image
	CustomerCode    string
	MeasureDatetime string
	MeasureType     string
}

// Content groups the parts of one multi-part message
type Content struct {
	Parts []Part
}

// Part carries either free text or an inline image
type Part struct {
	Text       string
	InlineData *InlineData
}

// InlineData is a MIME-typed base64 payload
type InlineData struct {
	MimeType string
	Data     string
}

// Image is a decoded, allow-listed image
type Image struct {
	MimeType string
	Data     []byte
}

// ValidSubmission is a normalized submission ready for the lifecycle
type ValidSubmission struct {
	CustomerCode string
	MeasureType  db.MeasureType
	// MeasureDatetime is nil when the client did not send one
	MeasureDatetime *time.Time
	Image           Image
}

// ConfirmRequest is a confirmation request as received
type ConfirmRequest struct {
	MeasureUUID    string   `json:"measure_uuid" validate:"required,uuid"`
	ConfirmedValue *float64 `json:"confirmed_value" validate:"required,gt=0"`
	ConfirmedBy    string   `json:"confirmed_by" validate:"required,min=3,max=255"`
}

// Validator handles submission validation with configurable parameters
type Validator struct {
	maxBase64Length int
	validate        *playground.Validate
}

// NewValidator creates a new validator with the specified payload limit
func NewValidator(maxBase64Length int) *Validator {
	if maxBase64Length <= 0 {
		maxBase64Length = DefaultMaxBase64Length
	}

	validate := playground.New(playground.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("customercode", func(fl playground.FieldLevel) bool {
		return customerCodePattern.MatchString(fl.Field().String())
	})

	return &Validator{
		maxBase64Length: maxBase64Length,
		validate:        validate,
	}
}

// ValidateSubmission checks a submission and decodes its image.
// It has no side effects.
func (v *Validator) ValidateSubmission(sub Submission) (*ValidSubmission, error) {
	parts := imageParts(sub)

	var missing []string
	if strings.TrimSpace(sub.CustomerCode) == "" {
		missing = append(missing, "customer_code")
	}
	if strings.TrimSpace(sub.MeasureType) == "" {
		missing = append(missing, "measure_type")
	}
	if len(parts) == 0 {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return nil, apperr.MissingFields(missing...)
	}

	if err := v.validate.Var(sub.CustomerCode, "min=3,max=50,customercode"); err != nil {
		return nil, apperr.New(apperr.KindInvalidCustomerCode,
			"customer_code must be 3-50 characters of letters, digits, '_' or '-'")
	}

	measureType, ok := db.ParseMeasureType(sub.MeasureType)
	if !ok {
		return nil, apperr.New(apperr.KindInvalidMeasureType,
			"measure_type must be one of: %s, %s", db.MeasureTypeWater, db.MeasureTypeGas)
	}

	var measureDatetime *time.Time
	if strings.TrimSpace(sub.MeasureDatetime) != "" {
		t, err := timeparser.ParseReadingTimestamp(sub.MeasureDatetime)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidDateTime, err,
				"measure_datetime must be an ISO 8601 timestamp")
		}
		measureDatetime = &t
	}

	// every inline image is checked; the first one is analyzed
	var image *Image
	for _, p := range parts {
		img, err := v.decodeInlineData(*p.InlineData)
		if err != nil {
			return nil, err
		}
		if image == nil {
			image = img
		}
	}

	return &ValidSubmission{
		CustomerCode:    sub.CustomerCode,
		MeasureType:     measureType,
		MeasureDatetime: measureDatetime,
		Image:           *image,
	}, nil
}

// ValidateConfirmation trims the request and checks its shape. The returned
// copy is what gets stored.
func (v *Validator) ValidateConfirmation(req ConfirmRequest) (ConfirmRequest, error) {
	req.MeasureUUID = strings.TrimSpace(req.MeasureUUID)
	req.ConfirmedBy = strings.TrimSpace(req.ConfirmedBy)

	err := v.validate.Struct(req)
	if err == nil {
		return req, nil
	}

	validationErrors, ok := err.(playground.ValidationErrors)
	if !ok {
		return req, apperr.Wrap(apperr.KindInvalidRequest, err, "invalid confirmation request")
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, jsonFieldName(fe.StructField()))
	}

	appErr := apperr.New(apperr.KindInvalidRequest, "invalid fields: %s", strings.Join(fields, ", "))
	appErr.Fields = fields
	return req, appErr
}

// NormalizeBase64 strips a data-URI prefix and every character outside the
// base64 alphabet
func NormalizeBase64(data string) string {
	if idx := strings.Index(data, ","); idx >= 0 {
		data = data[idx+1:]
	}
	return nonBase64Chars.ReplaceAllString(strings.TrimSpace(data), "")
}

func (v *Validator) decodeInlineData(inline InlineData) (*Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(inline.MimeType))
	if !isSupportedMimeType(mimeType) {
		return nil, apperr.New(apperr.KindUnsupportedMimeType,
			"unsupported image type %q, use: %s", inline.MimeType, strings.Join(SupportedMimeTypes, ", "))
	}

	pure := NormalizeBase64(inline.Data)

	if len(pure) < MinImageLength {
		return nil, apperr.New(apperr.KindImageTooSmall,
			"base64 payload too short (minimum %d characters)", MinImageLength)
	}
	if len(pure) > v.maxBase64Length {
		return nil, apperr.New(apperr.KindImageTooLarge,
			"base64 payload too long (maximum %d characters)", v.maxBase64Length)
	}
	if !base64Shape.MatchString(pure) {
		return nil, apperr.New(apperr.KindInvalidEncoding, "invalid base64 format")
	}

	decoded, err := base64.StdEncoding.DecodeString(fixPadding(pure))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidEncoding, err, "invalid base64 image data")
	}
	if len(decoded) < MinImageLength {
		return nil, apperr.New(apperr.KindImageTooSmall,
			"decoded image too small (minimum %d bytes)", MinImageLength)
	}

	return &Image{MimeType: mimeType, Data: decoded}, nil
}

// imageParts collects the image-bearing parts, the data URI shorthand first
func imageParts(sub Submission) []Part {
	var parts []Part
	if strings.TrimSpace(sub.Image) != "" {
		parts = append(parts, Part{InlineData: &InlineData{
			MimeType: mimeFromDataURI(sub.Image),
			Data:     sub.Image,
		}})
	}
	for _, c := range sub.Contents {
		for _, p := range c.Parts {
			if p.InlineData != nil {
				parts = append(parts, p)
			}
		}
	}
	return parts
}

// mimeFromDataURI reads the MIME type of "data:image/png;base64,..." and
// falls back to JPEG when there is no prefix
func mimeFromDataURI(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return "image/jpeg"
	}
	header := strings.TrimPrefix(s, "data:")
	if idx := strings.IndexAny(header, ";,"); idx >= 0 {
		header = header[:idx]
	}
	return header
}

func isSupportedMimeType(mimeType string) bool {
	for _, m := range SupportedMimeTypes {
		if m == mimeType {
			return true
		}
	}
	return false
}

func fixPadding(s string) string {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

func jsonFieldName(structField string) string {
	switch structField {
	case "MeasureUUID":
		return "measure_uuid"
	case "ConfirmedValue":
		return "confirmed_value"
	case "ConfirmedBy":
		return "confirmed_by"
	default:
		return structField
	}
}
