package validator_test

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/db"
	"github.com/septivank/meter-reading-service/internal/validator"
)

func meterPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 150, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 150; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7 % 256), G: uint8(y * 13 % 256), B: uint8((x ^ y) % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pngSubmission(t *testing.T) (validator.Submission, []byte) {
	raw := meterPNG(t)
	return validator.Submission{
		Contents: []validator.Content{{Parts: []validator.Part{
			{Text: "photo of the kitchen meter"},
			{InlineData: &validator.InlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(raw)}},
		}}},
		CustomerCode:    "cliente-1",
		MeasureDatetime: "2024-05-20T14:30:00Z",
		MeasureType:     "WATER",
	}, raw
}

func TestValidateSubmission_ValidData(t *testing.T) {
	v := validator.NewValidator(0)
	sub, raw := pngSubmission(t)

	result, err := v.ValidateSubmission(sub)

	require.NoError(t, err)
	assert.Equal(t, "cliente-1", result.CustomerCode)
	assert.Equal(t, db.MeasureTypeWater, result.MeasureType)
	require.NotNil(t, result.MeasureDatetime)
	assert.Equal(t, 2024, result.MeasureDatetime.Year())
	assert.Equal(t, "image/png", result.Image.MimeType)
	assert.Equal(t, raw, result.Image.Data)
}

func TestValidateSubmission_DatetimeOptional(t *testing.T) {
	v := validator.NewValidator(0)
	sub, _ := pngSubmission(t)
	sub.MeasureDatetime = ""

	result, err := v.ValidateSubmission(sub)

	require.NoError(t, err)
	assert.Nil(t, result.MeasureDatetime)
}

func TestValidateSubmission_DataURIShorthand(t *testing.T) {
	v := validator.NewValidator(0)
	raw := meterPNG(t)

	result, err := v.ValidateSubmission(validator.Submission{
		Image:        "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
		CustomerCode: "cliente-1",
		MeasureType:  "GAS",
	})

	require.NoError(t, err)
	assert.Equal(t, "image/png", result.Image.MimeType)
	assert.Equal(t, db.MeasureTypeGas, result.MeasureType)
	assert.Equal(t, raw, result.Image.Data)
}

func TestValidateSubmission_MissingFields(t *testing.T) {
	v := validator.NewValidator(0)

	_, err := v.ValidateSubmission(validator.Submission{CustomerCode: "  "})

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindMissingField, appErr.Kind)
	assert.Equal(t, []string{"customer_code", "measure_type", "image"}, appErr.Fields)
}

func TestValidateSubmission_TextOnlyPartsAreMissingImage(t *testing.T) {
	v := validator.NewValidator(0)

	_, err := v.ValidateSubmission(validator.Submission{
		Contents:     []validator.Content{{Parts: []validator.Part{{Text: "hello"}}}},
		CustomerCode: "cliente-1",
		MeasureType:  "WATER",
	})

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"image"}, appErr.Fields)
}

func TestValidateSubmission_InvalidCustomerCode(t *testing.T) {
	v := validator.NewValidator(0)

	for _, code := range []string{"ab", "cliente 1", "cliente@1", strings.Repeat("a", 51)} {
		sub, _ := pngSubmission(t)
		sub.CustomerCode = code

		_, err := v.ValidateSubmission(sub)

		assert.Equal(t, apperr.KindInvalidCustomerCode, apperr.KindOf(err), code)
	}
}

func TestValidateSubmission_CustomerCodeBoundaries(t *testing.T) {
	v := validator.NewValidator(0)

	for _, code := range []string{"abc", "A_b-9", strings.Repeat("z", 50)} {
		sub, _ := pngSubmission(t)
		sub.CustomerCode = code

		_, err := v.ValidateSubmission(sub)

		assert.NoError(t, err, code)
	}
}

func TestValidateSubmission_InvalidMeasureType(t *testing.T) {
	v := validator.NewValidator(0)

	for _, mt := range []string{"water", "ELECTRICITY", "GAS "} {
		sub, _ := pngSubmission(t)
		sub.MeasureType = mt

		_, err := v.ValidateSubmission(sub)

		assert.Equal(t, apperr.KindInvalidMeasureType, apperr.KindOf(err), mt)
	}
}

func TestValidateSubmission_InvalidDatetime(t *testing.T) {
	v := validator.NewValidator(0)
	sub, _ := pngSubmission(t)
	sub.MeasureDatetime = "20/05/2024"

	_, err := v.ValidateSubmission(sub)

	assert.Equal(t, apperr.KindInvalidDateTime, apperr.KindOf(err))
}

func TestValidateSubmission_UnsupportedMimeType(t *testing.T) {
	v := validator.NewValidator(0)
	sub, _ := pngSubmission(t)
	sub.Contents[0].Parts[1].InlineData.MimeType = "image/bmp"

	_, err := v.ValidateSubmission(sub)

	assert.Equal(t, apperr.KindUnsupportedMimeType, apperr.KindOf(err))
}

func TestValidateSubmission_ShortPayload(t *testing.T) {
	v := validator.NewValidator(0)
	sub, _ := pngSubmission(t)
	sub.Contents[0].Parts[1].InlineData.Data = "iVBORw0KGgo="

	_, err := v.ValidateSubmission(sub)

	assert.Equal(t, apperr.KindImageTooSmall, apperr.KindOf(err))
}

func TestValidateSubmission_DecodedTooSmall(t *testing.T) {
	v := validator.NewValidator(0)
	sub, _ := pngSubmission(t)
	// 100 base64 characters decode to 75 bytes
	sub.Contents[0].Parts[1].InlineData.Data = strings.Repeat("A", 100)

	_, err := v.ValidateSubmission(sub)

	assert.Equal(t, apperr.KindImageTooSmall, apperr.KindOf(err))
}

func TestValidateSubmission_TooLarge(t *testing.T) {
	v := validator.NewValidator(200)
	sub, _ := pngSubmission(t)

	_, err := v.ValidateSubmission(sub)

	assert.Equal(t, apperr.KindImageTooLarge, apperr.KindOf(err))
}

func TestValidateSubmission_InvalidEncoding(t *testing.T) {
	v := validator.NewValidator(0)
	sub, _ := pngSubmission(t)
	// padding in the middle survives the alphabet filter but is not base64
	sub.Contents[0].Parts[1].InlineData.Data = strings.Repeat("A", 60) + "==" + strings.Repeat("B", 60)

	_, err := v.ValidateSubmission(sub)

	assert.Equal(t, apperr.KindInvalidEncoding, apperr.KindOf(err))
}

func TestValidateSubmission_MissingPaddingIsRepaired(t *testing.T) {
	v := validator.NewValidator(0)
	sub, raw := pngSubmission(t)
	sub.Contents[0].Parts[1].InlineData.Data = base64.RawStdEncoding.EncodeToString(raw)

	result, err := v.ValidateSubmission(sub)

	require.NoError(t, err)
	assert.Equal(t, raw, result.Image.Data)
}

func TestValidateSubmission_SameErrorKindTwice(t *testing.T) {
	v := validator.NewValidator(0)
	sub, _ := pngSubmission(t)
	sub.MeasureType = "ELECTRICITY"

	_, first := v.ValidateSubmission(sub)
	_, second := v.ValidateSubmission(sub)

	assert.Equal(t, apperr.KindOf(first), apperr.KindOf(second))
	assert.Equal(t, apperr.KindInvalidMeasureType, apperr.KindOf(second))
}

func TestValidateSubmission_DataURIPrefixNormalizesToSameBytes(t *testing.T) {
	v := validator.NewValidator(0)
	withPrefix, raw := pngSubmission(t)
	withoutPrefix, _ := pngSubmission(t)

	encoded := base64.StdEncoding.EncodeToString(raw)
	withPrefix.Contents[0].Parts[1].InlineData.Data = "data:image/png;base64," + encoded
	withoutPrefix.Contents[0].Parts[1].InlineData.Data = encoded

	a, err := v.ValidateSubmission(withPrefix)
	require.NoError(t, err)
	b, err := v.ValidateSubmission(withoutPrefix)
	require.NoError(t, err)

	assert.Equal(t, a.Image.Data, b.Image.Data)
	assert.Equal(t, raw, a.Image.Data)
}

func TestNormalizeBase64_StripsNoise(t *testing.T) {
	assert.Equal(t, "QUJD", validator.NormalizeBase64("data:image/png;base64, QU\nJ D\t"))
	assert.Equal(t, "QUJD", validator.NormalizeBase64("QUJD"))
}

func TestValidateConfirmation_Valid(t *testing.T) {
	v := validator.NewValidator(0)
	value := 130.5

	req, err := v.ValidateConfirmation(validator.ConfirmRequest{
		MeasureUUID:    uuid.New().String(),
		ConfirmedValue: &value,
		ConfirmedBy:    "operator-7",
	})

	assert.NoError(t, err)
	assert.Equal(t, "operator-7", req.ConfirmedBy)
}

func TestValidateConfirmation_TrimsConfirmedBy(t *testing.T) {
	v := validator.NewValidator(0)
	value := 130.5
	id := uuid.New().String()

	req, err := v.ValidateConfirmation(validator.ConfirmRequest{
		MeasureUUID:    "  " + id + " ",
		ConfirmedValue: &value,
		ConfirmedBy:    "  operator-7\t",
	})

	require.NoError(t, err)
	assert.Equal(t, id, req.MeasureUUID)
	assert.Equal(t, "operator-7", req.ConfirmedBy)
}

func TestValidateConfirmation_BlankOrShortAfterTrim(t *testing.T) {
	v := validator.NewValidator(0)
	value := 130.5

	for _, by := range []string{"", "     ", "  ab", "\tx \n"} {
		_, err := v.ValidateConfirmation(validator.ConfirmRequest{
			MeasureUUID:    uuid.New().String(),
			ConfirmedValue: &value,
			ConfirmedBy:    by,
		})

		appErr, ok := apperr.As(err)
		require.True(t, ok, "%q", by)
		assert.Equal(t, "INVALID_DATA", appErr.Kind.Code())
		assert.Equal(t, []string{"confirmed_by"}, appErr.Fields, "%q", by)
	}
}

func TestValidateConfirmation_InvalidFields(t *testing.T) {
	v := validator.NewValidator(0)
	value := -1.0

	_, err := v.ValidateConfirmation(validator.ConfirmRequest{
		MeasureUUID:    "not-a-uuid",
		ConfirmedValue: &value,
		ConfirmedBy:    "ab",
	})

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidRequest, appErr.Kind)
	assert.ElementsMatch(t, []string{"measure_uuid", "confirmed_value", "confirmed_by"}, appErr.Fields)
}

func TestValidateConfirmation_MissingValue(t *testing.T) {
	v := validator.NewValidator(0)

	_, err := v.ValidateConfirmation(validator.ConfirmRequest{
		MeasureUUID: uuid.New().String(),
		ConfirmedBy: "operator-7",
	})

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"confirmed_value"}, appErr.Fields)
}
