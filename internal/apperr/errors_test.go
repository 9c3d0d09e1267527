package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_HTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindMissingField:        http.StatusBadRequest,
		KindInvalidEncoding:     http.StatusBadRequest,
		KindInvalidImage:        http.StatusBadRequest,
		KindValueOutOfTolerance: http.StatusBadRequest,
		KindMeasureNotFound:     http.StatusNotFound,
		KindMeasuresNotFound:    http.StatusNotFound,
		KindDuplicateMeasure:    http.StatusConflict,
		KindAlreadyConfirmed:    http.StatusConflict,
		KindRateLimited:         http.StatusTooManyRequests,
		KindProviderUnavailable: http.StatusServiceUnavailable,
		KindPersistence:         http.StatusInternalServerError,
		KindInternal:            http.StatusInternalServerError,
	}

	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), kind.Code())
	}
}

func TestKind_CodesAreUnique(t *testing.T) {
	seen := make(map[string]Kind)
	for k := KindInternal; k <= KindPersistence; k++ {
		code := k.Code()
		prev, dup := seen[code]
		assert.False(t, dup, "code %s used by %d and %d", code, prev, k)
		seen[code] = k
	}
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindRateLimited.Retryable())
	assert.True(t, KindProviderUnavailable.Retryable())
	assert.False(t, KindInvalidImage.Retryable())
	assert.False(t, KindDuplicateMeasure.Retryable())
}

func TestKindOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("upload failed: %w", Duplicate("abc"))

	assert.Equal(t, KindDuplicateMeasure, KindOf(err))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "abc", appErr.MeasureUUID)
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestErrorsIs_MatchesByKind(t *testing.T) {
	err := Wrap(KindPersistence, errors.New("conn reset"), "insert measure")

	assert.True(t, errors.Is(err, &Error{Kind: KindPersistence}))
	assert.False(t, errors.Is(err, &Error{Kind: KindInternal}))
}

func TestMissingFields_ListsFields(t *testing.T) {
	err := MissingFields("customer_code", "measure_type")

	assert.Equal(t, []string{"customer_code", "measure_type"}, err.Fields)
	assert.Contains(t, err.Error(), "customer_code, measure_type")
}
