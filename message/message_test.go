package message

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"polygate/status"
)

func TestEnvelopeErr(t *testing.T) {
	ok := &Envelope{Operation: "ProductService.List", Payload: []byte(`{"items":[]}`)}
	assert.Nil(t, ok.Err())

	explicitOK := &Envelope{Failure: &Failure{Code: status.OK}}
	assert.Nil(t, explicitOK.Err())

	failed := Fail("ProductService.GetById", status.New(status.NotFound, "product 9 not found"))
	assert.Empty(t, failed.Payload)
	err := failed.Err()
	if assert.NotNil(t, err) {
		assert.Equal(t, status.NotFound, err.Code)
		assert.Equal(t, "product 9 not found", err.Detail)
	}
}
