package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCollaboratorErr_CanceledContextIsShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := classifyCollaboratorErr(ctx, "upload", fmt.Errorf("boom"))

	var pe *Error
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, Shutdown, pe.Kind)
}

func TestClassifyCollaboratorErr_WrappedCanceledIsShutdown(t *testing.T) {
	err := classifyCollaboratorErr(context.Background(), "upload", fmt.Errorf("call: %w", context.Canceled))

	var pe *Error
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, Shutdown, pe.Kind)
}

func TestClassifyCollaboratorErr_OrdinaryErrorIsCollaboratorIO(t *testing.T) {
	err := classifyCollaboratorErr(context.Background(), "upload", errors.New("connection refused"))

	var pe *Error
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, CollaboratorIO, pe.Kind)
}
