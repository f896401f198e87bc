package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown := Setup(Config{ServiceName: "queue-service"}, zap.NewNop())
	assert.NoError(t, shutdown(context.Background()))
}
