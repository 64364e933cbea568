package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-po-approvals/internal/logger"
	"github.com/pesio-ai/be-po-approvals/internal/service"
)

func TestEventPublisher_NilConnDropsEvents(t *testing.T) {
	p := NewEventPublisher(nil, "po", logger.Nop().Logger)

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), service.Event{
			Type:    service.EventOrderApproved,
			OrderID: "o-1",
			ActorID: "head-site",
		})
	})
}
