package orchestrator

import (
	"github.com/dohr-michael/chatflow/internal/flow"
	"github.com/dohr-michael/chatflow/internal/realtime"
	"github.com/dohr-michael/chatflow/internal/store"
)

var (
	_ Store       = (*store.Store)(nil)
	_ Broadcaster = (*realtime.Hub)(nil)
	_ FlowEngine  = (*flow.Engine)(nil)
)
