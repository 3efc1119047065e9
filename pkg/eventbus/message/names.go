package message

// Event groups emitted by the host application.
const (
	GroupCore     = "n8n.core"
	GroupWorkflow = "n8n.workflow"
	GroupNodes    = "n8n.nodes"
	GroupUI       = "n8n.ui"
)

// NameBusInitialized is published by the bus at the start of every
// initialization cycle.
const NameBusInitialized = "n8n.core.eventBusInitialized"
