package enum

type ActivityEventType string

const (
	ActivityIntegrationConnected   ActivityEventType = "integration.connected"
	ActivityIntegrationRefreshed   ActivityEventType = "integration.refreshed"
	ActivityIntegrationDeactivated ActivityEventType = "integration.deactivated"
	ActivityInboxItemsReceived     ActivityEventType = "inbox.items_received"
)

func (t ActivityEventType) String() string {
	return string(t)
}
