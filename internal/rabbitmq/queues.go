package rabbitmq

// Ключи маршрутизации изменений тарифа.
const (
	RoutingKeyPlanActivated   = "plan.activated"
	RoutingKeyPlanDeactivated = "plan.deactivated"
)

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetPlanChangeQueues возвращает очереди, получающие все изменения тарифов.
func GetPlanChangeQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "billing.plan_changes", RoutingKey: "plan.*"},
	}
}
