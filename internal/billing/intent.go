package billing

// IntentKind вид канонического намерения.
type IntentKind int

const (
	// IntentIgnore событие не меняет тариф.
	IntentIgnore IntentKind = iota
	// IntentActivate у пользователя есть оплаченная подписка.
	IntentActivate
	// IntentDeactivate подписка пользователя удалена.
	IntentDeactivate
)

func (k IntentKind) String() string {
	switch k {
	case IntentActivate:
		return "activate"
	case IntentDeactivate:
		return "deactivate"
	default:
		return "ignore"
	}
}

// Intent результат нормализации события. Не сохраняется.
type Intent struct {
	Kind           IntentKind
	UserUID        string
	SubscriptionID string
	CustomerID     string
	EventType      string
	Reason         string // почему событие проигнорировано
}

// Activate создаёт намерение выдать тариф.
func Activate(userUID, subscriptionID, customerID string) Intent {
	return Intent{
		Kind:           IntentActivate,
		UserUID:        userUID,
		SubscriptionID: subscriptionID,
		CustomerID:     customerID,
	}
}

// Deactivate создаёт намерение снять тариф.
func Deactivate(userUID string) Intent {
	return Intent{Kind: IntentDeactivate, UserUID: userUID}
}

// Ignore создаёт пустое намерение с причиной для журнала.
func Ignore(reason string) Intent {
	return Intent{Kind: IntentIgnore, Reason: reason}
}
