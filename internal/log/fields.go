package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldBillID      = "bill_id"
	FieldTempID      = "temp_id"
	FieldFilter      = "filter"
	FieldGeneration  = "generation"
	FieldOffset      = "offset"
	FieldLimit       = "limit"
	FieldRows        = "rows"
	FieldTotal       = "total"
	FieldAmountCents = "amount_cents"
	FieldTier        = "tier"
	FieldScope       = "scope"
	FieldEventKind   = "event_kind"
	FieldUserID      = "user_id"
	FieldDuration    = "duration_ms"
	FieldBackend     = "backend"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentStore       = "store"
	ComponentGateway     = "gateway"
	ComponentSummary     = "summary"
	ComponentBridge      = "bridge"
	ComponentSession     = "session"
	ComponentStorage     = "storage"
	ComponentPostgREST   = "postgrest"
	ComponentAMQP        = "amqp"
	ComponentRedis       = "redis"
	ComponentAttachments = "attachments"
	ComponentBackend     = "backend"
	ComponentCache       = "cache"
)

// Operations defines standard operation names
const (
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpQuery    = "query"
	OpLoadMore = "load_more"
	OpSummary  = "summary"
	OpRefresh  = "refresh"
	OpSignOut  = "sign_out"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds the error text; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithBill adds the identifying fields of a bill mutation.
func (f LogFields) WithBill(id string, amountCents int64) LogFields {
	f[FieldBillID] = id
	f[FieldAmountCents] = amountCents
	return f
}

// WithPage adds pagination fields.
func (f LogFields) WithPage(offset, limit, rows int) LogFields {
	f[FieldOffset] = offset
	f[FieldLimit] = limit
	f[FieldRows] = rows
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
