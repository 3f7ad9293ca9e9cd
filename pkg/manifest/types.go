package manifest

// HandlerType enumerates the supported handler kinds.
type HandlerType string

const (
	HandlerInproc HandlerType = "inproc"
)

// Ack modes for asynchronous routes.
const (
	AckDefault = ""       // 201, empty body
	AckHandler = "custom" // handler supplies its own acknowledgement
)
