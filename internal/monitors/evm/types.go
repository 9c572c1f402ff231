package evm

// State is the subscription state of a BalanceMonitor.
type State int32

const (
	StateIdle State = iota
	StateSubscribed
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// DispatchMode controls whether block handlers may overlap.
type DispatchMode string

const (
	// DispatchSerial handles block N+1 only after block N's handler returned.
	DispatchSerial DispatchMode = "serial"
	// DispatchConcurrent starts one handler goroutine per header.
	DispatchConcurrent DispatchMode = "concurrent"
)

type Options struct {
	Dispatch DispatchMode
	// QueryConcurrency bounds how many addresses are diffed at once.
	QueryConcurrency int
	HeaderBuffer     int
}

func (o Options) withDefaults() Options {
	if o.Dispatch != DispatchConcurrent {
		o.Dispatch = DispatchSerial
	}
	if o.QueryConcurrency <= 0 {
		o.QueryConcurrency = 8
	}
	if o.HeaderBuffer <= 0 {
		o.HeaderBuffer = 16
	}
	return o
}
