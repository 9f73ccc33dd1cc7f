package worker

// configurationError signals invalid or contradictory load options.
type configurationError struct{ msg string }

func (e configurationError) Error() string { return e.msg }

// ErrConfiguration constructs a configurationError.
func ErrConfiguration(msg string) error { return configurationError{msg: msg} }

// IsConfiguration reports whether err indicates invalid load options.
func IsConfiguration(err error) bool {
	_, ok := err.(configurationError)
	return ok
}

// insufficientResourcesError signals that the device budget cannot satisfy
// the requested worker count. Fatal at load time.
type insufficientResourcesError struct{ msg string }

func (e insufficientResourcesError) Error() string { return e.msg }

// ErrInsufficientResources constructs an insufficientResourcesError.
func ErrInsufficientResources(msg string) error { return insufficientResourcesError{msg: msg} }

// IsInsufficientResources reports whether err indicates a capacity shortfall.
func IsInsufficientResources(err error) bool {
	_, ok := err.(insufficientResourcesError)
	return ok
}

// startupError signals that a worker process failed to become ready within
// the load timeout. Carries the underlying cause.
type startupError struct {
	msg   string
	cause error
}

func (e startupError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e startupError) Unwrap() error { return e.cause }

// ErrStartup constructs a startupError wrapping cause.
func ErrStartup(msg string, cause error) error { return startupError{msg: msg, cause: cause} }

// IsStartup reports whether err indicates a worker startup failure.
func IsStartup(err error) bool {
	_, ok := err.(startupError)
	return ok
}

// predictTimeoutError signals that no reply arrived within the predict
// timeout. The offending worker has been killed.
type predictTimeoutError struct{ msg string }

func (e predictTimeoutError) Error() string { return e.msg }

// ErrPredictTimeout constructs a predictTimeoutError.
func ErrPredictTimeout(msg string) error { return predictTimeoutError{msg: msg} }

// IsPredictTimeout reports whether err indicates a predict deadline overrun.
func IsPredictTimeout(err error) bool {
	_, ok := err.(predictTimeoutError)
	return ok
}

// crashedError signals an abrupt channel closure (the process exited).
// Carries a tail of the captured process diagnostics.
type crashedError struct {
	msg  string
	tail string
}

func (e crashedError) Error() string {
	if e.tail != "" {
		return e.msg + "; stderr tail: " + e.tail
	}
	return e.msg
}

// Diagnostics returns the captured stderr tail, if any.
func (e crashedError) Diagnostics() string { return e.tail }

// ErrCrashed constructs a crashedError with captured diagnostics.
func ErrCrashed(msg, tail string) error { return crashedError{msg: msg, tail: tail} }

// IsCrashed reports whether err indicates an unexpected worker exit
// (including the out-of-memory specialization).
func IsCrashed(err error) bool {
	switch err.(type) {
	case crashedError, oomError:
		return true
	}
	return false
}

// Diagnostics extracts the captured stderr tail from a crash-classified
// error, or "" for every other error.
func Diagnostics(err error) string {
	type diagnoser interface{ Diagnostics() string }
	if d, ok := err.(diagnoser); ok {
		return d.Diagnostics()
	}
	return ""
}

// oomError is a crash classified as out-of-memory via diagnostic-text
// matching, surfaced distinctly so callers can apply backoff policy.
type oomError struct{ crashedError }

// ErrOutOfMemory constructs an oomError.
func ErrOutOfMemory(msg, tail string) error {
	return oomError{crashedError{msg: msg, tail: tail}}
}

// IsOutOfMemory reports whether err is an out-of-memory classified crash.
func IsOutOfMemory(err error) bool {
	_, ok := err.(oomError)
	return ok
}

// unavailableError signals a send to a worker that is not Ready.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates the worker was not Ready.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

// poolEmptyError signals TryAcquire on an empty pool.
type poolEmptyError struct{}

func (poolEmptyError) Error() string { return "worker pool is empty" }

// ErrPoolEmpty is returned by Pool.TryAcquire when no unit is queued.
var ErrPoolEmpty = poolEmptyError{}

// IsPoolEmpty reports whether err indicates an empty pool.
func IsPoolEmpty(err error) bool {
	_, ok := err.(poolEmptyError)
	return ok
}

// applicationError carries a handler-raised failure delivered in a
// well-formed reply. The worker stays Ready; the unit is reusable.
type applicationError struct {
	code int
	msg  string
}

func (e applicationError) Error() string { return e.msg }

// Code returns the handler's status code.
func (e applicationError) Code() int { return e.code }

// ErrApplication constructs an applicationError from a reply.
func ErrApplication(code int, msg string) error { return applicationError{code: code, msg: msg} }

// IsApplication reports whether err is a handler-raised failure rather than
// a transport one.
func IsApplication(err error) bool {
	_, ok := err.(applicationError)
	return ok
}

// ApplicationCode extracts the handler status code, or 0.
func ApplicationCode(err error) int {
	if ae, ok := err.(applicationError); ok {
		return ae.code
	}
	return 0
}

// IsTransport reports whether err destroys the worker unit it occurred on.
// Application-level failures carried inside a well-formed reply are not
// transport errors and never reach this predicate.
func IsTransport(err error) bool {
	return IsPredictTimeout(err) || IsCrashed(err) || IsStartup(err)
}
