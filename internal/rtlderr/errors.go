// Package rtlderr defines the loader's error taxonomy and the single
// diagnostic sink every package reports through. It follows the severity /
// category split the teacher's compiler front-end uses for compile
// diagnostics, narrowed to the four classes spec.md §7 names.
package rtlderr

import (
	"fmt"
	"log/slog"
	"os"
)

// Kind classifies a loader error the way spec.md §7 taxonomizes them.
type Kind int

const (
	// FatalStartup covers bad ELF, self-integrity failure, TCB allocation
	// failure, and failed mmap. Never surfaced to a caller: the process
	// aborts.
	FatalStartup Kind = iota
	// UnresolvedSymbol marks a non-weak symbol with no definition in the
	// global map. Per spec this is silently skipped, not fatal.
	UnresolvedSymbol
	// UnknownRelocation marks a relocation type Apply did not recognize
	// and that isn't one of the *_COPY types either.
	UnknownRelocation
	// DlopenFailure covers a dependency that could not be opened, parsed,
	// or relocated during a post-startup dlopen.
	DlopenFailure
)

func (k Kind) String() string {
	switch k {
	case FatalStartup:
		return "fatal startup error"
	case UnresolvedSymbol:
		return "unresolved symbol"
	case UnknownRelocation:
		return "unknown relocation"
	case DlopenFailure:
		return "dlopen failure"
	default:
		return "unknown error"
	}
}

// Error is the structured error value every rtld package returns or logs.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "dso.FromPath"
	Name string // object or symbol name involved, if any
	Err  error  // underlying cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Name, e.Err)
	case e.Name != "":
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Name)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for the given kind and operation.
func New(kind Kind, op, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}

// debugLogger is the process-wide sink for non-fatal diagnostics
// (UnresolvedSymbol, UnknownRelocation). It defaults to discarding
// everything below Warn; callers raise the level with SetDebug.
var debugLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// SetDebug toggles verbose (Debug-level) diagnostic logging, the structured
// equivalent of the teacher's VerboseMode flag.
func SetDebug(enabled bool) {
	level := slog.LevelWarn
	if enabled {
		level = slog.LevelDebug
	}
	debugLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// LogSkip records a non-fatal skip (unresolved symbol, unknown relocation)
// at debug level. It never returns an error — these kinds are, by design,
// not propagated to the caller.
func LogSkip(kind Kind, op, name string) {
	debugLogger.Debug(kind.String(), "op", op, "name", name)
}

// Abort prints a short diagnostic through the debug backend and terminates
// the process, matching spec.md §7's FatalStartup contract ("aborts the
// process without a shell").
func Abort(op string, err error) {
	fmt.Fprintf(os.Stderr, "rtld: fatal: %s: %v\n", op, err)
	os.Exit(1)
}
