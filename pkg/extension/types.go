package extension

// Type represents the functional category of an extension.
type Type string

const (
	// TypeExecutor extensions contribute action executors to the dispatcher.
	TypeExecutor Type = "executor"
	// TypeNotifier extensions contribute alert delivery channels.
	TypeNotifier Type = "notifier"
)

// Capability expresses optional features an extension may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	// CapabilityScene grants access to the host session and therefore the
	// ability to mutate the artist's scene.
	CapabilityScene Capability = "scene"
)

// Info contains descriptive metadata for an extension implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of an extension instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)

// Well-known resource keys the daemon exposes to extensions.
const (
	// ResourceExecutors holds the *invoke.ExecutorRegistry executor
	// extensions register themselves with during Start.
	ResourceExecutors = "invoke:executors"
	// ResourceHostSession holds the host.Session shared with extensions
	// granted the scene capability.
	ResourceHostSession = "host:session"
)
