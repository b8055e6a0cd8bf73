package rmproto

// Capability is the (vcores, memoryMB) pair a container request is
// matched against (spec §4.2, §3).
type Capability struct {
	VCores   int32 `json:"vcores"`
	MemoryMB int32 `json:"memoryMB"`
}

// RegisterRequest registers the AM with the resource manager (spec §4.2
// start()).
type RegisterRequest struct {
	AppRunId string `json:"appRunId"`
	Host     string `json:"host"`
}

// RegisterResponse carries nothing back but acknowledgement today; kept
// as a distinct message so the wire contract can grow a field without
// breaking callers.
type RegisterResponse struct{}

// AddContainerRequestRequest enqueues a request for count containers of
// the given capability.
type AddContainerRequestRequest struct {
	Capability Capability `json:"capability"`
	Count      int32      `json:"count"`
}

// AddContainerRequestResponse returns the opaque request id used later to
// complete the request (spec §4.2: "work around a known bug where
// allocated requests are not forgotten by the client library").
type AddContainerRequestResponse struct {
	RequestId string `json:"requestId"`
}

// CompleteContainerRequestRequest retires a fully-matched request id.
type CompleteContainerRequestRequest struct {
	RequestId string `json:"requestId"`
}

// CompleteContainerRequestResponse is empty.
type CompleteContainerRequestResponse struct{}

// AllocateRequest drives one poll cycle (spec §4.2 allocate()).
type AllocateRequest struct {
	Progress float32 `json:"progress"`
}

// AcquiredContainer is one container matched against an outstanding
// request.
type AcquiredContainer struct {
	ContainerId string     `json:"containerId"`
	Host        string     `json:"host"`
	Capability  Capability `json:"capability"`
}

// CompletedContainer reports a container's exit.
type CompletedContainer struct {
	ContainerId string `json:"containerId"`
	ExitCode    int32  `json:"exitCode"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// AllocateResponse is the outcome of one poll cycle.
type AllocateResponse struct {
	Acquired  []AcquiredContainer   `json:"acquired,omitempty"`
	Completed []CompletedContainer  `json:"completed,omitempty"`
}

// SetTrackerRequest registers the AM's TrackerService URL (spec §4.2
// setTracker()).
type SetTrackerRequest struct {
	BindAddress string `json:"bindAddress"`
	URL         string `json:"url"`
}

// SetTrackerResponse is empty.
type SetTrackerResponse struct{}

// StopRequest deregisters the AM (spec §4.2 stop(), §4.8 step 9).
type StopRequest struct {
	FinalStatus string `json:"finalStatus"`
}

// StopResponse is empty.
type StopResponse struct{}
