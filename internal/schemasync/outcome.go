package schemasync

// Outcome records what a document event led to. Skips are outcomes, not
// errors: nothing in this package fails the caller.
type Outcome int

const (
	// OutcomeIneligible means the document is not a query document or a
	// supported notebook.
	OutcomeIneligible Outcome = iota
	// OutcomeNoConnection means no connection metadata was found.
	OutcomeNoConnection
	// OutcomeInvalid means the connection does not name a cluster.
	OutcomeInvalid
	// OutcomeUnchanged means the connection equals the last one sent.
	OutcomeUnchanged
	// OutcomeFetchFailed means the schema fetch failed.
	OutcomeFetchFailed
	// OutcomeStale means a newer fetch for the document superseded this one.
	OutcomeStale
	// OutcomeClosed means the document was forgotten while fetching.
	OutcomeClosed
	// OutcomeStaged means the schema was staged and a flush triggered.
	OutcomeStaged
)

var outcomeNames = [...]string{
	OutcomeIneligible:   "ineligible",
	OutcomeNoConnection: "no_connection",
	OutcomeInvalid:      "invalid_connection",
	OutcomeUnchanged:    "unchanged",
	OutcomeFetchFailed:  "fetch_failed",
	OutcomeStale:        "stale",
	OutcomeClosed:       "closed",
	OutcomeStaged:       "staged",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// HostMode selects the delivery sink.
type HostMode string

const (
	// HostDesktop delivers through the companion language server process.
	HostDesktop HostMode = "desktop"
	// HostWeb delivers to the in-process language service.
	HostWeb HostMode = "web"
)
