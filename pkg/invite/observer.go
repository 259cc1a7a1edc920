package invite

// Observer is notified of lifecycle events. Implementations must be safe
// for concurrent use; candidate callbacks run on their own goroutines.
type Observer interface {
	InviteIssued()
	InviteRevoked()
	ClaimRecorded()
	CandidateAdmitted()
	CandidateRejected(reason string)
}

type nopObserver struct{}

func (nopObserver) InviteIssued()            {}
func (nopObserver) InviteRevoked()           {}
func (nopObserver) ClaimRecorded()           {}
func (nopObserver) CandidateAdmitted()       {}
func (nopObserver) CandidateRejected(string) {}
