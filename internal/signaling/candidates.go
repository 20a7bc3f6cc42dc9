package signaling

import (
	"strings"

	"liveattend/pkg/types"
)

// IsUDPCandidate reports whether an ICE candidate line uses UDP transport.
// The line may carry the SDP "a=" prefix. Anything that does not parse as a
// candidate is treated as non-UDP.
// FUNCTIONAL DISCOVERY: the remote media endpoint only accepts UDP; TCP and
// relay-over-TCP candidates make it stall the negotiation
func IsUDPCandidate(line string) bool {
	line = strings.TrimPrefix(strings.TrimSpace(line), "a=")
	fields := strings.Fields(line)
	if len(fields) < 3 || !strings.HasPrefix(fields[0], "candidate:") {
		return false
	}
	return strings.EqualFold(fields[2], "udp")
}

// StripNonUDPCandidates removes non-UDP "a=candidate:" lines from an SDP
// body. Line endings (CRLF or LF) are preserved.
func StripNonUDPCandidates(sdp string) string {
	if !strings.Contains(sdp, "a=candidate:") {
		return sdp
	}

	sep := "\n"
	if strings.Contains(sdp, "\r\n") {
		sep = "\r\n"
	}

	lines := strings.Split(sdp, sep)
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "a=candidate:") && !IsUDPCandidate(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, sep)
}

// filterOffer returns offer with its SDP restricted to UDP candidates
func filterOffer(offer types.SessionDescription) types.SessionDescription {
	offer.SDP = StripNonUDPCandidates(offer.SDP)
	return offer
}
