package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrNegotiationInProgress is returned by CreateAndSetOffer while an earlier
// offer is still waiting for its answer. The connection remembers the request.
var ErrNegotiationInProgress = errors.New("negotiation in progress")

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOfferAndCreateAnswer handles a client-initiated negotiation.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// CreateAndSetOffer starts a server-initiated renegotiation.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer completes a server-initiated renegotiation.
	ApplyAnswer(webrtc.SessionDescription) error
	// PendingRenegotiation reports, and clears, an offer request refused with
	// ErrNegotiationInProgress.
	PendingRenegotiation() bool
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
