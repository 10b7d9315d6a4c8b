package domain

// SignalKind классифицирует WebRTC-пейлоад; сервер его не интерпретирует.
type SignalKind string

const (
	SignalUnknown   SignalKind = ""
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

func (k SignalKind) String() string {
	if k == SignalUnknown {
		return "signal"
	}
	return string(k)
}
